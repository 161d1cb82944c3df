package app

// Version is set at build time with
// -ldflags "-X github.com/auralink/proactive/internal/app.Version=...".
var Version = "dev"
