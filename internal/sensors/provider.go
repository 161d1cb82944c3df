// Package sensors supplies the latest sense readings to rule evaluation.
package sensors

import (
	"context"
	"time"
)

// SenseReading is the latest payload reported for one sense.
type SenseReading struct {
	SenseID   string         `json:"sense_id"`
	Data      map[string]any `json:"data"`
	Timestamp time.Time      `json:"timestamp"`
}

// Provider fetches readings. Senses without a current reading are omitted
// from the result rather than reported as errors.
type Provider interface {
	GetSenseData(ctx context.Context, senseIDs []string) ([]SenseReading, error)
}

// ToSenseData keys reading payloads by sense id.
func ToSenseData(readings []SenseReading) map[string]any {
	out := make(map[string]any, len(readings))
	for _, r := range readings {
		out[r.SenseID] = r.Data
	}
	return out
}
