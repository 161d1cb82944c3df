package rules

import "time"

// TimeOfDay is a coarse bucket of the local hour.
type TimeOfDay string

const (
	Morning   TimeOfDay = "morning"
	Afternoon TimeOfDay = "afternoon"
	Evening   TimeOfDay = "evening"
)

// TimeOfDayFor buckets an hour: before 12 is morning, before 18 afternoon,
// anything later evening.
func TimeOfDayFor(hour int) TimeOfDay {
	switch {
	case hour < 12:
		return Morning
	case hour < 18:
		return Afternoon
	default:
		return Evening
	}
}

// Context is the input to rule evaluation. It is built fresh for each
// evaluation and never persisted. SenseData maps sense id to the latest
// reading payload for that sense.
type Context struct {
	SenseData     map[string]any
	Personality   map[string]any
	TimeOfDay     TimeOfDay
	DayOfWeek     time.Weekday
	Hour          int
	Now           time.Time
	LastTriggered map[uint]time.Time
}

// NewContext builds a Context for now. Nil maps are replaced with empty ones.
func NewContext(senseData, personality map[string]any, lastTriggered map[uint]time.Time, now time.Time) *Context {
	if senseData == nil {
		senseData = map[string]any{}
	}
	if personality == nil {
		personality = map[string]any{}
	}
	if lastTriggered == nil {
		lastTriggered = map[uint]time.Time{}
	}
	return &Context{
		SenseData:     senseData,
		Personality:   personality,
		TimeOfDay:     TimeOfDayFor(now.Hour()),
		DayOfWeek:     now.Weekday(),
		Hour:          now.Hour(),
		Now:           now,
		LastTriggered: lastTriggered,
	}
}

// templateRoot exposes the context to message placeholders.
func (c *Context) templateRoot() map[string]any {
	return map[string]any{
		"senseData":   c.SenseData,
		"personality": c.Personality,
		"timeOfDay":   string(c.TimeOfDay),
		"dayOfWeek":   c.DayOfWeek.String(),
		"hour":        c.Hour,
	}
}
