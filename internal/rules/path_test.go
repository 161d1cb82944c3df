package rules

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLookup(t *testing.T) {
	t.Parallel()

	data := map[string]any{
		"weather": map[string]any{
			"temperature": 12.5,
			"hourly":      []any{map[string]any{"rain": 0.2}},
			"alerts":      nil,
		},
		"typed": map[string]float64{"co2": 800},
		"list":  []string{"a", "b"},
	}

	tests := []struct {
		path string
		want any
		ok   bool
	}{
		{"weather.temperature", 12.5, true},
		{"weather.hourly.0.rain", 0.2, true},
		{"typed.co2", 800.0, true},
		{"list.1", "b", true},
		{"weather.humidity", nil, false},
		{"weather.hourly.3.rain", nil, false},
		{"weather.temperature.value", nil, false},
		{"weather.alerts", nil, false},
		{"weather..temperature", nil, false},
		{"", nil, false},
	}
	for _, tt := range tests {
		got, ok := Lookup(data, tt.path)
		assert.Equal(t, tt.ok, ok, tt.path)
		assert.Equal(t, tt.want, got, tt.path)
	}
}
