package rules

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/auralink/proactive/internal/datastore/entities"
)

func TestGetSchema_OperatorsAreEvaluable(t *testing.T) {
	t.Parallel()

	values := map[string]any{
		"number": 10.0,
		"string": "rain",
		"any":    10.0,
		"range":  []any{0.0, 20.0},
	}
	engine := NewEngine(nil)
	rctx := NewContext(map[string]any{"weather": map[string]any{"temperature": 10.0, "summary": "light rain"}},
		nil, nil, time.Now())

	for _, op := range GetSchema().Operators {
		t.Run(string(op.Name), func(t *testing.T) {
			t.Parallel()
			value, ok := values[op.Value]
			require.True(t, ok, "unknown value shape %q", op.Value)

			path := "weather.temperature"
			if op.Value == "string" {
				path = "weather.summary"
			}
			rule := &entities.BehaviorRule{
				ID:      1,
				Enabled: true,
				Trigger: entities.Trigger{Type: entities.TriggerSimple, SensorPath: path, Operator: op.Name, Value: value},
				Action:  entities.RuleAction{DefaultMessage: "x", Channels: []entities.Channel{entities.ChannelInApp}},
			}
			res := engine.EvaluateRule(rule, rctx)
			assert.NoError(t, res.Err)
			assert.NotEqual(t, ReasonError, res.Reason)
		})
	}
}

func TestGetSchema_CoversEveryTriggerType(t *testing.T) {
	t.Parallel()

	var types []entities.TriggerType
	for _, tr := range GetSchema().Triggers {
		types = append(types, tr.Type)
		assert.NotEmpty(t, tr.Label)
	}
	assert.ElementsMatch(t, []entities.TriggerType{
		entities.TriggerSimple, entities.TriggerCompound, entities.TriggerTime, entities.TriggerThreshold,
	}, types)
}
