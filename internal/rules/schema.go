package rules

import "github.com/auralink/proactive/internal/datastore/entities"

// Schema describes the trigger types, operators and channels a rule may use,
// for clients that build rules.
type Schema struct {
	Triggers  []TriggerSchema    `json:"triggers"`
	Operators []OperatorSchema   `json:"operators"`
	Logic     []entities.Logic   `json:"logic"`
	Channels  []entities.Channel `json:"channels"`
}

// TriggerSchema describes one trigger variant and the fields it reads.
type TriggerSchema struct {
	Type   entities.TriggerType `json:"type"`
	Label  string               `json:"label"`
	Fields []FieldSchema        `json:"fields"`
}

// FieldSchema describes a trigger field.
type FieldSchema struct {
	Name     string `json:"name"`
	Type     string `json:"type"` // "path", "operator", "any", "logic", "triggers", "hour_range", "days", "bands"
	Required bool   `json:"required"`
}

// OperatorSchema describes a simple-trigger operator. Value is the expected
// shape of the comparison value.
type OperatorSchema struct {
	Name  entities.Operator `json:"name"`
	Label string            `json:"label"`
	Value string            `json:"value"` // "number", "string", "any" or "range"
}

var operatorSchemas = []OperatorSchema{
	{Name: entities.OpLess, Label: "less than", Value: "number"},
	{Name: entities.OpLessEqual, Label: "at most", Value: "number"},
	{Name: entities.OpGreater, Label: "greater than", Value: "number"},
	{Name: entities.OpGreaterEqual, Label: "at least", Value: "number"},
	{Name: entities.OpEqual, Label: "equals", Value: "any"},
	{Name: entities.OpNotEqual, Label: "does not equal", Value: "any"},
	{Name: entities.OpContains, Label: "contains", Value: "string"},
	{Name: entities.OpBetween, Label: "between", Value: "range"},
}

// GetSchema returns the rule authoring catalog.
func GetSchema() Schema {
	return Schema{
		Triggers: []TriggerSchema{
			{
				Type:  entities.TriggerSimple,
				Label: "Sensor comparison",
				Fields: []FieldSchema{
					{Name: "sensor_path", Type: "path", Required: true},
					{Name: "operator", Type: "operator", Required: true},
					{Name: "value", Type: "any", Required: true},
				},
			},
			{
				Type:  entities.TriggerCompound,
				Label: "All or any of several conditions",
				Fields: []FieldSchema{
					{Name: "logic", Type: "logic", Required: true},
					{Name: "conditions", Type: "triggers", Required: true},
				},
			},
			{
				Type:  entities.TriggerTime,
				Label: "Time of day",
				Fields: []FieldSchema{
					{Name: "hour_range", Type: "hour_range"},
					{Name: "days_of_week", Type: "days"},
				},
			},
			{
				Type:  entities.TriggerThreshold,
				Label: "Value inside a band",
				Fields: []FieldSchema{
					{Name: "sensor_path", Type: "path", Required: true},
					{Name: "bands", Type: "bands", Required: true},
				},
			},
		},
		Operators: append([]OperatorSchema(nil), operatorSchemas...),
		Logic:     []entities.Logic{entities.LogicAnd, entities.LogicOr},
		Channels: []entities.Channel{
			entities.ChannelInApp,
			entities.ChannelWebPush,
			entities.ChannelSMS,
			entities.ChannelWhatsApp,
		},
	}
}
