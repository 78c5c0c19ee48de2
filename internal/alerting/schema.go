package alerting

import (
	"github.com/fieldsense/alertd/internal/datastore/entities"
	"github.com/fieldsense/alertd/internal/telemetry"
)

// Schema describes the alertable parameters, operators and channels.
type Schema struct {
	Parameters []ParameterSchema `json:"parameters"`
	Operators  []OperatorSchema  `json:"operators"`
	Channels   []ChannelSchema   `json:"channels"`
}

// ParameterSchema describes one telemetry parameter.
type ParameterSchema struct {
	Name  string `json:"name"`
	Label string `json:"label"`
	Unit  string `json:"unit"`
	// Cooldown is the effective cooldown window in seconds.
	Cooldown float64 `json:"cooldownSeconds"`
}

// OperatorSchema describes an operator for the UI.
type OperatorSchema struct {
	Name    string   `json:"name"`
	Label   string   `json:"label"`
	Aliases []string `json:"aliases,omitempty"`
}

// ChannelSchema describes a notification channel.
type ChannelSchema struct {
	Name       string `json:"name"`
	Label      string `json:"label"`
	Configured bool   `json:"configured"`
}

// GetSchema returns the alerting schema for rule editors. configured lists
// the channels with a registered sender.
func GetSchema(windows Windows, configured []string) Schema {
	params := telemetry.Parameters()
	schema := Schema{
		Parameters: make([]ParameterSchema, 0, len(params)),
		Operators: []OperatorSchema{
			{Name: OperatorGreaterThan, Label: "greater than", Aliases: []string{OperatorNameGreaterThan}},
			{Name: OperatorLessThan, Label: "less than", Aliases: []string{OperatorNameLessThan}},
			{Name: OperatorGreaterOrEqual, Label: "greater or equal", Aliases: []string{OperatorNameGreaterOrEqual}},
			{Name: OperatorLessOrEqual, Label: "less or equal", Aliases: []string{OperatorNameLessOrEqual}},
		},
	}
	for _, p := range params {
		schema.Parameters = append(schema.Parameters, ParameterSchema{
			Name:     p.String(),
			Label:    titleCaser.String(p.Label()),
			Unit:     p.Unit(),
			Cooldown: windows.CooldownFor(p).Seconds(),
		})
	}

	set := make(map[string]bool, len(configured))
	for _, c := range configured {
		set[c] = true
	}
	schema.Channels = []ChannelSchema{
		{Name: entities.ChannelEmail, Label: "Email", Configured: set[entities.ChannelEmail]},
		{Name: entities.ChannelSMS, Label: "SMS", Configured: set[entities.ChannelSMS]},
	}
	return schema
}
