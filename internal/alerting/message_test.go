package alerting

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/fieldsense/alertd/internal/datastore/entities"
)

func TestRenderMessage(t *testing.T) {
	t.Parallel()

	rule := soilRule(1, "u1")
	rule.Name = "Greenhouse <north>"

	msg := RenderMessage(&rule, 23.98, "dev-1", entities.OriginAuto, baseTime)
	assert.Equal(t, "Soil Moisture alert: 23.98%", msg.Title)
	assert.False(t, msg.Critical)
	assert.Contains(t, msg.HTML, "&lt;north&gt;", "rule names are escaped")
	assert.Contains(t, msg.HTML, "<p>Soil Moisture on device dev-1")
	assert.Contains(t, msg.Text, "Soil Moisture on device dev-1 is 23.98%, which is below the threshold of 25%.")
	assert.Contains(t, msg.Text, "2026-05-04T06:00:00Z")
	assert.NotContains(t, msg.Text, "<p>")
}

func TestRenderMessage_CriticalAndTest(t *testing.T) {
	t.Parallel()

	rule := soilRule(1, "u1")
	rule.Critical = true
	rule.Parameter = "co2"
	rule.Comparison = "greater_or_equal"
	rule.Threshold = 1000

	msg := RenderMessage(&rule, 1500, "dev-9", entities.OriginAuto, baseTime)
	assert.Equal(t, "CRITICAL CO2 alert: 1500ppm", msg.Title)
	assert.True(t, msg.Critical)
	assert.Contains(t, msg.Text, "CRITICAL:")
	assert.Contains(t, msg.Text, "at or above the threshold of 1000ppm")

	msg = RenderMessage(&rule, 1500, "dev-9", entities.OriginTest, baseTime)
	assert.Equal(t, "[TEST] CRITICAL CO2 alert: 1500ppm", msg.Title)
	assert.Contains(t, msg.Text, "[TEST]")
}

func TestRenderMessage_NormalizesParameterAndRoundsValues(t *testing.T) {
	t.Parallel()

	rule := soilRule(1, "u1")
	rule.Parameter = "soil_moisture_pct"
	rule.Threshold = 25.5

	msg := RenderMessage(&rule, 23.978021978021978, "dev-1", entities.OriginAuto, baseTime)
	assert.Equal(t, "Soil Moisture alert: 23.98%", msg.Title)
	assert.Contains(t, msg.Text, "is 23.98%, which is below the threshold of 25.5%.")

	assert.Equal(t, "1500", formatValue(1500))
	assert.Equal(t, "0.1", formatValue(0.1000000001))
	assert.Equal(t, "-3.46", formatValue(-3.456))
}
