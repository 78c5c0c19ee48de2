package entities

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTriggeredAlertJSONKeys(t *testing.T) {
	t.Parallel()

	sent := time.Date(2026, 1, 1, 0, 0, 5, 0, time.UTC)
	alert := TriggeredAlert{
		ID:          7,
		UserID:      "user-1",
		RuleID:      3,
		Parameter:   "soil-moisture-pct",
		Comparison:  "<",
		Threshold:   30,
		ActualValue: 23.98,
		DeviceID:    "dev-1",
		Origin:      OriginAuto,
		CreatedAt:   time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		Deliveries: []AlertDelivery{
			{ID: 1, TriggeredAlertID: 7, Channel: ChannelSMS, Destination: "+15550100", Status: DeliverySent, SentAt: &sent},
		},
	}

	data, err := json.Marshal(alert)
	require.NoError(t, err)

	var m map[string]any
	require.NoError(t, json.Unmarshal(data, &m))

	for _, key := range []string{
		"id", "user_id", "rule_id", "parameter", "comparison", "threshold",
		"actual_value", "device_id", "origin", "critical", "seen", "created_at", "deliveries",
	} {
		assert.Contains(t, m, key)
	}

	deliveries, ok := m["deliveries"].([]any)
	require.True(t, ok)
	require.Len(t, deliveries, 1)
	d, ok := deliveries[0].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "sent", d["status"])
	assert.NotContains(t, d, "error", "empty error is omitted")
}

func TestAlertRule_AppliesTo(t *testing.T) {
	t.Parallel()

	unscoped := AlertRule{}
	assert.True(t, unscoped.AppliesTo("any-device"))

	scoped := AlertRule{DeviceID: "dev-1"}
	assert.True(t, scoped.AppliesTo("dev-1"))
	assert.False(t, scoped.AppliesTo("dev-2"))
}
