package cli

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yeremiapane/tablesync/services"
)

func TestAuditHandler(t *testing.T) {
	event := services.OrderEvent{
		Type:        services.OrderEventFailed,
		OrderID:     42,
		TableNumber: "T3",
		Status:      "failed",
		Total:       13.8,
		Lines:       3,
		Reason:      "pos timeout",
		OccurredAt:  time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC),
	}

	var out bytes.Buffer
	require.NoError(t, auditHandler(&out, false)(event))
	assert.Equal(t, "2026-03-14T12:00:00Z order.failed     order=42 table=T3 status=failed total=13.80 lines=3 reason=pos timeout\n", out.String())

	out.Reset()
	require.NoError(t, auditHandler(&out, true)(event))
	assert.Contains(t, out.String(), `"order_id":42`)

	assert.Error(t, auditHandler(&out, false)(services.OrderEvent{Type: "order.confirmed"}))
}
