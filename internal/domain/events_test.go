package domain

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewOutboxMessage(t *testing.T) {
	msg, err := NewOutboxMessage(AggregateOrder, 42, OutboxEventOrderConfirmed, map[string]any{"quantity": 2})
	require.NoError(t, err)
	require.Equal(t, AggregateOrder, msg.AggregateType)
	require.Equal(t, "42", msg.AggregateID)
	require.Equal(t, OutboxEventOrderConfirmed, msg.EventType)

	var payload map[string]any
	require.NoError(t, json.Unmarshal(msg.Payload, &payload))
	require.EqualValues(t, 42, payload["order_id"])
	require.EqualValues(t, 2, payload["quantity"])
	require.NotEmpty(t, payload["ts"])
}

func TestNewOutboxMessage_NilPayload(t *testing.T) {
	msg, err := NewOutboxMessage(AggregateProduct, 7, OutboxEventTopMarketChanged, nil)
	require.NoError(t, err)

	var payload map[string]any
	require.NoError(t, json.Unmarshal(msg.Payload, &payload))
	require.EqualValues(t, 7, payload["product_id"])
}

func TestNewOutboxMessage_UnencodablePayload(t *testing.T) {
	_, err := NewOutboxMessage(AggregateOrder, 1, OutboxEventOrderCreated, map[string]any{"bad": make(chan int)})
	require.Error(t, err)
}

func TestNewTopMarketChangedMessage(t *testing.T) {
	msg, err := NewTopMarketChangedMessage(Product{ID: 5, Name: "Mango", Stock: 9})
	require.NoError(t, err)
	require.Equal(t, AggregateProduct, msg.AggregateType)
	require.Equal(t, OutboxEventTopMarketChanged, msg.EventType)
	require.JSONEq(t, `"Mango"`, mustField(t, msg.Payload, "name"))
	require.JSONEq(t, `9`, mustField(t, msg.Payload, "stock"))
}

func mustField(t *testing.T, payload []byte, key string) string {
	t.Helper()
	var fields map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(payload, &fields))
	raw, ok := fields[key]
	require.True(t, ok, "missing field %s", key)
	return string(raw)
}
