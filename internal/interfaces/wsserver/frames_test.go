package wsserver_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chat-platform/services/chat-api/internal/interfaces/wsserver"
)

func TestParseInbound(t *testing.T) {
	frame, err := wsserver.ParseInbound([]byte(`{"action":"send","data":{"conversationId":"conv_1","content":"hi"}}`))
	require.NoError(t, err)
	assert.Equal(t, wsserver.ActionSend, frame.Action)

	var payload wsserver.SendPayload
	require.NoError(t, json.Unmarshal(frame.Data, &payload))
	assert.Equal(t, "conv_1", payload.ConversationID)
	assert.Equal(t, "hi", payload.Content)
}

func TestParseInboundRejectsMalformedJSON(t *testing.T) {
	_, err := wsserver.ParseInbound([]byte(`{"action":`))
	assert.Error(t, err)
}

func TestParseInboundRejectsMissingAction(t *testing.T) {
	_, err := wsserver.ParseInbound([]byte(`{"data":{}}`))
	assert.Error(t, err)
}

func TestOutboundFrameShape(t *testing.T) {
	raw, err := json.Marshal(wsserver.SuccessFrame("start", map[string]any{"conversation_id": "conv_1"}))
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"start","success":true,"data":{"conversation_id":"conv_1"}}`, string(raw))

	raw, err = json.Marshal(wsserver.ErrorFrame("error", "bad frame"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"error","success":false,"error":"bad frame"}`, string(raw))
}
