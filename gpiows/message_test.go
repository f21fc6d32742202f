package gpiows

import (
	"testing"

	"github.com/bytedance/sonic"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testKnownTypes = map[string]struct{}{
	TypeGpioMessage: {},
	TypeGpioAck:     {},
}

func TestEncodeMessageAssignsCorrelationID(t *testing.T) {
	data, err := encodeMessage(OutboundMessage{
		Type:    TypeGpioMessage,
		Payload: map[string]interface{}{"status": GpioStatusHigh},
	})
	require.NoError(t, err)

	var wire wireMessage
	require.NoError(t, sonic.Unmarshal(data, &wire))
	assert.Equal(t, TypeGpioMessage, wire.Type)
	assert.NotEmpty(t, wire.CorrelationID, "a correlation id is assigned when the caller supplies none")
}

func TestEncodeMessagePreservesCallerCorrelationID(t *testing.T) {
	data, err := encodeMessage(OutboundMessage{
		Type:          TypeGpioMessage,
		Payload:       map[string]interface{}{"status": GpioStatusLow},
		CorrelationID: "caller-7",
	})
	require.NoError(t, err)

	var wire wireMessage
	require.NoError(t, sonic.Unmarshal(data, &wire))
	assert.Equal(t, "caller-7", wire.CorrelationID)
}

func TestEncodeMessageRejectsEmptyType(t *testing.T) {
	_, err := encodeMessage(OutboundMessage{Payload: map[string]interface{}{}})
	require.Error(t, err)
	assert.Equal(t, EncodeError, KindOf(err))
}

func TestEncodeMessageRejectsBadGpioStatus(t *testing.T) {
	_, err := encodeMessage(OutboundMessage{
		Type:    TypeGpioMessage,
		Payload: map[string]interface{}{"status": "sideways"},
	})
	require.Error(t, err)
	assert.Equal(t, InvalidStatusError, KindOf(err))
}

func TestDecodeFrameRoundTrip(t *testing.T) {
	data, err := encodeMessage(OutboundMessage{
		Type:          TypeGpioAck,
		Payload:       map[string]interface{}{"status": GpioStatusHigh, "seq": 4},
		CorrelationID: "corr-4",
	})
	require.NoError(t, err)

	wire, err := decodeFrame(data, testKnownTypes)
	require.NoError(t, err)
	assert.Equal(t, TypeGpioAck, wire.Type)
	assert.Equal(t, "corr-4", wire.CorrelationID)
	assert.Equal(t, GpioStatusHigh, wire.Payload["status"])
}

func TestDecodeFrameRejectsMalformedJSON(t *testing.T) {
	_, err := decodeFrame([]byte("{not json"), testKnownTypes)
	require.Error(t, err)
	assert.Equal(t, DecodeError, KindOf(err))
}

func TestDecodeFrameRejectsMissingType(t *testing.T) {
	_, err := decodeFrame([]byte(`{"payload":{"status":"high"}}`), testKnownTypes)
	require.Error(t, err)
	assert.Equal(t, DecodeError, KindOf(err))
}

func TestDecodeFrameRejectsUnknownType(t *testing.T) {
	_, err := decodeFrame([]byte(`{"type":"Mystery","payload":{}}`), testKnownTypes)
	require.Error(t, err)
	assert.Equal(t, DecodeError, KindOf(err))
}

func TestDecodeFrameRejectsOutOfEnumStatus(t *testing.T) {
	_, err := decodeFrame([]byte(`{"type":"GpioMessage","payload":{"status":"banana"}}`), testKnownTypes)
	require.Error(t, err)
	assert.Equal(t, DecodeError, KindOf(err))
}

func TestDecodeFrameToleratesMissingStatusField(t *testing.T) {
	wire, err := decodeFrame([]byte(`{"type":"GpioMessage","payload":{"pin":3}}`), testKnownTypes)
	require.NoError(t, err)
	assert.Equal(t, float64(3), wire.Payload["pin"])
}
