package gpiows

import (
	"time"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
)

// Message type tags from the Phobos GPIO interface API schema.
const (
	TypeGpioMessage = "GpioMessage"
	TypeGpioAck     = "GpioAck"
)

// GPIO pin status values allowed on the wire.
const (
	GpioStatusHigh = "high"
	GpioStatusLow  = "low"
)

// OutboundMessage is one application message to be framed and sent. It exists
// only for the duration of a Send call. CorrelationID is optional; when left
// empty a random one is assigned during encoding.
type OutboundMessage struct {
	Type          string
	Payload       map[string]interface{}
	CorrelationID string
}

// InboundMessage is one decoded frame received from the server. Index is the
// arrival index: strictly increasing in wire receipt order, never reset while
// the client lives.
type InboundMessage struct {
	Type          string
	Payload       map[string]interface{}
	CorrelationID string
	ReceivedAt    time.Time
	Index         uint64
}

type wireMessage struct {
	Type          string                 `json:"type"`
	Payload       map[string]interface{} `json:"payload"`
	CorrelationID string                 `json:"correlation_id,omitempty"`
}

// validGpioStatus reports whether a payload status field holds an allowed
// enum value. A missing status field is tolerated; a present one must match.
func validGpioStatus(payload map[string]interface{}) bool {
	raw, present := payload["status"]
	if !present {
		return true
	}
	status, isString := raw.(string)
	if !isString {
		return false
	}
	return status == GpioStatusHigh || status == GpioStatusLow
}

func encodeMessage(message OutboundMessage) ([]byte, error) {
	if message.Type == "" {
		return nil, NewError(EncodeError, "message type must not be empty")
	}
	if message.Type == TypeGpioMessage && !validGpioStatus(message.Payload) {
		return nil, NewError(InvalidStatusError, "gpio status must be \"high\" or \"low\"")
	}

	wire := wireMessage{
		Type:          message.Type,
		Payload:       message.Payload,
		CorrelationID: message.CorrelationID,
	}
	if wire.CorrelationID == "" {
		wire.CorrelationID = uuid.NewString()
	}
	if wire.Payload == nil {
		wire.Payload = map[string]interface{}{}
	}

	data, err := sonic.ConfigFastest.Marshal(wire)
	if err != nil {
		return nil, NewError(EncodeError, err)
	}
	return data, nil
}

// decodeFrame turns one raw frame into a wire message. knownTypes gates the
// type discriminator: a frame carrying an unregistered type is a decode
// failure, mirroring the schema-driven validation of the generated clients.
func decodeFrame(data []byte, knownTypes map[string]struct{}) (wireMessage, error) {
	var wire wireMessage
	if err := sonic.ConfigFastest.Unmarshal(data, &wire); err != nil {
		return wireMessage{}, NewError(DecodeError, err)
	}

	if wire.Type == "" {
		return wireMessage{}, NewError(DecodeError, "frame is missing the type discriminator")
	}
	if _, known := knownTypes[wire.Type]; !known {
		return wireMessage{}, NewError(DecodeError, "unknown message type "+wire.Type)
	}
	if (wire.Type == TypeGpioMessage || wire.Type == TypeGpioAck) && !validGpioStatus(wire.Payload) {
		return wireMessage{}, NewError(DecodeError, "gpio status out of enum range")
	}

	return wire, nil
}
