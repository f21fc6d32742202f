package gpiows

import (
	"log/slog"
	"sync"
	"time"
)

// MessageHandler is invoked for each inbound message of a registered type.
// Handlers run synchronously on the receive goroutine, in arrival order; a
// slow handler delays subsequent inbound dispatch but never outbound sends.
type MessageHandler func(message InboundMessage)

// dispatcher serializes outbound messages onto the transport and
// demultiplexes inbound frames into the buffer and the registered handlers.
type dispatcher struct {
	conn   *connManager
	buffer *messageBuffer
	slot   *errorSlot
	logger *slog.Logger

	// sendLock is the single write path: concurrent Send calls are admitted
	// first-come-first-served and never reordered once accepted.
	sendLock sync.Mutex

	handlerLock sync.RWMutex
	handlers    map[string][]MessageHandler
	knownTypes  map[string]struct{}
}

func newDispatcher(conn *connManager, buffer *messageBuffer, slot *errorSlot, logger *slog.Logger, extraTypes []string) *dispatcher {
	knownTypes := map[string]struct{}{
		TypeGpioMessage: {},
		TypeGpioAck:     {},
	}
	for _, messageType := range extraTypes {
		if messageType != "" {
			knownTypes[messageType] = struct{}{}
		}
	}

	d := &dispatcher{
		conn:       conn,
		buffer:     buffer,
		slot:       slot,
		logger:     logger,
		handlers:   make(map[string][]MessageHandler),
		knownTypes: knownTypes,
	}
	conn.onFrame = d.onFrame
	return d
}

// send encodes one outbound message and writes it whole to the transport.
// Requires the Connected state; a send against anything else fails
// immediately and queues nothing.
func (d *dispatcher) send(message OutboundMessage) error {
	if !d.conn.isConnected() {
		err := NewError(NotConnectedError, "client is not connected while trying to send data")
		d.slot.report(err)
		return err
	}

	data, err := encodeMessage(message)
	if err != nil {
		d.slot.report(err)
		return err
	}

	return d.sendRaw(data)
}

// sendRaw writes pre-encoded bytes as a single frame, bypassing the codec.
func (d *dispatcher) sendRaw(data []byte) error {
	if !d.conn.isConnected() {
		err := NewError(NotConnectedError, "client is not connected while trying to send data")
		d.slot.report(err)
		return err
	}

	d.sendLock.Lock()
	err := d.conn.writeFrame(data)
	d.sendLock.Unlock()

	if err != nil {
		d.slot.report(err)
	}
	return err
}

// onFrame runs on the receive goroutine for every inbound frame in wire
// order. A frame that fails to decode is recorded and dropped; the connection
// and all subsequent frames survive.
func (d *dispatcher) onFrame(data []byte, receivedAt time.Time) {
	d.handlerLock.RLock()
	wire, err := decodeFrame(data, d.knownTypes)
	d.handlerLock.RUnlock()
	if err != nil {
		d.slot.report(err)
		d.logger.Warn("dropping undecodable frame", "error", err)
		return
	}

	message := d.buffer.append(wire, receivedAt)

	d.handlerLock.RLock()
	handlers := d.handlers[message.Type]
	d.handlerLock.RUnlock()
	for _, handler := range handlers {
		handler(message)
	}
}

// registerHandler adds a typed handler and marks the type as known so frames
// carrying it pass decode validation.
func (d *dispatcher) registerHandler(messageType string, handler MessageHandler) {
	if messageType == "" || handler == nil {
		return
	}
	d.handlerLock.Lock()
	d.handlers[messageType] = append(d.handlers[messageType], handler)
	d.knownTypes[messageType] = struct{}{}
	d.handlerLock.Unlock()
}

func (d *dispatcher) clearHandlers() {
	d.handlerLock.Lock()
	d.handlers = make(map[string][]MessageHandler)
	d.handlerLock.Unlock()
}
