package gpiows

import (
	"crypto/tls"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Options tunes client construction. The zero value is usable; zero fields
// fall back to package defaults.
type Options struct {
	// Logger receives structured diagnostics. Nil means slog.Default().
	Logger *slog.Logger

	// TLSConfig overrides the TLS settings used for wss endpoints. Nil means
	// standard certificate validation.
	TLSConfig *tls.Config

	// BufferCap bounds the number of retained inbound messages. When the cap
	// is exceeded the oldest messages are evicted first.
	BufferCap int

	// WriteTimeout bounds each frame write on the transport.
	WriteTimeout time.Duration

	// MessageTypes extends the accepted inbound type discriminators beyond
	// GpioMessage and GpioAck.
	MessageTypes []string
}

// Client is a GPIO WebSocket client. All exported methods are safe for
// concurrent use.
type Client struct {
	endpoint   Endpoint
	logger     *slog.Logger
	slot       *errorSlot
	buffer     *messageBuffer
	conn       *connManager
	dispatcher *dispatcher

	errorHandlerLock sync.Mutex
	errorHandlers    []func(ErrorRecord)
}

// NewClient builds a client for the given ws:// or wss:// URL. The endpoint
// is parsed once and reused across reconnect attempts.
func NewClient(rawURL string, options ...Options) (*Client, error) {
	endpoint, err := ParseEndpoint(rawURL)
	if err != nil {
		return nil, err
	}

	var opts Options
	if len(options) > 0 {
		opts = options[0]
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	writeTimeout := opts.WriteTimeout
	if writeTimeout == 0 {
		writeTimeout = defaultWriteTimeout
	}

	client := &Client{
		endpoint: endpoint,
		logger:   logger,
		slot:     newErrorSlot(),
		buffer:   newMessageBuffer(opts.BufferCap),
	}
	client.conn = newConnManager(endpoint, opts.TLSConfig, writeTimeout, client.slot, logger)
	client.dispatcher = newDispatcher(client.conn, client.buffer, client.slot, logger, opts.MessageTypes)
	client.slot.setObserver(client.notifyErrorHandlers)

	return client, nil
}

// NewClientFromConfig builds a client from a loaded configuration.
func NewClientFromConfig(cfg *ClientConfig, options ...Options) (*Client, error) {
	if cfg == nil {
		return nil, NewError(InvalidURIError, "nil config")
	}

	var opts Options
	if len(options) > 0 {
		opts = options[0]
	}
	if opts.BufferCap == 0 {
		opts.BufferCap = cfg.BufferCap
	}
	if opts.WriteTimeout == 0 {
		opts.WriteTimeout = cfg.WriteTimeout.Std()
	}
	opts.MessageTypes = append(opts.MessageTypes, cfg.MessageTypes...)

	return NewClient(cfg.URL, opts)
}

// Endpoint returns the parsed endpoint this client connects to.
func (client *Client) Endpoint() Endpoint {
	return client.endpoint
}

// Connect establishes the connection within timeout. An optional
// ReconnectPolicy enables transparent reconnection on unsolicited transport
// closes; omitting it disables reconnection. Connecting an already connected
// client is a no-op that returns success.
func (client *Client) Connect(timeout time.Duration, policy ...ReconnectPolicy) error {
	reconnect := ReconnectPolicy{}
	if len(policy) > 0 {
		reconnect = policy[0]
	}
	return client.conn.connect(timeout, reconnect)
}

// Disconnect closes the connection and stops any reconnect task in flight.
// Disconnecting an already disconnected client is a no-op.
func (client *Client) Disconnect() error {
	return client.conn.disconnect()
}

// IsConnected reports whether the client is currently connected. Never
// blocks.
func (client *Client) IsConnected() bool {
	return client.conn.isConnected()
}

// State returns the current connection lifecycle state.
func (client *Client) State() ConnectionState {
	return client.conn.currentState()
}

// Send encodes and sends one application message. Fails with
// NotConnectedError unless the client is connected; the message is never
// queued for later.
func (client *Client) Send(message OutboundMessage) error {
	return client.dispatcher.send(message)
}

// SendRaw sends pre-encoded bytes as one frame, bypassing the codec.
func (client *Client) SendRaw(data []byte) error {
	return client.dispatcher.sendRaw(data)
}

// SendRawString sends a pre-encoded string frame.
func (client *Client) SendRawString(data string) error {
	return client.dispatcher.sendRaw([]byte(data))
}

// SendGpio sends a GpioMessage with the given pin status ("high" or "low").
func (client *Client) SendGpio(status string, fields ...map[string]interface{}) error {
	payload := map[string]interface{}{"status": status}
	if len(fields) > 0 {
		for key, value := range fields[0] {
			payload[key] = value
		}
		payload["status"] = status
	}
	return client.Send(OutboundMessage{Type: TypeGpioMessage, Payload: payload})
}

// SendGpioHigh sends a GPIO high command.
func (client *Client) SendGpioHigh() error {
	return client.SendGpio(GpioStatusHigh)
}

// SendGpioLow sends a GPIO low command.
func (client *Client) SendGpioLow() error {
	return client.SendGpio(GpioStatusLow)
}

// OnMessage registers a handler for inbound messages of the given type tag.
// Handlers run synchronously on the receive goroutine in arrival order.
func (client *Client) OnMessage(messageType string, handler MessageHandler) {
	client.dispatcher.registerHandler(messageType, handler)
}

// OnError registers a handler invoked for every failure recorded by the
// client, surfaced or absorbed. Handlers may run from the receive or
// reconnect goroutines and must be thread-safe.
func (client *Client) OnError(handler func(ErrorRecord)) {
	if handler == nil {
		return
	}
	client.errorHandlerLock.Lock()
	client.errorHandlers = append(client.errorHandlers, handler)
	client.errorHandlerLock.Unlock()
}

func (client *Client) notifyErrorHandlers(record ErrorRecord) {
	client.errorHandlerLock.Lock()
	handlers := append([]func(ErrorRecord){}, client.errorHandlers...)
	client.errorHandlerLock.Unlock()

	for _, handler := range handlers {
		handler(record)
	}
}

// WaitForMessage blocks until a message with the given type tag arrives or
// timeout elapses. The matched message is consumed: it is removed from the
// buffer, as later waits for the same type should see later messages.
func (client *Client) WaitForMessage(messageType string, timeout time.Duration) (InboundMessage, error) {
	return client.waitFor(func(message InboundMessage) bool {
		return message.Type == messageType
	}, fmt.Sprintf("message %q", messageType), timeout)
}

// WaitForMessageWithPayload blocks until a message of the given type arrives
// whose payload contains every field of the filter with an equal value.
func (client *Client) WaitForMessageWithPayload(messageType string, payloadFilter map[string]interface{}, timeout time.Duration) (InboundMessage, error) {
	return client.waitFor(func(message InboundMessage) bool {
		if message.Type != messageType {
			return false
		}
		for key, want := range payloadFilter {
			if message.Payload[key] != want {
				return false
			}
		}
		return true
	}, fmt.Sprintf("message %q with payload %v", messageType, payloadFilter), timeout)
}

// WaitFor blocks until a message satisfying the predicate arrives or timeout
// elapses. description names the predicate in the timeout error.
func (client *Client) WaitFor(predicate func(InboundMessage) bool, description string, timeout time.Duration) (InboundMessage, error) {
	return client.waitFor(predicate, description, timeout)
}

func (client *Client) waitFor(predicate func(InboundMessage) bool, description string, timeout time.Duration) (InboundMessage, error) {
	message, err := client.buffer.waitFor(predicate, description, timeout)
	if err != nil {
		client.slot.report(err)
		return InboundMessage{}, err
	}
	return message, nil
}

// WaitForGpioStatus blocks until a GpioMessage with the expected pin status
// arrives.
func (client *Client) WaitForGpioStatus(status string, timeout time.Duration) (InboundMessage, error) {
	if status != GpioStatusHigh && status != GpioStatusLow {
		return InboundMessage{}, NewError(InvalidStatusError, "gpio status must be \"high\" or \"low\"")
	}
	return client.WaitForMessageWithPayload(TypeGpioMessage, map[string]interface{}{"status": status}, timeout)
}

// WaitForMessageCount blocks until at least n messages have arrived since the
// last ClearMessages, or timeout elapses.
func (client *Client) WaitForMessageCount(n int, timeout time.Duration) error {
	if err := client.buffer.waitForCount(n, timeout); err != nil {
		client.slot.report(err)
		return err
	}
	return nil
}

// Messages returns the retained inbound messages in arrival order.
func (client *Client) Messages() []InboundMessage {
	return client.buffer.snapshot()
}

// MessagesByType returns the retained inbound messages of one type tag, in
// arrival order.
func (client *Client) MessagesByType(messageType string) []InboundMessage {
	return client.buffer.snapshotByType(messageType)
}

// GpioMessages returns the retained GpioMessage entries.
func (client *Client) GpioMessages() []InboundMessage {
	return client.buffer.snapshotByType(TypeGpioMessage)
}

// MessageCount returns the number of currently retained messages.
func (client *Client) MessageCount() int {
	return client.buffer.count()
}

// ClearMessages drops all retained messages. Arrival indices keep increasing
// from where they were.
func (client *Client) ClearMessages() {
	client.buffer.clear()
}

// LastError returns the most recent recorded failure, if any.
func (client *Client) LastError() (ErrorRecord, bool) {
	return client.slot.last()
}

// ClearLastError empties the error slot.
func (client *Client) ClearLastError() {
	client.slot.clear()
}

// Cleanup releases all resources: closes the transport, stops the receive
// and reconnect goroutines, wakes and abandons all waiters, clears the
// buffer, drops handlers, and resets the error slot. The client must not be
// used afterwards.
func (client *Client) Cleanup() error {
	err := client.conn.disconnect()
	client.buffer.close()
	client.buffer.clear()
	client.dispatcher.clearHandlers()
	client.errorHandlerLock.Lock()
	client.errorHandlers = nil
	client.errorHandlerLock.Unlock()
	client.slot.clear()
	return err
}
