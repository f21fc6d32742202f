package gpiows

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// transport owns exactly one live WebSocket connection. It serializes frame
// writes, runs the receive loop, and classifies low-level dial failures into
// client error kinds. Lifecycle decisions (reconnect, state) belong to the
// connection manager above it.
type transport struct {
	conn         *websocket.Conn
	writeTimeout time.Duration
	logger       *slog.Logger

	writeLock sync.Mutex

	closeOnce sync.Once
	done      chan struct{}

	onFrame func(data []byte, receivedAt time.Time)
	onClose func(err error)
}

// dialTransport opens a WebSocket connection to the endpoint. The context
// bounds the whole dial, including the TLS and WebSocket handshakes; wss
// endpoints use standard certificate validation unless the caller supplies
// its own tls.Config.
func dialTransport(ctx context.Context, endpoint Endpoint, tlsConfig *tls.Config, writeTimeout time.Duration, logger *slog.Logger) (*transport, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout: 0, // the context carries the deadline
		TLSClientConfig:  tlsConfig,
	}

	conn, _, err := dialer.DialContext(ctx, endpoint.URL(), nil)
	if err != nil {
		return nil, classifyDialError(ctx, err)
	}

	logger.Debug("websocket connected", "url", endpoint.URL())

	return &transport{
		conn:         conn,
		writeTimeout: writeTimeout,
		logger:       logger,
		done:         make(chan struct{}),
	}, nil
}

func classifyDialError(ctx context.Context, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return NewError(ConnectTimeoutError, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return NewError(ConnectTimeoutError, err)
	}

	var certErr *tls.CertificateVerificationError
	var unknownAuthority x509.UnknownAuthorityError
	var hostnameErr x509.HostnameError
	var recordErr tls.RecordHeaderError
	if errors.As(err, &certErr) || errors.As(err, &unknownAuthority) ||
		errors.As(err, &hostnameErr) || errors.As(err, &recordErr) {
		return NewError(TLSError, err)
	}

	return NewError(ConnectRefusedError, err)
}

// start launches the receive loop. onFrame is invoked for every inbound frame
// in exactly the order frames arrive on the socket; onClose fires once if the
// connection breaks without a prior explicit close.
func (t *transport) start(onFrame func(data []byte, receivedAt time.Time), onClose func(err error)) {
	t.onFrame = onFrame
	t.onClose = onClose
	go t.readLoop()
}

func (t *transport) readLoop() {
	for {
		_, data, err := t.conn.ReadMessage()
		receivedAt := time.Now()

		if err != nil {
			select {
			case <-t.done:
				// Explicit close; not an error.
			default:
				t.logger.Debug("websocket read failed", "error", err)
				if t.onClose != nil {
					t.onClose(NewError(TransportClosedError, err))
				}
			}
			return
		}

		if t.onFrame != nil {
			t.onFrame(data, receivedAt)
		}
	}
}

// writeFrame writes one whole frame. The write lock keeps concurrent senders
// from interleaving partial writes.
func (t *transport) writeFrame(data []byte) error {
	t.writeLock.Lock()
	defer t.writeLock.Unlock()

	select {
	case <-t.done:
		return NewError(TransportClosedError, "connection is closed")
	default:
	}

	if t.writeTimeout > 0 {
		_ = t.conn.SetWriteDeadline(time.Now().Add(t.writeTimeout))
	}
	if err := t.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return NewError(TransportClosedError, err)
	}
	return nil
}

// close shuts the connection down, attempting a clean close handshake first.
// Safe to call more than once and from any goroutine.
func (t *transport) close() error {
	var err error
	t.closeOnce.Do(func() {
		close(t.done)

		t.writeLock.Lock()
		_ = t.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second),
		)
		t.writeLock.Unlock()

		err = t.conn.Close()
	})
	return err
}
