package gpiows

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// gpioServer is an in-process stand-in for the Phobos GPIO service. It
// acknowledges every GpioMessage with a GpioAck carrying the originating
// correlation id, the echoed payload id, and a sequence number assigned in
// the order frames were read off the socket.
type gpioServer struct {
	t          *testing.T
	httpServer *httptest.Server
	upgrader   websocket.Upgrader

	lock    sync.Mutex
	conns   []*serverConn
	accepts atomic.Int64
	seq     atomic.Uint64

	// dropNextAccepts, when positive, makes that many upcoming connections be
	// closed right after the handshake.
	dropNextAccepts atomic.Int64
}

type serverConn struct {
	conn      *websocket.Conn
	writeLock sync.Mutex
}

func (sc *serverConn) writeRaw(data []byte) error {
	sc.writeLock.Lock()
	defer sc.writeLock.Unlock()
	return sc.conn.WriteMessage(websocket.TextMessage, data)
}

func (sc *serverConn) writeJSON(value interface{}) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return sc.writeRaw(data)
}

func newGpioServer(t *testing.T) *gpioServer {
	server := &gpioServer{t: t}
	server.httpServer = httptest.NewServer(http.HandlerFunc(server.handle))
	t.Cleanup(server.close)
	return server
}

func (server *gpioServer) handle(w http.ResponseWriter, r *http.Request) {
	conn, err := server.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	server.accepts.Add(1)

	if server.dropNextAccepts.Load() > 0 && server.dropNextAccepts.Add(-1) >= 0 {
		_ = conn.Close()
		return
	}

	sc := &serverConn{conn: conn}
	server.lock.Lock()
	server.conns = append(server.conns, sc)
	server.lock.Unlock()

	for {
		_, data, readErr := conn.ReadMessage()
		if readErr != nil {
			return
		}

		var inbound map[string]interface{}
		if json.Unmarshal(data, &inbound) != nil {
			continue
		}
		if inbound["type"] != "GpioMessage" {
			continue
		}

		payload, _ := inbound["payload"].(map[string]interface{})
		ack := map[string]interface{}{
			"type":           "GpioAck",
			"correlation_id": inbound["correlation_id"],
			"payload": map[string]interface{}{
				"status": payload["status"],
				"id":     payload["id"],
				"seq":    server.seq.Add(1),
			},
		}
		if sc.writeJSON(ack) != nil {
			return
		}
	}
}

func (server *gpioServer) url() string {
	return "ws" + strings.TrimPrefix(server.httpServer.URL, "http")
}

// push writes a raw frame to every live connection, server to client.
func (server *gpioServer) push(data []byte) {
	server.lock.Lock()
	conns := append([]*serverConn(nil), server.conns...)
	server.lock.Unlock()

	for _, sc := range conns {
		_ = sc.writeRaw(data)
	}
}

// dropConnections abruptly closes every live connection without a close
// handshake, simulating a network break.
func (server *gpioServer) dropConnections() {
	server.lock.Lock()
	conns := server.conns
	server.conns = nil
	server.lock.Unlock()

	for _, sc := range conns {
		_ = sc.conn.Close()
	}
}

func (server *gpioServer) close() {
	server.dropConnections()
	server.httpServer.Close()
}

// newConnectedClient builds a client against the server and connects it, with
// teardown registered on the test.
func newConnectedClient(t *testing.T, server *gpioServer, policy ...ReconnectPolicy) *Client {
	t.Helper()

	client, err := NewClient(server.url())
	if err != nil {
		t.Fatalf("unexpected error creating client: %v", err)
	}
	t.Cleanup(func() { _ = client.Cleanup() })

	if err := client.Connect(5*time.Second, policy...); err != nil {
		t.Fatalf("unexpected error connecting: %v", err)
	}
	return client
}

// waitUntil polls the condition until it holds or the deadline passes.
func waitUntil(t *testing.T, timeout time.Duration, condition func() bool, message string) {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("condition not met within %v: %s", timeout, message)
}
