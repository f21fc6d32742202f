// Package main implements fakegpio — a deterministic WebSocket responder
// that models the Phobos GPIO interface API for integration and soak testing
// of client implementations. Every GpioMessage is acknowledged with a GpioAck
// carrying the originating correlation id and a per-connection sequence
// number assigned in receive order, so clients can verify ordering and
// exactly-once delivery end to end.
package main

import (
	"encoding/json"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
)

var (
	flagAddr     = flag.String("addr", "127.0.0.1:19700", "listen address")
	flagPath     = flag.String("path", "/", "websocket endpoint path")
	flagLatency  = flag.Duration("latency", 0, "artificial per-message latency before acking")
	flagEcho     = flag.Bool("echo", false, "echo GpioMessage frames back verbatim in addition to the ack")
	flagGarbage  = flag.Int("garbage-every", 0, "emit one malformed frame every N acks (0 disables)")
	flagLogConn  = flag.Bool("log-conn", true, "log connect/disconnect events")
	flagLogFrame = flag.Bool("log-frames", false, "log every inbound frame")
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  64 * 1024,
	WriteBufferSize: 64 * 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

type wireMessage struct {
	Type          string                 `json:"type"`
	Payload       map[string]interface{} `json:"payload"`
	CorrelationID string                 `json:"correlation_id,omitempty"`
}

type connHandler struct {
	conn      *websocket.Conn
	writeLock sync.Mutex
	seq       uint64
	acked     uint64
}

func (h *connHandler) writeJSON(value interface{}) error {
	h.writeLock.Lock()
	defer h.writeLock.Unlock()
	return h.conn.WriteJSON(value)
}

func (h *connHandler) writeRaw(data []byte) error {
	h.writeLock.Lock()
	defer h.writeLock.Unlock()
	return h.conn.WriteMessage(websocket.TextMessage, data)
}

func (h *connHandler) run() {
	defer h.conn.Close()

	for {
		_, data, err := h.conn.ReadMessage()
		if err != nil {
			if *flagLogConn {
				log.Printf("disconnect %s: %v", h.conn.RemoteAddr(), err)
			}
			return
		}
		if *flagLogFrame {
			log.Printf("frame from %s: %s", h.conn.RemoteAddr(), data)
		}

		var inbound wireMessage
		if err := json.Unmarshal(data, &inbound); err != nil || inbound.Type == "" {
			// Mirror a strict schema-validating server: unusable frames are
			// ignored, the connection stays up.
			continue
		}
		if inbound.Type != "GpioMessage" {
			continue
		}

		if *flagLatency > 0 {
			time.Sleep(*flagLatency)
		}

		seq := atomic.AddUint64(&h.seq, 1)
		ack := wireMessage{
			Type:          "GpioAck",
			CorrelationID: inbound.CorrelationID,
			Payload: map[string]interface{}{
				"status": inbound.Payload["status"],
				"seq":    seq,
			},
		}
		if err := h.writeJSON(ack); err != nil {
			return
		}

		if *flagEcho {
			if err := h.writeRaw(data); err != nil {
				return
			}
		}

		acked := atomic.AddUint64(&h.acked, 1)
		if *flagGarbage > 0 && acked%uint64(*flagGarbage) == 0 {
			if err := h.writeRaw([]byte("{not json")); err != nil {
				return
			}
		}
	}
}

func serve(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("upgrade failed: %v", err)
		return
	}
	if *flagLogConn {
		log.Printf("connect %s", conn.RemoteAddr())
	}
	handler := &connHandler{conn: conn}
	go handler.run()
}

func main() {
	flag.Parse()

	mux := http.NewServeMux()
	mux.HandleFunc(*flagPath, serve)

	server := &http.Server{Addr: *flagAddr, Handler: mux}

	go func() {
		log.Printf("fakegpio listening on ws://%s%s", *flagAddr, *flagPath)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen failed: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	log.Printf("shutting down")
	_ = server.Close()
}
