// Package gpiows provides a Go client runtime for the Phobos GPIO interface
// API, an AsyncAPI-described WebSocket service that controls a remote
// GPIO-style device.
//
// The primary lifecycle is:
//   - construct a Client with NewClient or NewClientFromConfig
//   - Connect with a timeout and optional reconnect policy
//   - send GpioMessage commands and wait for acknowledgements
//   - Disconnect or Cleanup when finished
//
// Inbound frames are decoded on a single receive goroutine, assigned a
// strictly increasing arrival index, and retained in a bounded buffer with
// oldest-first eviction. Callers consume messages either through the blocking
// WaitFor family of calls or through handlers registered with OnMessage;
// handlers run synchronously on the receive goroutine and must be written as
// thread-safe with respect to the caller's own state.
//
// Sends from concurrent goroutines are serialized at a single write path, so
// each frame is written whole and in first-come-first-served order. Sending
// requires a live connection; there is no outbound queue.
//
// Errors are reported as typed errors created with NewError. Every failure,
// whether returned to the caller or absorbed on the receive path, is also
// mirrored into a per-client single-slot error record readable with
// LastError.
package gpiows
