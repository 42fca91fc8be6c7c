// Package websockettest drives race server connections from tests.
package websockettest

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/kawacukennedy/3d-racing-game-sub001/internal/protocol"
)

// URL converts an httptest server URL into the websocket endpoint.
func URL(serverURL, query string) string {
	url := "ws" + strings.TrimPrefix(serverURL, "http") + "/ws"
	if query != "" {
		url += "?" + query
	}
	return url
}

// Dial opens a websocket connection with the default dialer.
func Dial(urlStr string, header http.Header) (*websocket.Conn, *http.Response, error) {
	return websocket.DefaultDialer.Dial(urlStr, header)
}

// DialIgnoringPongs establishes a WebSocket connection and disables the
// automatic pong responses so that tests can simulate an unresponsive peer.
func DialIgnoringPongs(urlStr string, header http.Header) (*websocket.Conn, *http.Response, error) {
	conn, resp, err := Dial(urlStr, header)
	if err != nil {
		return nil, resp, err
	}
	conn.SetPingHandler(func(string) error { return nil })
	conn.SetPongHandler(func(string) error { return nil })
	return conn, resp, nil
}

// Send encodes payload in an envelope and writes it as a text frame.
func Send(conn *websocket.Conn, t protocol.Type, payload any) error {
	frame, err := protocol.Encode(t, 0, payload)
	if err != nil {
		return err
	}
	return conn.WriteMessage(websocket.TextMessage, frame)
}

// Read returns the next envelope or fails once timeout elapses.
func Read(conn *websocket.Conn, timeout time.Duration) (protocol.Envelope, error) {
	if err := conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return protocol.Envelope{}, err
	}
	_, frame, err := conn.ReadMessage()
	if err != nil {
		return protocol.Envelope{}, err
	}
	return protocol.Decode(frame)
}

// ReadUntil skips envelopes until one of type t arrives.
func ReadUntil(conn *websocket.Conn, t protocol.Type, timeout time.Duration) (protocol.Envelope, error) {
	deadline := time.Now().Add(timeout)
	var seen []protocol.Type
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return protocol.Envelope{}, fmt.Errorf("no %s within %s, saw %v", t, timeout, seen)
		}
		envelope, err := Read(conn, remaining)
		if err != nil {
			return protocol.Envelope{}, fmt.Errorf("waiting for %s after %v: %w", t, seen, err)
		}
		if envelope.Type == t {
			return envelope, nil
		}
		seen = append(seen, envelope.Type)
	}
}
