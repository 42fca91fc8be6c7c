package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/kawacukennedy/3d-racing-game-sub001/internal/auth"
	"github.com/kawacukennedy/3d-racing-game-sub001/internal/config"
	"github.com/kawacukennedy/3d-racing-game-sub001/internal/logging"
	"github.com/kawacukennedy/3d-racing-game-sub001/internal/protocol"
	"github.com/kawacukennedy/3d-racing-game-sub001/internal/session"
	"github.com/kawacukennedy/3d-racing-game-sub001/internal/websockettest"
)

const readTimeout = 5 * time.Second

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Race.MatchmakingWaitPolicy = config.WaitPolicyWait
	return cfg
}

func startServer(t *testing.T, cfg *config.Config, opts ...ServerOption) (*Server, *httptest.Server) {
	t.Helper()
	logger := logging.NewTestLogger()
	registry := session.NewRegistry(cfg.Race, session.WithLogger(logger))
	server := NewServer(cfg, registry, append([]ServerOption{WithLogger(logger)}, opts...)...)
	mux := http.NewServeMux()
	server.Register(mux)
	httpServer := httptest.NewServer(mux)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), readTimeout)
		defer cancel()
		_ = server.Close(ctx)
		httpServer.Close()
		registry.Close()
	})
	return server, httpServer
}

func dial(t *testing.T, httpServer *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	conn, _, err := websockettest.Dial(websockettest.URL(httpServer.URL, query), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func expect(t *testing.T, conn *websocket.Conn, kind protocol.Type, into any) protocol.Envelope {
	t.Helper()
	envelope, err := websockettest.ReadUntil(conn, kind, readTimeout)
	if err != nil {
		t.Fatalf("read %s: %v", kind, err)
	}
	if into != nil {
		if err := envelope.Into(into); err != nil {
			t.Fatalf("decode %s: %v", kind, err)
		}
	}
	return envelope
}

func send(t *testing.T, conn *websocket.Conn, kind protocol.Type, payload any) {
	t.Helper()
	if err := websockettest.Send(conn, kind, payload); err != nil {
		t.Fatalf("send %s: %v", kind, err)
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(readTimeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestTwoRacersAreMatchedIntoOneRoom(t *testing.T) {
	server, httpServer := startServer(t, testConfig())
	first := dial(t, httpServer, "")
	second := dial(t, httpServer, "")

	//1.- Both racers queue; the second ticket forms the room.
	send(t, first, protocol.TypeJoinMatchmaking, protocol.JoinMatchmaking{Name: "Ada"})
	send(t, second, protocol.TypeJoinMatchmaking, protocol.JoinMatchmaking{Name: "Grace"})

	var joinedFirst, joinedSecond protocol.RoomJoined
	expect(t, first, protocol.TypeRoomJoined, &joinedFirst)
	expect(t, second, protocol.TypeRoomJoined, &joinedSecond)
	if joinedFirst.RoomID == "" || joinedFirst.RoomID != joinedSecond.RoomID {
		t.Fatalf("expected a shared room, got %q and %q", joinedFirst.RoomID, joinedSecond.RoomID)
	}
	if joinedFirst.PlayerID == "" || joinedFirst.PlayerID == joinedSecond.PlayerID {
		t.Fatalf("expected distinct player ids, got %q and %q", joinedFirst.PlayerID, joinedSecond.PlayerID)
	}

	//2.- The countdown is announced on the sequenced stream.
	var start protocol.RaceStart
	envelope := expect(t, first, protocol.TypeRaceStart, &start)
	if envelope.Seq == 0 {
		t.Fatalf("expected race_start to carry a sequence number")
	}
	if len(start.Players) != 2 {
		t.Fatalf("expected two racers in race_start, got %d", len(start.Players))
	}

	//3.- A second join while seated is refused.
	waitFor(t, "seat assignment", func() bool { return server.seatOf(joinedFirst.PlayerID) != nil })
	send(t, first, protocol.TypeJoinMatchmaking, protocol.JoinMatchmaking{Name: "Ada"})
	var refusal protocol.ErrorMessage
	expect(t, first, protocol.TypeError, &refusal)
	if refusal.Message != "already seated in a room" {
		t.Fatalf("unexpected refusal %q", refusal.Message)
	}
}

func TestTimeSyncEchoesClientTime(t *testing.T) {
	_, httpServer := startServer(t, testConfig())
	conn := dial(t, httpServer, "")

	sent := time.Now().UnixMilli()
	send(t, conn, protocol.TypeTimeSync, protocol.TimeSync{ClientTime: sent})

	var reply protocol.TimeSync
	expect(t, conn, protocol.TypeTimeSync, &reply)
	if reply.ClientTime != sent {
		t.Fatalf("expected client time %d echoed, got %d", sent, reply.ClientTime)
	}
	if reply.ServerTime <= 0 {
		t.Fatalf("expected a server timestamp, got %d", reply.ServerTime)
	}
}

func TestMalformedFrameOutsideRoomReturnsError(t *testing.T) {
	_, httpServer := startServer(t, testConfig())
	conn := dial(t, httpServer, "")

	if err := conn.WriteMessage(websocket.TextMessage, []byte("not json")); err != nil {
		t.Fatalf("write: %v", err)
	}
	var message protocol.ErrorMessage
	expect(t, conn, protocol.TypeError, &message)
	if message.Message == "" {
		t.Fatalf("expected an explanation for the malformed frame")
	}
}

func TestResumeWithoutSeatIsRefused(t *testing.T) {
	_, httpServer := startServer(t, testConfig())
	conn := dial(t, httpServer, "")

	send(t, conn, protocol.TypeResume, protocol.Resume{LastSeq: 3})
	var message protocol.ErrorMessage
	expect(t, conn, protocol.TypeError, &message)
	if message.Message != errNotSeated.Error() {
		t.Fatalf("unexpected resume refusal %q", message.Message)
	}
}

func TestDisconnectCancelsQueuedTicket(t *testing.T) {
	server, httpServer := startServer(t, testConfig())
	conn := dial(t, httpServer, "")

	send(t, conn, protocol.TypeJoinMatchmaking, protocol.JoinMatchmaking{Name: "Solo"})
	waitFor(t, "ticket to be queued", func() bool { return server.Queue().Len() == 1 })

	_ = conn.Close()
	waitFor(t, "ticket to be cancelled", func() bool { return server.Queue().Len() == 0 })
	waitFor(t, "client to be released", func() bool {
		clients, _ := server.SnapshotClientCounts()
		return clients == 0
	})
	if server.Queue().Stats().Cancelled != 1 {
		t.Fatalf("expected one cancelled ticket, got %+v", server.Queue().Stats())
	}
}

func TestUpgradesAreRateLimitedPerAddress(t *testing.T) {
	cfg := testConfig()
	cfg.UpgradeBurst = 1
	_, httpServer := startServer(t, cfg)

	dial(t, httpServer, "")
	_, resp, err := websockettest.Dial(websockettest.URL(httpServer.URL, ""), nil)
	if err == nil {
		t.Fatalf("expected second upgrade to be refused")
	}
	if resp == nil || resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %+v", resp)
	}
}

func TestJoinTokensBindPlayerIdentity(t *testing.T) {
	const secret = "grid-secret"
	authenticator, err := newHMACWebsocketAuthenticator(secret)
	if err != nil {
		t.Fatalf("authenticator: %v", err)
	}
	_, httpServer := startServer(t, testConfig(), WithWebsocketAuthenticator(authenticator))

	//1.- Without a token the upgrade is refused.
	_, resp, err := websockettest.Dial(websockettest.URL(httpServer.URL, ""), nil)
	if err == nil || resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %v %+v", err, resp)
	}

	issuer, err := auth.NewHMACTokenVerifier(secret, time.Second)
	if err != nil {
		t.Fatalf("issuer: %v", err)
	}
	connect := func(subject string) *websocket.Conn {
		token, err := issuer.Issue(subject, time.Minute)
		if err != nil {
			t.Fatalf("issue token: %v", err)
		}
		return dial(t, httpServer, "auth_token="+token)
	}
	first := connect("racer-1")
	second := connect("racer-2")

	//2.- The token subject becomes the player id.
	send(t, first, protocol.TypeJoinMatchmaking, protocol.JoinMatchmaking{Name: "One"})
	send(t, second, protocol.TypeJoinMatchmaking, protocol.JoinMatchmaking{Name: "Two"})
	var joined protocol.RoomJoined
	expect(t, first, protocol.TypeRoomJoined, &joined)
	if joined.PlayerID != "racer-1" {
		t.Fatalf("expected token subject as player id, got %q", joined.PlayerID)
	}
}

func TestAnonymousAuthenticatorHonoursValidPlayerID(t *testing.T) {
	const id = "3f8a2b4c-1d2e-4f50-8a6b-7c8d9e0f1a2b"
	request := httptest.NewRequest(http.MethodGet, "/ws?player_id="+id, nil)
	got, err := anonymousAuthenticator{}.Authenticate(request)
	if err != nil || got != id {
		t.Fatalf("expected reclaimed id %q, got %q %v", id, got, err)
	}

	request = httptest.NewRequest(http.MethodGet, "/ws?player_id=not-a-uuid", nil)
	got, err = anonymousAuthenticator{}.Authenticate(request)
	if err != nil || got == "not-a-uuid" || got == "" {
		t.Fatalf("expected a fresh id for an invalid claim, got %q %v", got, err)
	}
}
