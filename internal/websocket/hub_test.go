package websocket

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// newUpgradeServer starts a test server that upgrades every request and hands
// the server side of each connection back over the channel.
func newUpgradeServer(t *testing.T) (*httptest.Server, chan *websocket.Conn) {
	t.Helper()

	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	conns := make(chan *websocket.Conn, 16)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		conns <- conn
	}))
	t.Cleanup(server.Close)
	return server, conns
}

// connPair dials the test server and returns both ends of the connection: the
// server side goes into the hub, the client side reads what the hub sends.
func connPair(t *testing.T, server *httptest.Server, conns <-chan *websocket.Conn) (*websocket.Conn, *websocket.Conn) {
	t.Helper()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")
	clientConn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("failed to dial: %v", err)
	}
	serverConn := <-conns
	return serverConn, clientConn
}

func TestHubSendBroadcastsToSession(t *testing.T) {
	server, conns := newUpgradeServer(t)
	hub := NewHub(10)

	tab1Server, tab1Client := connPair(t, server, conns)
	tab2Server, tab2Client := connPair(t, server, conns)
	otherServer, otherClient := connPair(t, server, conns)

	if hub.Register("session-a", tab1Server) == nil || hub.Register("session-a", tab2Server) == nil {
		t.Fatal("failed to register session-a connections")
	}
	if hub.Register("session-b", otherServer) == nil {
		t.Fatal("failed to register session-b connection")
	}

	hub.Send("session-a", []byte("hello"))

	for i, conn := range []*websocket.Conn{tab1Client, tab2Client} {
		_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		_, raw, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("tab %d failed to read broadcast: %v", i+1, err)
		}
		if string(raw) != "hello" {
			t.Errorf("tab %d got %q, want %q", i+1, raw, "hello")
		}
	}

	_ = otherClient.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
	if _, _, err := otherClient.ReadMessage(); err == nil {
		t.Error("expected no broadcast for the other session")
	}
}

func TestHubRegisterEnforcesSessionLimit(t *testing.T) {
	server, conns := newUpgradeServer(t)
	hub := NewHub(1)

	firstServer, _ := connPair(t, server, conns)
	if hub.Register("session-a", firstServer) == nil {
		t.Fatal("expected the first connection to register")
	}

	secondServer, secondClient := connPair(t, server, conns)
	if client := hub.Register("session-a", secondServer); client != nil {
		t.Fatal("expected the second connection to be rejected")
	}

	// The rejected side receives a policy violation close.
	_ = secondClient.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, _, err := secondClient.ReadMessage()
	var closeErr *websocket.CloseError
	if !errors.As(err, &closeErr) || closeErr.Code != websocket.ClosePolicyViolation {
		t.Fatalf("expected policy violation close, got %v", err)
	}

	if got := hub.ActiveConnections("session-a"); got != 1 {
		t.Errorf("expected 1 active connection, got %d", got)
	}
}

func TestHubUnregister(t *testing.T) {
	server, conns := newUpgradeServer(t)
	hub := NewHub(10)

	serverConn, clientConn := connPair(t, server, conns)
	client := hub.Register("session-a", serverConn)

	hub.Unregister("session-a", client)

	if got := hub.ActiveConnections("session-a"); got != 0 {
		t.Errorf("expected 0 active connections, got %d", got)
	}
	if got := hub.ActiveSessions(); got != 0 {
		t.Errorf("expected 0 active sessions, got %d", got)
	}

	_ = clientConn.SetReadDeadline(time.Now().Add(5 * time.Second))
	if _, _, err := clientConn.ReadMessage(); err == nil {
		t.Error("expected the connection to be closed")
	}
}

// TestHubSendDuringChurn hammers Send while other goroutines register and
// unregister clients of the same session. Run with -race: Send must never
// touch the session map or a connection unsynchronized, even as connections
// close under it.
func TestHubSendDuringChurn(t *testing.T) {
	server, conns := newUpgradeServer(t)
	hub := NewHub(64)
	const session = "session-churn"

	const churners = 8
	serverConns := make([]*websocket.Conn, churners)
	for i := range serverConns {
		serverConn, clientConn := connPair(t, server, conns)
		serverConns[i] = serverConn
		go func(c *websocket.Conn) {
			for {
				if _, _, err := c.ReadMessage(); err != nil {
					return
				}
			}
		}(clientConn)
	}

	var wg sync.WaitGroup
	for _, conn := range serverConns {
		wg.Add(1)
		go func(conn *websocket.Conn) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				if client := hub.Register(session, conn); client != nil {
					hub.Unregister(session, client)
				}
			}
		}(conn)
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 500; i++ {
			hub.Send(session, []byte(`{"type":"typing"}`))
		}
	}()

	wg.Wait()
}
