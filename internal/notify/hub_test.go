package notify

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nysa-labs/nysa-gateway/internal/logging"
)

type queryAuth struct{}

func (queryAuth) Require(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user := r.URL.Query().Get("user")
		if user == "" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r.WithContext(logging.WithUserID(r.Context(), user)))
	})
}

type gauge struct {
	mu sync.Mutex
	n  int
}

func (g *gauge) SetWebSocketClients(n int) {
	g.mu.Lock()
	g.n = n
	g.mu.Unlock()
}

func (g *gauge) value() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.n
}

func newTestHub(t *testing.T, origins ...string) (*Hub, *gauge, string) {
	t.Helper()
	g := &gauge{}
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	hub := NewHub(logging.NewDiscard(), g, origins)
	r := mux.NewRouter()
	hub.RegisterRoutes(r, queryAuth{})
	server := httptest.NewServer(r)
	t.Cleanup(func() {
		hub.Close()
		server.Close()
	})
	return hub, g, "ws" + strings.TrimPrefix(server.URL, "http") + "/api/ws"
}

func dial(t *testing.T, url string, header http.Header) *websocket.Conn {
	t.Helper()
	conn, resp, err := websocket.DefaultDialer.Dial(url, header)
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestPublishCreditsReachesOnlyThatUser(t *testing.T) {
	hub, g, url := newTestHub(t)

	ada := dial(t, url+"?user=ada", nil)
	bob := dial(t, url+"?user=bob", nil)
	require.Eventually(t, func() bool { return hub.ClientCount() == 2 }, time.Second, 10*time.Millisecond)
	assert.Equal(t, 2, g.value())

	hub.PublishCredits("ada", 40)

	var ev Event
	require.NoError(t, ada.SetReadDeadline(time.Now().Add(2*time.Second)))
	require.NoError(t, ada.ReadJSON(&ev))
	assert.Equal(t, Event{Type: MessageTypeCredits, Remaining: 40}, ev)

	require.NoError(t, bob.SetReadDeadline(time.Now().Add(100*time.Millisecond)))
	_, _, err := bob.ReadMessage()
	assert.Error(t, err, "bob should not receive ada's balance")
}

func TestDisconnectUnregisters(t *testing.T) {
	hub, g, url := newTestHub(t)

	conn := dial(t, url+"?user=ada", nil)
	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, time.Second, 10*time.Millisecond)

	require.NoError(t, conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")))
	conn.Close()

	require.Eventually(t, func() bool { return hub.ClientCount() == 0 }, time.Second, 10*time.Millisecond)
	assert.Equal(t, 0, g.value())
}

func TestUnauthenticatedRejected(t *testing.T) {
	_, _, url := newTestHub(t)

	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestOriginCheck(t *testing.T) {
	_, _, url := newTestHub(t, "https://app.nysa.ai")

	conn := dial(t, url+"?user=ada", http.Header{"Origin": {"https://app.nysa.ai"}})
	assert.NotNil(t, conn)

	_, resp, err := websocket.DefaultDialer.Dial(url+"?user=ada", http.Header{"Origin": {"https://evil.example"}})
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestCloseRefusesNewClients(t *testing.T) {
	hub, _, url := newTestHub(t)
	hub.Close()

	conn := dial(t, url+"?user=ada", nil)
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway), "err = %v", err)
	assert.Equal(t, 0, hub.ClientCount())
}

func TestPublishWithoutClientsIsNoop(t *testing.T) {
	hub := NewHub(logging.NewDiscard(), nil, nil)
	hub.PublishCredits("nobody", 1)
	assert.Equal(t, 0, hub.ClientCount())
}
