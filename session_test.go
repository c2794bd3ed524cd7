package main

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Seednode/castaway/internal/fact"
	"github.com/Seednode/castaway/internal/orchestrator"
)

// gatedStore holds loads of the "slow" session until gate is closed.
type gatedStore struct {
	fact.Store
	gate chan struct{}
}

func (s *gatedStore) Load(ctx context.Context, sessionID string) ([]fact.Fact, error) {
	if sessionID == "slow" {
		<-s.gate
	}
	return s.Store.Load(ctx, sessionID)
}

type wireMessage struct {
	Type    string `json:"type"`
	Reason  string `json:"reason"`
	Session struct {
		Phase  string `json:"phase"`
		You    string `json:"you"`
		Roster []struct {
			ID     string `json:"id"`
			Name   string `json:"name"`
			Online bool   `json:"online"`
		} `json:"roster"`
	} `json:"session"`
}

func testConfig() *Config {
	return &Config{
		minPlayers:     3,
		finalists:      2,
		startingSilver: 50,
		rateLimit:      100,
		rateBurst:      100,
		logFormat:      "text",
		port:           8080,
	}
}

func newTestManager(t *testing.T, store fact.Store) *SessionManager {
	t.Helper()
	log, _ := test.NewNullLogger()

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	sm := newSessionManager(ctx, sessionDeps{
		timeline: testConfig().timeline(),
		store:    store,
		log:      log,
	}, 0)
	t.Cleanup(sm.closeAll)
	return sm
}

func newTestServer(t *testing.T, cfg *Config, sm *SessionManager) *httptest.Server {
	t.Helper()
	mux := httprouter.New()
	registerSessions(cfg, "/session", mux, sm)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func dial(t *testing.T, srv *httptest.Server, sessionID, playerID string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/session/" + sessionID + "/ws"
	header := http.Header{}
	header.Set("Cookie", playerCookieName+"="+playerID)

	conn, _, err := websocket.DefaultDialer.Dial(url, header)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readUntil(t *testing.T, conn *websocket.Conn, match func(wireMessage) bool) wireMessage {
	t.Helper()
	for {
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
		var msg wireMessage
		require.NoError(t, conn.ReadJSON(&msg))
		if match(msg) {
			return msg
		}
	}
}

func isSync(msg wireMessage) bool { return msg.Type == "SYSTEM.SYNC" }

func hasRoster(n int) func(wireMessage) bool {
	return func(msg wireMessage) bool {
		return isSync(msg) && len(msg.Session.Roster) == n
	}
}

func TestSessionJoinAndSync(t *testing.T) {
	srv := newTestServer(t, testConfig(), newTestManager(t, fact.NewMemoryStore()))

	ann := dial(t, srv, "game1", "p1")
	first := readUntil(t, ann, isSync)
	assert.Equal(t, "LOBBY", first.Session.Phase)
	assert.Equal(t, "p1", first.Session.You)
	assert.Empty(t, first.Session.Roster)

	require.NoError(t, ann.WriteJSON(map[string]string{"type": "SYSTEM.JOIN", "name": "Ann"}))
	msg := readUntil(t, ann, hasRoster(1))
	assert.Equal(t, "Ann", msg.Session.Roster[0].Name)
	assert.True(t, msg.Session.Roster[0].Online)

	ben := dial(t, srv, "game1", "p2")
	msg = readUntil(t, ben, hasRoster(1))
	assert.Equal(t, "p1", msg.Session.Roster[0].ID)
}

func TestSessionRejectsServerEvents(t *testing.T) {
	srv := newTestServer(t, testConfig(), newTestManager(t, fact.NewMemoryStore()))

	conn := dial(t, srv, "game1", "p1")
	readUntil(t, conn, isSync)

	require.NoError(t, conn.WriteJSON(map[string]string{"type": orchestrator.TypeTimer}))
	msg := readUntil(t, conn, func(m wireMessage) bool { return m.Type == orchestrator.TypeRejected })
	assert.Equal(t, orchestrator.ReasonInvalid, msg.Reason)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("not json")))
	msg = readUntil(t, conn, func(m wireMessage) bool { return m.Type == orchestrator.TypeRejected })
	assert.Equal(t, orchestrator.ReasonInvalid, msg.Reason)

	require.NoError(t, conn.WriteJSON(map[string]string{"type": "SYSTEM.START"}))
	msg = readUntil(t, conn, func(m wireMessage) bool { return m.Type == orchestrator.TypeRejected })
	assert.Equal(t, orchestrator.ReasonNotHost, msg.Reason)
}

func TestSessionRateLimit(t *testing.T) {
	cfg := testConfig()
	cfg.rateLimit = 0.01
	cfg.rateBurst = 1
	srv := newTestServer(t, cfg, newTestManager(t, fact.NewMemoryStore()))

	conn := dial(t, srv, "game1", "p1")
	readUntil(t, conn, isSync)

	require.NoError(t, conn.WriteJSON(map[string]string{"type": "SYSTEM.JOIN", "name": "Ann"}))
	require.NoError(t, conn.WriteJSON(map[string]string{"type": "SYSTEM.JOIN", "name": "Ann"}))

	msg := readUntil(t, conn, func(m wireMessage) bool { return m.Type == orchestrator.TypeRejected })
	assert.Equal(t, reasonRateLimited, msg.Reason)
}

func TestSessionRestoredFromStore(t *testing.T) {
	store := fact.NewMemoryStore()
	sm := newTestManager(t, store)
	srv := newTestServer(t, testConfig(), sm)

	conn := dial(t, srv, "game1", "p1")
	readUntil(t, conn, isSync)
	require.NoError(t, conn.WriteJSON(map[string]string{"type": "SYSTEM.JOIN", "name": "Ann"}))
	readUntil(t, conn, hasRoster(1))

	sm.closeAll()

	again := dial(t, srv, "game1", "p2")
	msg := readUntil(t, again, isSync)
	require.Len(t, msg.Session.Roster, 1)
	assert.Equal(t, "Ann", msg.Session.Roster[0].Name)
}

func TestRedirectNewSession(t *testing.T) {
	srv := newTestServer(t, testConfig(), newTestManager(t, fact.NewMemoryStore()))

	client := &http.Client{CheckRedirect: func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}}
	resp, err := client.Get(srv.URL + "/session")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusTemporaryRedirect, resp.StatusCode)
	assert.Regexp(t, regexp.MustCompile(`^/session/[A-Za-z0-9]{8}$`), resp.Header.Get("Location"))
}

func TestSessionPageAssignsCookie(t *testing.T) {
	srv := newTestServer(t, testConfig(), newTestManager(t, fact.NewMemoryStore()))

	resp, err := http.Get(srv.URL + "/session/game1")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var found bool
	for _, c := range resp.Cookies() {
		if c.Name == playerCookieName && c.Value != "" {
			found = true
		}
	}
	assert.True(t, found)

	resp, err = http.Get(srv.URL + "/session/bad.id")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestQRHandler(t *testing.T) {
	srv := newTestServer(t, testConfig(), newTestManager(t, fact.NewMemoryStore()))

	resp, err := http.Get(srv.URL + "/session/game1/qr")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "image/png", resp.Header.Get("Content-Type"))

	buf := make([]byte, 4)
	_, err = io.ReadFull(resp.Body, buf)
	require.NoError(t, err)
	assert.Equal(t, []byte("\x89PNG"), buf)
}

func TestValidSessionID(t *testing.T) {
	assert.True(t, validSessionID("AbC123"))
	assert.True(t, validSessionID("my-game_2"))
	assert.False(t, validSessionID(""))
	assert.False(t, validSessionID("bad.id"))
	assert.False(t, validSessionID(strings.Repeat("a", maxSessionID+1)))
}

func TestServerOnly(t *testing.T) {
	assert.True(t, serverOnly(orchestrator.TypeTimer))
	assert.True(t, serverOnly(orchestrator.TypeConnect))
	assert.True(t, serverOnly(orchestrator.TypeDisconnect))
	assert.False(t, serverOnly(orchestrator.TypeJoin))
	assert.False(t, serverOnly("GAME.VOTE.CAST"))
}

func TestSlowRestoreDoesNotBlockOtherSessions(t *testing.T) {
	store := &gatedStore{Store: fact.NewMemoryStore(), gate: make(chan struct{})}
	sm := newTestManager(t, store)

	slow := make(chan *Room, 2)
	for range 2 {
		go func() {
			room, err := sm.getRoom("slow")
			assert.NoError(t, err)
			slow <- room
		}()
	}

	fast := make(chan *Room, 1)
	go func() {
		room, err := sm.getRoom("fast")
		assert.NoError(t, err)
		fast <- room
	}()

	select {
	case room := <-fast:
		assert.NotNil(t, room)
	case <-time.After(5 * time.Second):
		t.Fatal("session open waited on another session's restore")
	}

	close(store.gate)
	first, second := <-slow, <-slow
	require.NotNil(t, first)
	assert.Same(t, first, second)
}
