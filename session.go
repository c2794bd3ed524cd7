// Castaway sessions
//
// Every session id gets one orchestrator, restored from the fact ledger the
// first time anyone connects, and a room of websocket clients it broadcasts
// to.
//
// Routes:
// - $path                  → redirects to a new random session id
// - $path/:sessionid       → landing page, assigns the player cookie
// - $path/:sessionid/ws    → websocket for that session
// - $path/:sessionid/qr    → PNG QR code for the session URL
//
// Players are identified by cookie. A player may hold several connections;
// each one is synced on connect, and the orchestrator only hears about the
// last disconnect. Sessions are reaped after the configured idle timeout.

package main

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"
	"github.com/sirupsen/logrus"
	"github.com/skip2/go-qrcode"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"github.com/Seednode/castaway/internal/cartridge"
	"github.com/Seednode/castaway/internal/fact"
	"github.com/Seednode/castaway/internal/orchestrator"
)

const (
	playerCookieName = "castaway_id"
	maxFrameSize     = 4096
	maxSessionID     = 64
	sendBuffer       = 16
	writeWait        = 10 * time.Second

	reasonRateLimited = "rate_limited"
)

type Client struct {
	conn     *websocket.Conn
	send     chan any
	playerID string
	limiter  *rate.Limiter
}

// Room is the set of connections watching one session. It is the
// orchestrator's Broadcaster.
type Room struct {
	id     string
	orch   *orchestrator.Orchestrator
	cancel context.CancelFunc
	log    logrus.FieldLogger

	mu         sync.RWMutex
	clients    map[string]map[*Client]bool
	lastActive time.Time
}

func newRoom(id string, log logrus.FieldLogger) *Room {
	return &Room{
		id:         id,
		log:        log,
		clients:    make(map[string]map[*Client]bool),
		lastActive: time.Now(),
	}
}

// Send queues msg for every connection of playerID, dropping it for any
// connection that is not keeping up.
func (r *Room) Send(playerID string, msg any) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for c := range r.clients[playerID] {
		r.queueLocked(c, msg)
	}
}

// reply queues msg for one connection only.
func (r *Room) reply(c *Client, msg any) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.clients[c.playerID][c] {
		r.queueLocked(c, msg)
	}
}

func (r *Room) queueLocked(c *Client, msg any) {
	select {
	case c.send <- msg:
	default:
		r.log.WithField("player", c.playerID).Warn("client too slow, dropping message")
	}
}

func (r *Room) register(c *Client) {
	r.mu.Lock()
	defer r.mu.Unlock()

	conns := r.clients[c.playerID]
	if conns == nil {
		conns = make(map[*Client]bool)
		r.clients[c.playerID] = conns
	}
	conns[c] = true
	r.lastActive = time.Now()
}

// unregister removes c and reports whether the player has no connections
// left.
func (r *Room) unregister(c *Client) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	conns := r.clients[c.playerID]
	if !conns[c] {
		return false
	}
	delete(conns, c)
	close(c.send)
	r.lastActive = time.Now()

	if len(conns) == 0 {
		delete(r.clients, c.playerID)
		return true
	}
	return false
}

func (r *Room) touch() {
	r.mu.Lock()
	r.lastActive = time.Now()
	r.mu.Unlock()
}

func (r *Room) idleSince() time.Time {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.lastActive
}

// closeAll disconnects every client of this room.
func (r *Room) closeAll() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for id, conns := range r.clients {
		for c := range conns {
			close(c.send)
			_ = c.conn.Close()
		}
		delete(r.clients, id)
	}
}

// sessionDeps are shared by every orchestrator of the process.
type sessionDeps struct {
	timeline orchestrator.Timeline
	registry *cartridge.Registry
	store    fact.Store
	mirror   fact.Mirror
	notifier orchestrator.Notifier
	metrics  *orchestrator.Metrics
	log      logrus.FieldLogger
}

// SessionManager holds the live rooms keyed by session id.
type SessionManager struct {
	mu          sync.Mutex
	rooms       map[string]*Room
	opening     singleflight.Group
	deps        sessionDeps
	idleTimeout time.Duration
}

func newSessionManager(ctx context.Context, deps sessionDeps, idleTimeout time.Duration) *SessionManager {
	if deps.log == nil {
		deps.log = logrus.StandardLogger()
	}
	if deps.registry == nil {
		deps.registry = cartridge.NewRegistry(cartridge.Policies{})
	}

	sm := &SessionManager{
		rooms:       make(map[string]*Room),
		deps:        deps,
		idleTimeout: idleTimeout,
	}
	if idleTimeout > 0 {
		go sm.reaperLoop(ctx)
	}
	return sm
}

// getRoom returns the live room for id, restoring the session from its
// ledger if it is not running yet. Restores of the same id are shared and
// run without holding the manager lock.
func (sm *SessionManager) getRoom(id string) (*Room, error) {
	if room := sm.lookup(id); room != nil {
		return room, nil
	}

	v, err, _ := sm.opening.Do(id, func() (any, error) {
		if room := sm.lookup(id); room != nil {
			return room, nil
		}
		return sm.openRoom(id)
	})
	if err != nil {
		return nil, err
	}
	return v.(*Room), nil
}

func (sm *SessionManager) lookup(id string) *Room {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return sm.rooms[id]
}

func (sm *SessionManager) openRoom(id string) (*Room, error) {
	log := sm.deps.log.WithField("session", id)
	room := newRoom(id, log)

	ledger := fact.NewLedger(fact.LedgerConfig{
		SessionID: id,
		Store:     sm.deps.store,
		Mirror:    sm.deps.mirror,
		Logger:    log,
	})

	orch, err := orchestrator.New(orchestrator.Config{
		SessionID:   id,
		Timeline:    sm.deps.timeline,
		Ledger:      ledger,
		Registry:    sm.deps.registry,
		Broadcaster: room,
		Notifier:    sm.deps.notifier,
		Metrics:     sm.deps.metrics,
		Logger:      sm.deps.log,
	})
	if err != nil {
		return nil, err
	}
	if err := orch.Restore(context.Background()); err != nil {
		return nil, fmt.Errorf("restore session %s: %w", id, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	room.orch = orch
	room.cancel = cancel

	sm.mu.Lock()
	sm.rooms[id] = room
	sm.mu.Unlock()

	go func() {
		err := orch.Run(ctx)
		if err != nil && !errors.Is(err, context.Canceled) {
			log.WithError(err).Error("session stopped")
		}
		sm.drop(id, room)
	}()

	log.Info("session opened")

	return room, nil
}

func (sm *SessionManager) drop(id string, room *Room) {
	sm.mu.Lock()
	if sm.rooms[id] == room {
		delete(sm.rooms, id)
	}
	sm.mu.Unlock()

	room.cancel()
	room.closeAll()
}

// newSessionID generates a crypto-random session id that is not in use.
func (sm *SessionManager) newSessionID() string {
	const letters = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"
	for {
		buf := make([]byte, 8)
		if _, err := rand.Read(buf); err != nil {
			panic("crypto/rand failure: " + err.Error())
		}
		out := make([]byte, 8)
		for i := range out {
			out[i] = letters[int(buf[i])%len(letters)]
		}
		id := string(out)

		sm.mu.Lock()
		_, exists := sm.rooms[id]
		sm.mu.Unlock()

		if !exists {
			return id
		}
	}
}

// reaperLoop stops sessions that have been idle longer than idleTimeout.
// Their facts stay in the store, so a later connection restores them.
func (sm *SessionManager) reaperLoop(ctx context.Context) {
	ticker := time.NewTicker(sm.idleTimeout / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		cutoff := time.Now().Add(-sm.idleTimeout)

		var idle []*Room
		sm.mu.Lock()
		for id, room := range sm.rooms {
			if room.idleSince().Before(cutoff) {
				delete(sm.rooms, id)
				idle = append(idle, room)
			}
		}
		sm.mu.Unlock()

		for _, room := range idle {
			room.log.Info("session idle, closing")
			room.cancel()
			room.closeAll()
		}
	}
}

func (sm *SessionManager) closeAll() {
	sm.mu.Lock()
	rooms := sm.rooms
	sm.rooms = make(map[string]*Room)
	sm.mu.Unlock()

	for _, room := range rooms {
		room.cancel()
		room.closeAll()
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

func getOrSetPlayerID(w http.ResponseWriter, r *http.Request) string {
	if c, err := r.Cookie(playerCookieName); err == nil && c.Value != "" {
		return c.Value
	}

	id := uuid.NewString()

	http.SetCookie(w, &http.Cookie{
		Name:     playerCookieName,
		Value:    id,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})

	return id
}

func validSessionID(id string) bool {
	if id == "" || len(id) > maxSessionID {
		return false
	}
	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
		default:
			return false
		}
	}
	return true
}

// serverOnly reports whether clients are barred from sending an event type.
func serverOnly(t string) bool {
	switch t {
	case orchestrator.TypeTimer, orchestrator.TypeConnect, orchestrator.TypeDisconnect, orchestrator.TypeRejected:
		return true
	}
	return false
}

// serveSessionWS upgrades to a websocket for the :sessionid session.
func serveSessionWS(cfg *Config, sm *SessionManager) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		sessionID := ps.ByName("sessionid")
		if !validSessionID(sessionID) {
			http.Error(w, "invalid session id", http.StatusBadRequest)
			return
		}

		playerID := getOrSetPlayerID(w, r)

		room, err := sm.getRoom(sessionID)
		if err != nil {
			sm.deps.log.WithError(err).WithField("session", sessionID).Error("unable to open session")
			http.Error(w, "unable to open session", http.StatusInternalServerError)
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			room.log.WithError(err).Debug("upgrade failed")
			return
		}

		client := &Client{
			conn:     conn,
			send:     make(chan any, sendBuffer),
			playerID: playerID,
			limiter:  rate.NewLimiter(rate.Limit(cfg.rateLimit), cfg.rateBurst),
		}

		room.register(client)
		room.log.WithFields(logrus.Fields{
			"player": playerID,
			"remote": realIP(r),
		}).Debug("client connected")

		// CONNECT goes out for every connection so each one gets a sync.
		if err := room.orch.Enqueue(orchestrator.Event{Type: orchestrator.TypeConnect, Sender: playerID}); err != nil {
			room.unregister(client)
			_ = conn.Close()
			return
		}

		go client.writePump()
		client.readPump(room, cfg.playerTimeout)
	}
}

func (c *Client) readPump(room *Room, idle time.Duration) {
	defer func() {
		if room.unregister(c) {
			_ = room.orch.Enqueue(orchestrator.Event{Type: orchestrator.TypeDisconnect, Sender: c.playerID})
		}
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxFrameSize)

	for {
		var deadline time.Time
		if idle > 0 {
			deadline = time.Now().Add(idle)
		}
		_ = c.conn.SetReadDeadline(deadline)

		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		room.touch()

		if !c.limiter.Allow() {
			room.reply(c, orchestrator.RejectedMessage{Type: orchestrator.TypeRejected, Reason: reasonRateLimited})
			continue
		}

		ev, err := orchestrator.ParseFrame(c.playerID, raw)
		if err != nil || serverOnly(ev.Type) {
			room.reply(c, orchestrator.RejectedMessage{
				Type:      orchestrator.TypeRejected,
				Reason:    orchestrator.ReasonInvalid,
				EventType: ev.Type,
			})
			continue
		}

		if err := room.orch.Enqueue(ev); err != nil {
			return
		}
	}
}

func (c *Client) writePump() {
	defer c.conn.Close()

	for msg := range c.send {
		_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteJSON(msg); err != nil {
			return
		}
	}
}

// qrHandler generates a PNG QR code for the session URL using go-qrcode.
func qrHandler(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	sessionID := ps.ByName("sessionid")
	if !validSessionID(sessionID) {
		http.Error(w, "invalid session id", http.StatusBadRequest)
		return
	}

	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		scheme = proto
	}

	path := strings.TrimSuffix(r.URL.Path, "/qr")

	url := scheme + "://" + r.Host + path

	const qrSize = 320
	png, err := qrcode.Encode(url, qrcode.Medium, qrSize)
	if err != nil {
		http.Error(w, "qr generation failed", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "image/png")
	_, _ = w.Write(png)
}

func serveSessionPage(cfg *Config, path string) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		sessionID := ps.ByName("sessionid")
		if !validSessionID(sessionID) {
			http.Error(w, "invalid session id", http.StatusBadRequest)
			return
		}

		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		securityHeaders(cfg, w)

		_ = getOrSetPlayerID(w, r)

		_, _ = io.WriteString(w, newPage(
			"castaway "+sessionID,
			"Session "+sessionID+": share this link to invite players",
			cfg.prefix+path+"/"+sessionID+"/qr",
		))
	}
}

// redirectNewSession handles GET $path by redirecting to a fresh session id.
func redirectNewSession(cfg *Config, path string, sm *SessionManager) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		sessionID := sm.newSessionID()
		sm.deps.log.WithField("session", sessionID).Debug("created session id")
		http.Redirect(w, r, cfg.prefix+path+"/"+sessionID, http.StatusTemporaryRedirect)
	}
}

func registerSessions(cfg *Config, path string, mux *httprouter.Router, sm *SessionManager) {
	mux.GET(cfg.prefix+path, redirectNewSession(cfg, path, sm))

	mux.GET(cfg.prefix+path+"/:sessionid", serveSessionPage(cfg, path))

	mux.GET(cfg.prefix+path+"/:sessionid/ws", serveSessionWS(cfg, sm))

	mux.GET(cfg.prefix+path+"/:sessionid/qr", qrHandler)
}
