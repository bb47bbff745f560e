// Package ws implements the server side of the duplex alert channel on top
// of gorilla/websocket. Each accepted socket gets a read loop (register and
// push-token frames) and a write pump (alert frames, pings); the registry
// only ever sees the transport.Conn facade.
package ws

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"alertd/internal/eventbus"
	"alertd/internal/registry"
	"alertd/internal/transport"
	"alertd/pkg/alert"
	"alertd/pkg/logx"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Config tunes the per-connection behavior. Zero values pick defaults.
type Config struct {
	SendQueueSize int
	WriteTimeout  time.Duration
	PingInterval  time.Duration
	PongTimeout   time.Duration
	ReadLimit     int64
	// BackfillLimit caps how many stored alerts are replayed after
	// register; 0 replays the store's full window.
	BackfillLimit int
}

func (c Config) withDefaults() Config {
	if c.SendQueueSize <= 0 {
		c.SendQueueSize = 64
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 10 * time.Second
	}
	if c.PongTimeout <= 0 {
		c.PongTimeout = 60 * time.Second
	}
	if c.PingInterval <= 0 {
		// Must fire well inside the pong window.
		c.PingInterval = c.PongTimeout * 9 / 10
	}
	if c.ReadLimit <= 0 {
		c.ReadLimit = 16 << 10
	}
	return c
}

// Backfiller is the slice of the alert store the server replays after a
// register frame.
type Backfiller interface {
	Recent(limit int) []alert.Alert
}

type Server struct {
	cfg      Config
	reg      *registry.Registry
	backfill Backfiller
	bus      eventbus.Bus
	log      logx.Logger
	upgrader websocket.Upgrader
}

func NewServer(cfg Config, reg *registry.Registry, backfill Backfiller, bus eventbus.Bus, log logx.Logger) *Server {
	if log.IsZero() {
		log = logx.Nop()
	}
	cfg = cfg.withDefaults()
	return &Server{
		cfg:      cfg,
		reg:      reg,
		backfill: backfill,
		bus:      bus,
		log:      log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Device clients connect from app contexts, not browsers.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// Handler upgrades the request and services the connection until it drops.
func (s *Server) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sock, err := s.upgrader.Upgrade(w, r, nil)
		if err != nil {
			// Upgrade already wrote the HTTP error.
			s.log.Debug("websocket upgrade failed", logx.Err(err))
			return
		}

		c := &conn{
			id:           uuid.NewString(),
			ws:           sock,
			send:         make(chan []byte, s.cfg.SendQueueSize),
			done:         make(chan struct{}),
			writeTimeout: s.cfg.WriteTimeout,
			pingInterval: s.cfg.PingInterval,
		}
		log := s.log.With(logx.String("conn", c.id), logx.String("remote", r.RemoteAddr))
		log.Debug("socket opened")

		go c.writePump()
		s.readLoop(c, log)
	}
}

func (s *Server) readLoop(c *conn, log logx.Logger) {
	defer func() {
		c.Close()
		if id := c.getIdentity(); id != "" {
			// Guarded: a replacement connection for the same identity
			// must not be evicted by our teardown.
			s.reg.UnregisterConn(id, c)
			s.publish(eventbus.TypeClientGone, clientEvent{IdentityID: id, ConnID: c.id})
			log.Info("client disconnected", logx.String("identity", id))
		} else {
			log.Debug("socket closed before register")
		}
	}()

	c.ws.SetReadLimit(s.cfg.ReadLimit)
	_ = c.ws.SetReadDeadline(time.Now().Add(s.cfg.PongTimeout))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(s.cfg.PongTimeout))
	})

	for {
		_, msg, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Debug("socket read failed", logx.Err(err))
			}
			return
		}
		var env transport.Envelope
		if err := json.Unmarshal(msg, &env); err != nil {
			s.replyError(c, "malformed frame")
			continue
		}
		s.handleFrame(c, env, log)
	}
}

func (s *Server) handleFrame(c *conn, env transport.Envelope, log logx.Logger) {
	switch env.Event {
	case transport.EventRegister:
		var p transport.RegisterPayload
		if err := json.Unmarshal(env.Data, &p); err != nil || strings.TrimSpace(p.IdentityID) == "" {
			s.replyError(c, "register requires identityId")
			return
		}
		id := strings.TrimSpace(p.IdentityID)
		if prev := c.setIdentity(id); prev != "" && prev != id {
			// Same socket, new identity (logout/login). Release the old
			// binding or it would hold this conn past teardown and shadow
			// its push fallback.
			s.reg.UnregisterConn(prev, c)
			s.publish(eventbus.TypeClientGone, clientEvent{IdentityID: prev, ConnID: c.id})
			log.Info("identity released on re-register",
				logx.String("old_identity", prev), logx.String("identity", id))
		}
		s.reg.Register(id, c, strings.TrimSpace(p.PushToken))
		s.publish(eventbus.TypeClientConnected, clientEvent{IdentityID: id, ConnID: c.id})
		log.Info("client registered",
			logx.String("identity", id), logx.Bool("push_token", p.PushToken != ""))
		s.replayRecent(c, log)

	case transport.EventUpdatePushToken:
		var p transport.PushTokenPayload
		if err := json.Unmarshal(env.Data, &p); err != nil || strings.TrimSpace(p.IdentityID) == "" {
			s.replyError(c, "updatePushToken requires identityId")
			return
		}
		s.reg.UpdatePushToken(strings.TrimSpace(p.IdentityID), strings.TrimSpace(p.PushToken))
		log.Debug("push token updated", logx.String("identity", p.IdentityID))

	default:
		s.replyError(c, "unknown event: "+env.Event)
	}
}

// replayRecent sends the stored window oldest-first so the newest alert ends
// up at the head of the client's buffer. Client-side id dedup makes the
// replay idempotent across reconnects.
func (s *Server) replayRecent(c *conn, log logx.Logger) {
	if s.backfill == nil {
		return
	}
	recent := s.backfill.Recent(s.cfg.BackfillLimit)
	for i := len(recent) - 1; i >= 0; i-- {
		if err := c.Send(recent[i]); err != nil {
			log.Debug("backfill truncated", logx.Int("remaining", i+1), logx.Err(err))
			return
		}
	}
}

func (s *Server) replyError(c *conn, msg string) {
	_ = c.sendEnvelope(transport.EventConnectError, transport.ErrorPayload{Error: msg})
}

type clientEvent struct {
	IdentityID string `json:"identity_id"`
	ConnID     string `json:"conn_id"`
}

func (s *Server) publish(typ string, data clientEvent) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(eventbus.Event{Type: typ, Data: data})
}
