package ws

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"

	"github.com/fathima-sithara/churchconnect/internal/apperr"
	"github.com/fathima-sithara/churchconnect/internal/auth"
	"github.com/fathima-sithara/churchconnect/internal/domain"
	"github.com/fathima-sithara/churchconnect/internal/hub"
	"github.com/fathima-sithara/churchconnect/internal/metrics"
	"github.com/fathima-sithara/churchconnect/internal/session"
	"github.com/fathima-sithara/churchconnect/internal/store"
)

const localUser = "ws_user"

// Server authenticates the upgrade request and runs one connection per accepted socket.
type Server struct {
	verifier   *auth.Verifier
	store      store.Store
	sessions   *session.Manager
	dispatcher *Dispatcher
	opts       Options
	opTimeout  time.Duration
	metrics    *metrics.Metrics
	log        *zap.SugaredLogger

	mu      sync.Mutex
	live    map[*Connection]struct{}
	closing bool
	wg      sync.WaitGroup
}

func NewServer(v *auth.Verifier, st store.Store, sessions *session.Manager, d *Dispatcher, opts Options, opTimeout time.Duration, m *metrics.Metrics, log *zap.SugaredLogger) *Server {
	if opTimeout <= 0 {
		opTimeout = 5 * time.Second
	}
	return &Server{
		verifier:   v,
		store:      st,
		sessions:   sessions,
		dispatcher: d,
		opts:       opts.withDefaults(),
		opTimeout:  opTimeout,
		metrics:    m,
		log:        log,
		live:       make(map[*Connection]struct{}),
	}
}

// Register mounts the websocket endpoint at /ws.
func (s *Server) Register(r fiber.Router) {
	r.Use("/ws", s.authenticate)
	r.Get("/ws", websocket.New(s.serve))
}

// authenticate rejects the handshake before the upgrade. The token comes from the
// "token" query parameter or an Authorization bearer header.
func (s *Server) authenticate(c *fiber.Ctx) error {
	if !websocket.IsWebSocketUpgrade(c) {
		return fiber.ErrUpgradeRequired
	}
	token := c.Query("token")
	if token == "" {
		t, err := auth.BearerToken(c.Get(fiber.HeaderAuthorization))
		if err != nil {
			return reject(c, err)
		}
		token = t
	}
	id, err := s.verifier.Verify(token)
	if err != nil {
		return reject(c, err)
	}

	ctx, cancel := context.WithTimeout(c.UserContext(), s.opTimeout)
	defer cancel()
	user, err := s.store.GetUser(ctx, id.UserID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		return reject(c, apperr.New(apperr.CodeUnauthenticated, "unknown user"))
	case err != nil:
		s.log.Errorw("handshake user lookup", "user_id", id.UserID, "err", err)
		return reject(c, apperr.Unavailable(err))
	}
	c.Locals(localUser, user)
	return c.Next()
}

func reject(c *fiber.Ctx, err error) error {
	status := fiber.StatusUnauthorized
	if apperr.CodeOf(err) == apperr.CodeStoreUnavailable {
		status = fiber.StatusServiceUnavailable
	}
	return c.Status(status).JSON(fiber.Map{"error": apperr.Message(err)})
}

func (s *Server) serve(sock *websocket.Conn) {
	user, ok := sock.Locals(localUser).(*domain.User)
	if !ok {
		_ = sock.Close()
		return
	}
	conn := newConnection(sock, user.ID, s.opts, s.metrics, s.log)
	s.run(conn, user)
}

// run owns the connection lifecycle: register, pump until the socket dies, unregister.
func (s *Server) run(conn *Connection, user *domain.User) {
	if !s.track(conn) {
		conn.Close()
		return
	}
	defer s.untrack(conn)

	ctx, cancel := context.WithTimeout(context.Background(), s.opTimeout)
	err := s.sessions.OnConnect(ctx, user, conn)
	cancel()
	if err != nil {
		s.log.Warnw("connect rejected", "user_id", user.ID, "err", err)
		b := ErrorPayload{Code: apperr.CodeOf(err), Message: apperr.Message(err)}
		_ = conn.writeDirect(hub.Event{Type: hub.EventError, Payload: b})
		conn.Close()
		return
	}
	s.log.Infow("connected", "user_id", user.ID, "conn_id", conn.ID())

	go conn.writePump(func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.opTimeout)
		defer cancel()
		s.sessions.Touch(ctx, conn)
	})
	peer := Peer{Conn: conn, User: user}
	conn.readPump(func(data []byte) {
		s.dispatcher.Dispatch(context.Background(), peer, data)
	}, func(data []byte) {
		s.dispatcher.Throttled(peer, data)
	})

	ctx, cancel = context.WithTimeout(context.Background(), s.opTimeout)
	s.sessions.OnDisconnect(ctx, conn)
	cancel()
	s.log.Infow("disconnected", "user_id", user.ID, "conn_id", conn.ID())
}

// Shutdown refuses new sockets, closes every live one with 1001 (going away) and waits
// until each has run its disconnect path, so presence is persisted offline before exit.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closing = true
	conns := make([]*Connection, 0, len(s.live))
	for c := range s.live {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	s.log.Infow("closing websocket connections", "count", len(conns))
	for _, c := range conns {
		c.goingAway()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Server) track(c *Connection) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closing {
		return false
	}
	s.live[c] = struct{}{}
	s.wg.Add(1)
	return true
}

func (s *Server) untrack(c *Connection) {
	s.mu.Lock()
	delete(s.live, c)
	s.mu.Unlock()
	s.wg.Done()
}
