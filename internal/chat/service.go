// Package chat is the message pipeline and receipt reconciler, plus the conversation
// operations the REST surface exposes. Both the websocket dispatcher and the HTTP
// handlers call into the same Service so preconditions, writes and broadcasts match.
package chat

import (
	"context"
	"errors"
	"hash/fnv"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/fathima-sithara/churchconnect/internal/apperr"
	"github.com/fathima-sithara/churchconnect/internal/domain"
	"github.com/fathima-sithara/churchconnect/internal/events"
	"github.com/fathima-sithara/churchconnect/internal/hub"
	"github.com/fathima-sithara/churchconnect/internal/metrics"
	"github.com/fathima-sithara/churchconnect/internal/store"
)

const (
	DefaultPageSize = 50
	MaxPageSize     = 200
)

type Service struct {
	store     store.Store
	rooms     *hub.Rooms
	registry  *hub.Registry
	events    events.Publisher
	metrics   *metrics.Metrics
	validate  *validator.Validate
	opTimeout time.Duration
	log       *zap.SugaredLogger

	convLocks [64]sync.Mutex
}

type Option func(*Service)

func WithPublisher(p events.Publisher) Option { return func(s *Service) { s.events = p } }

func WithMetrics(m *metrics.Metrics) Option { return func(s *Service) { s.metrics = m } }

// WithOpTimeout bounds every store round trip made by one operation.
func WithOpTimeout(d time.Duration) Option { return func(s *Service) { s.opTimeout = d } }

func NewService(st store.Store, registry *hub.Registry, rooms *hub.Rooms, log *zap.SugaredLogger, opts ...Option) *Service {
	s := &Service{
		store:     st,
		rooms:     rooms,
		registry:  registry,
		events:    events.Nop{},
		validate:  newValidator(),
		opTimeout: 5 * time.Second,
		log:       log,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Service) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.opTimeout)
}

// requireMember returns the caller's membership row or denied when there is none.
func (s *Service) requireMember(ctx context.Context, convID, userID string, denied error) (*domain.ConversationMember, error) {
	m, err := s.store.GetMember(ctx, convID, userID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, denied
	}
	return m, err
}

// joinLive subscribes the user's open connections to convID, so membership granted over
// REST takes effect without a reconnect.
func (s *Service) joinLive(userID, convID string) {
	for _, c := range s.registry.Lookup(userID) {
		s.rooms.Join(c, convID)
	}
}

func (s *Service) publish(ctx context.Context, name, convID, actorID string, data any) {
	ev := events.Event{Name: name, ConversationID: convID, ActorID: actorID, Data: data, OccurredAt: store.Now()}
	if err := s.events.Publish(ctx, ev); err != nil {
		s.log.Warnw("publish event failed", "event", name, "conversation_id", convID, "err", err)
	}
}

func (s *Service) lockConversation(convID string) func() {
	h := fnv.New32a()
	_, _ = h.Write([]byte(convID))
	mu := &s.convLocks[h.Sum32()%uint32(len(s.convLocks))]
	mu.Lock()
	return mu.Unlock
}

func notFound(err error, msg string) error {
	if errors.Is(err, store.ErrNotFound) {
		return apperr.NotFound(msg)
	}
	return err
}
