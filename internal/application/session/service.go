// Package session tracks client sessions in a QueueStore so every process
// sharing the store sees them.
package session

import (
	"context"
	"strings"
	"time"

	"github.com/turtacn/admit/internal/clock"
	"github.com/turtacn/admit/internal/domain/models"
	"github.com/turtacn/admit/internal/domain/service"
	"github.com/turtacn/admit/internal/infrastructure/idgen"
	"github.com/turtacn/admit/internal/infrastructure/queue"
	"github.com/turtacn/admit/pkg/constants"
	"github.com/turtacn/admit/pkg/errors"
	"github.com/turtacn/admit/pkg/logger"
)

// IDSource issues session ids.
type IDSource interface {
	Next() (idgen.ID, error)
}

// Releaser forgets a client's rate-limit count on a route.
type Releaser interface {
	Release(ctx context.Context, route, clientKey string) error
}

// Service starts, looks up and ends sessions.
type Service struct {
	sessions     *queue.Typed[models.Session]
	ids          IDSource
	releaser     Releaser
	releaseRoute string
	ttl          time.Duration
	clock        clock.Clock
	logger       logger.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithTTL sets the session lifetime.
func WithTTL(ttl time.Duration) Option {
	return func(s *Service) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

// WithClock sets the time source.
func WithClock(c clock.Clock) Option {
	return func(s *Service) { s.clock = c }
}

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(s *Service) { s.logger = l.WithComponent("session_service") }
}

// WithReleaseOnEnd releases the client's bucket on route whenever one of
// its sessions ends.
func WithReleaseOnEnd(r Releaser, route string) Option {
	return func(s *Service) {
		s.releaser = r
		s.releaseRoute = route
	}
}

// New creates a session service on store.
func New(store service.QueueStore, ids IDSource, opts ...Option) *Service {
	s := &Service{
		sessions: queue.NewTyped[models.Session](store),
		ids:      ids,
		ttl:      constants.DefaultSessionTTL,
		clock:    clock.System(),
		logger:   logger.NewNopLogger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Key returns the queue key holding clientKey's sessions.
func Key(clientKey string) string {
	return constants.SessionKeyPrefix + clientKey
}

// Start records a new session for userID on clientKey.
func (s *Service) Start(ctx context.Context, userID, clientKey string, device models.Device) (models.Session, error) {
	if strings.TrimSpace(userID) == "" {
		return models.Session{}, errors.ErrInvalidRequest("user id is required")
	}
	if strings.TrimSpace(clientKey) == "" {
		return models.Session{}, errors.ErrInvalidRequest("client key is required")
	}
	if device != models.DeviceMobile && device != models.DeviceDesktop {
		return models.Session{}, errors.ErrInvalidRequest("device must be mobile or desktop")
	}

	id, err := s.ids.Next()
	if err != nil {
		s.logger.Error(ctx, "Failed to issue session id", err)
		return models.Session{}, err
	}
	now := s.clock.Now().UTC()
	sess := models.Session{
		ID:        id.String(),
		UserID:    userID,
		StartedAt: now,
		Device:    device,
		Expiry:    now.Add(s.ttl),
	}

	key := Key(clientKey)
	if err := s.sessions.Push(ctx, key, sess); err != nil {
		return models.Session{}, err
	}
	if exp, ok := s.sessions.Store().(service.Expirer); ok {
		if err := exp.Expire(ctx, key, s.ttl); err != nil {
			s.logger.Warn(ctx, "Failed to set session key ttl",
				logger.String("key", key),
				logger.Err(err),
			)
		}
	}

	s.logger.Info(ctx, "Session started",
		logger.String("session_id", sess.ID),
		logger.String("user_id", userID),
		logger.String("device", device.String()),
	)
	return sess, nil
}

// Current returns the oldest live session for clientKey. Expired sessions
// at the head are discarded on the way, but only while they are still the
// head, so a concurrent reader never reorders live sessions. With a store
// that cannot remove conditionally an expired head reports no session.
func (s *Service) Current(ctx context.Context, clientKey string) (models.Session, bool, error) {
	key := Key(clientKey)
	for {
		head, raw, ok, err := s.sessions.PeekRecord(ctx, key)
		if err != nil || !ok {
			return models.Session{}, false, err
		}
		if !head.Expired(s.clock.Now()) {
			return head, true, nil
		}

		removed, supported, err := s.sessions.RemoveHead(ctx, key, raw)
		if err != nil {
			return models.Session{}, false, err
		}
		if !supported {
			return models.Session{}, false, nil
		}
		if removed {
			s.logger.Debug(ctx, "Discarded expired session", logger.String("session_id", head.ID))
		}
	}
}

// End removes the oldest session for clientKey. ok is false when there was
// none.
func (s *Service) End(ctx context.Context, clientKey string) (models.Session, bool, error) {
	sess, ok, err := s.sessions.Pop(ctx, Key(clientKey))
	if err != nil || !ok {
		return models.Session{}, false, err
	}
	if s.releaser != nil {
		if err := s.releaser.Release(ctx, s.releaseRoute, clientKey); err != nil {
			s.logger.Warn(ctx, "Failed to release session bucket",
				logger.String("client_key", clientKey),
				logger.Err(err),
			)
		}
	}
	s.logger.Info(ctx, "Session ended", logger.String("session_id", sess.ID))
	return sess, true, nil
}

// Count returns how many sessions are queued for clientKey.
func (s *Service) Count(ctx context.Context, clientKey string) (uint64, error) {
	return s.sessions.Size(ctx, Key(clientKey))
}
