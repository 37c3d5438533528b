package queue

import (
	"bytes"
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/turtacn/admit/pkg/constants"
	"github.com/turtacn/admit/pkg/errors"
	"github.com/turtacn/admit/pkg/logger"
)

// maxPopAttempts bounds retries when concurrent pops race for one head.
const maxPopAttempts = 8

// QueueRecord is one element of a SQL-backed list. Auto-increment ids give
// FIFO order per key.
type QueueRecord struct {
	ID        uint64 `gorm:"primaryKey;autoIncrement"`
	Key       string `gorm:"column:queue_key;size:255;not null;index"`
	Payload   []byte `gorm:"not null"`
	CreatedAt time.Time
}

// TableName overrides the gorm default.
func (QueueRecord) TableName() string {
	return "queue_records"
}

// SQLStore is a QueueStore on any gorm dialect. It suits deployments that
// already run a database and want durable queues.
type SQLStore struct {
	db      *gorm.DB
	timeout time.Duration
	logger  logger.Logger
}

// SQLOption configures a SQLStore.
type SQLOption func(*SQLStore)

// WithSQLTimeout bounds each statement in addition to the caller's context.
func WithSQLTimeout(d time.Duration) SQLOption {
	return func(s *SQLStore) { s.timeout = d }
}

// WithSQLLogger sets the logger.
func WithSQLLogger(l logger.Logger) SQLOption {
	return func(s *SQLStore) { s.logger = l.WithComponent("sql_queue") }
}

// NewSQLStore creates a store on db and migrates its table.
func NewSQLStore(ctx context.Context, db *gorm.DB, opts ...SQLOption) (*SQLStore, error) {
	if db == nil {
		return nil, errors.ErrInvalidRequest("database handle is required")
	}
	s := &SQLStore{
		db:      db,
		timeout: constants.DefaultStoreTimeout,
		logger:  logger.NewNopLogger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if err := db.WithContext(ctx).AutoMigrate(&QueueRecord{}); err != nil {
		return nil, errors.ErrStoreUnavailable("migrate", err)
	}
	return s, nil
}

func (s *SQLStore) session(ctx context.Context) (*gorm.DB, context.CancelFunc) {
	if s.timeout <= 0 {
		return s.db.WithContext(ctx), func() {}
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	return s.db.WithContext(ctx), cancel
}

func (s *SQLStore) fail(ctx context.Context, op, key string, err error) error {
	s.logger.Warn(ctx, "Queue operation failed",
		logger.String("op", op),
		logger.String("key", key),
		logger.Err(err),
	)
	return errors.ErrStoreUnavailable(op, err)
}

// Push inserts a record at the tail.
func (s *SQLStore) Push(ctx context.Context, key string, value []byte) error {
	db, cancel := s.session(ctx)
	defer cancel()
	rec := QueueRecord{Key: key, Payload: value}
	if err := db.Create(&rec).Error; err != nil {
		return s.fail(ctx, "push", key, err)
	}
	return nil
}

func (s *SQLStore) head(db *gorm.DB, key string) (*QueueRecord, error) {
	var recs []QueueRecord
	if err := db.Where("queue_key = ?", key).Order("id").Limit(1).Find(&recs).Error; err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return nil, nil
	}
	return &recs[0], nil
}

// Pop deletes and returns the head. A head deleted by a concurrent pop is
// retried against the new head.
func (s *SQLStore) Pop(ctx context.Context, key string) ([]byte, bool, error) {
	db, cancel := s.session(ctx)
	defer cancel()

	for attempt := 0; attempt < maxPopAttempts; attempt++ {
		var popped *QueueRecord
		err := db.Transaction(func(tx *gorm.DB) error {
			rec, err := s.head(tx, key)
			if err != nil || rec == nil {
				return err
			}
			res := tx.Where("id = ?", rec.ID).Delete(&QueueRecord{})
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 1 {
				popped = rec
			}
			return nil
		})
		if err != nil {
			return nil, false, s.fail(ctx, "pop", key, err)
		}
		if popped != nil {
			return popped.Payload, true, nil
		}
		var n int64
		if err := db.Model(&QueueRecord{}).Where("queue_key = ?", key).Count(&n).Error; err != nil {
			return nil, false, s.fail(ctx, "pop", key, err)
		}
		if n == 0 {
			return nil, false, nil
		}
	}
	return nil, false, s.fail(ctx, "pop", key, errors.ErrInternal("pop contention"))
}

// RemoveHead deletes the head only if its payload equals expected.
func (s *SQLStore) RemoveHead(ctx context.Context, key string, expected []byte) (bool, error) {
	db, cancel := s.session(ctx)
	defer cancel()

	var removed bool
	err := db.Transaction(func(tx *gorm.DB) error {
		rec, err := s.head(tx, key)
		if err != nil || rec == nil || !bytes.Equal(rec.Payload, expected) {
			return err
		}
		res := tx.Where("id = ?", rec.ID).Delete(&QueueRecord{})
		if res.Error != nil {
			return res.Error
		}
		removed = res.RowsAffected == 1
		return nil
	})
	if err != nil {
		return false, s.fail(ctx, "remove_head", key, err)
	}
	return removed, nil
}

// Peek returns the head without removing it.
func (s *SQLStore) Peek(ctx context.Context, key string) ([]byte, bool, error) {
	db, cancel := s.session(ctx)
	defer cancel()
	rec, err := s.head(db, key)
	if err != nil {
		return nil, false, s.fail(ctx, "peek", key, err)
	}
	if rec == nil {
		return nil, false, nil
	}
	return rec.Payload, true, nil
}

// Size counts the records under key.
func (s *SQLStore) Size(ctx context.Context, key string) (uint64, error) {
	db, cancel := s.session(ctx)
	defer cancel()
	var n int64
	if err := db.Model(&QueueRecord{}).Where("queue_key = ?", key).Count(&n).Error; err != nil {
		return 0, s.fail(ctx, "size", key, err)
	}
	return uint64(n), nil
}

// Ping checks the database connection.
func (s *SQLStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}
