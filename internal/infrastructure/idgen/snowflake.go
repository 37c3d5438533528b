// Package idgen issues Snowflake-style 64-bit identifiers.
//
// An ID packs the milliseconds elapsed since constants.IDEpochMillis, a
// 10-bit worker identifier and a 12-bit per-millisecond sequence:
//
//	(ms - epoch) << 22 | worker << 12 | sequence
//
// IDs from one Generator are strictly increasing in issue order. IDs from
// generators with distinct worker identifiers never collide.
package idgen

import (
	"fmt"
	"os"
	"runtime"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/turtacn/admit/internal/clock"
	"github.com/turtacn/admit/pkg/constants"
	"github.com/turtacn/admit/pkg/errors"
)

const sequenceMask = uint64(constants.IDMaxSequence)

// ID is a Snowflake identifier.
type ID uint64

// Timestamp returns the millisecond the ID was issued in.
func (id ID) Timestamp() time.Time {
	return time.UnixMilli(id.Millis()).UTC()
}

// Millis returns the issue time in Unix milliseconds.
func (id ID) Millis() int64 {
	return int64(uint64(id)>>constants.IDTimestampShift) + constants.IDEpochMillis
}

// Worker returns the worker field.
func (id ID) Worker() uint16 {
	return uint16(uint64(id) >> constants.IDWorkerShift & constants.IDMaxWorker)
}

// Sequence returns the per-millisecond sequence field.
func (id ID) Sequence() uint16 {
	return uint16(uint64(id) & sequenceMask)
}

func (id ID) String() string {
	return strconv.FormatUint(uint64(id), 10)
}

// Parse decodes the decimal form produced by ID.String.
func Parse(s string) (ID, error) {
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, errors.ErrInvalidRequest(fmt.Sprintf("malformed id %q", s)).WithCause(err)
	}
	return ID(v), nil
}

// Recorder observes issued IDs.
type Recorder interface {
	IDIssued()
}

// Option configures a Generator.
type Option func(*Generator)

// WithClock overrides the time source.
func WithClock(c clock.Clock) Option {
	return func(g *Generator) { g.clock = c }
}

// WithRecorder attaches a metrics recorder.
func WithRecorder(r Recorder) Option {
	return func(g *Generator) { g.recorder = r }
}

// Generator is safe for concurrent use. Its only shared state is one atomic
// word holding the last millisecond (upper bits) and the sequence (low 12
// bits), advanced with compare-and-swap.
type Generator struct {
	clock    clock.Clock
	recorder Recorder
	worker   uint64
	state    atomic.Uint64
}

// NewGenerator creates a generator for workerID, which must fit in 10 bits.
func NewGenerator(workerID int64, opts ...Option) (*Generator, error) {
	if workerID < 0 || workerID > constants.IDMaxWorker {
		return nil, errors.ErrInvalidConfig("id.worker_id",
			fmt.Sprintf("must be within [0, %d], got %d", constants.IDMaxWorker, workerID))
	}
	g := &Generator{
		clock:  clock.System(),
		worker: uint64(workerID),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

// WorkerID returns the worker field stamped into every ID.
func (g *Generator) WorkerID() uint16 {
	return uint16(g.worker)
}

// Next returns the next identifier. It fails with ErrClockRollback when the
// clock reads earlier than the last issued millisecond. When the sequence for
// the current millisecond is exhausted it yields until the clock advances.
func (g *Generator) Next() (ID, error) {
	for {
		elapsed := g.clock.Now().UnixMilli() - constants.IDEpochMillis
		cur := g.state.Load()
		last := int64(cur >> constants.IDSequenceBits)

		var next uint64
		switch {
		case elapsed < last || elapsed < 0:
			return 0, errors.ErrClockRollback(last+constants.IDEpochMillis, elapsed+constants.IDEpochMillis)
		case elapsed == last:
			if cur&sequenceMask == sequenceMask {
				runtime.Gosched()
				continue
			}
			next = cur + 1
		default:
			next = uint64(elapsed) << constants.IDSequenceBits
		}

		if g.state.CompareAndSwap(cur, next) {
			if g.recorder != nil {
				g.recorder.IDIssued()
			}
			return g.compose(next), nil
		}
	}
}

func (g *Generator) compose(state uint64) ID {
	ms := state >> constants.IDSequenceBits
	seq := state & sequenceMask
	return ID(ms<<constants.IDTimestampShift | g.worker<<constants.IDWorkerShift | seq)
}

// DeriveWorkerID hashes the host name and process id into the worker range.
// Distinct processes on distinct hosts are likely, not guaranteed, to differ;
// deployments with more than a handful of workers should configure ids.
func DeriveWorkerID() int64 {
	host, err := os.Hostname()
	if err != nil {
		host = "unknown"
	}
	sum := xxhash.Sum64String(host + ":" + strconv.Itoa(os.Getpid()))
	return int64(sum & constants.IDMaxWorker)
}
