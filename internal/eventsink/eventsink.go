// Package eventsink implements the structured append-only lobby event
// log from spec.md §4.2. LogSink is always present; RedisSink wraps it
// and additionally durably queues events the way the teacher's
// historian service queues game actions (cmd/db/historian.go,
// internal/cache/redis.go in the reference corpus), batching pushes to a
// Redis list instead of writing one RPush per event.
package eventsink

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/duomatch/lobby-coordinator/internal/core"
)

// LogSink records events through a structured logger. Per spec.md §4.2/§7
// it is best-effort: it never returns an error, and this is the fallback
// every other sink wraps.
type LogSink struct {
	log *logrus.Logger
}

// NewLogSink constructs a LogSink. logger must not be nil.
func NewLogSink(logger *logrus.Logger) *LogSink {
	return &LogSink{log: logger}
}

func (s *LogSink) Record(ctx context.Context, kind core.EventKind, fields map[string]any) {
	entry := s.log.WithField("event_kind", string(kind))
	for k, v := range fields {
		entry = entry.WithField(k, v)
	}
	entry.Info("lobby_event")
}

var _ core.EventSink = (*LogSink)(nil)

// envelope is the JSON shape pushed onto the Redis queue, grounded on
// cmd/db/historian.go's GameActionRecord.
type envelope struct {
	Kind      core.EventKind `json:"kind"`
	Fields    map[string]any `json:"fields"`
	Timestamp int64          `json:"timestamp"`
}

// redisPusher is the subset of *redis.Client RedisSink needs, so tests
// can substitute a fake without a live Redis server.
type redisPusher interface {
	RPush(ctx context.Context, key string, values ...any) error
}

// RedisSink wraps a LogSink and batches event envelopes to a Redis list,
// flushing on a fixed interval or once the batch fills, mirroring the
// teacher's HistorianService batch loop.
type RedisSink struct {
	*LogSink
	client    redisPusher
	queueName string

	mu    sync.Mutex
	batch []envelope

	batchSize int
}

const defaultQueueName = "lobby_events"
const defaultBatchSize = 20
const defaultFlushInterval = 500 * time.Millisecond

// NewRedisSink constructs a RedisSink and starts its background flush
// loop, which runs until ctx is cancelled.
func NewRedisSink(ctx context.Context, logger *logrus.Logger, client redisPusher, queueName string) *RedisSink {
	if queueName == "" {
		queueName = defaultQueueName
	}
	s := &RedisSink{
		LogSink:   NewLogSink(logger),
		client:    client,
		queueName: queueName,
		batchSize: defaultBatchSize,
	}
	go s.flushLoop(ctx)
	return s
}

func (s *RedisSink) Record(ctx context.Context, kind core.EventKind, fields map[string]any) {
	s.LogSink.Record(ctx, kind, fields)

	env := envelope{Kind: kind, Fields: fields, Timestamp: time.Now().UnixMilli()}
	s.mu.Lock()
	s.batch = append(s.batch, env)
	shouldFlush := len(s.batch) >= s.batchSize
	s.mu.Unlock()

	if shouldFlush {
		s.flush(ctx)
	}
}

func (s *RedisSink) flushLoop(ctx context.Context) {
	ticker := time.NewTicker(defaultFlushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.flush(context.Background())
			return
		case <-ticker.C:
			s.flush(ctx)
		}
	}
}

func (s *RedisSink) flush(ctx context.Context) {
	s.mu.Lock()
	if len(s.batch) == 0 {
		s.mu.Unlock()
		return
	}
	pending := s.batch
	s.batch = nil
	s.mu.Unlock()

	values := make([]any, 0, len(pending))
	for _, env := range pending {
		data, err := json.Marshal(env)
		if err != nil {
			s.log.WithError(err).Warn("eventsink: failed to marshal envelope, dropping")
			continue
		}
		values = append(values, data)
	}
	if len(values) == 0 {
		return
	}
	if err := s.client.RPush(ctx, s.queueName, values...); err != nil {
		// Best-effort: spec.md §4.2/§7 requires sink failures never
		// fail the calling core operation, which already returned
		// before this async flush runs.
		s.log.WithError(err).Warn("eventsink: redis rpush failed, events dropped")
	}
}

var _ core.EventSink = (*RedisSink)(nil)
