package eventsink

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/duomatch/lobby-coordinator/internal/core"
)

type fakePusher struct {
	mu     sync.Mutex
	pushed []string
}

func (f *fakePusher) RPush(ctx context.Context, key string, values ...any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, v := range values {
		f.pushed = append(f.pushed, string(v.([]byte)))
	}
	return nil
}

func silentLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	l.SetLevel(logrus.PanicLevel)
	return l
}

func TestRedisSinkFlushesOnBatchSize(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pusher := &fakePusher{}
	sink := NewRedisSink(ctx, silentLogger(), pusher, "test_queue")
	sink.batchSize = 3

	sink.Record(ctx, core.EventLobbyCreated, map[string]any{"lobby_id": "L1"})
	sink.Record(ctx, core.EventLobbyJoined, map[string]any{"lobby_id": "L1"})

	pusher.mu.Lock()
	require.Empty(t, pusher.pushed)
	pusher.mu.Unlock()

	sink.Record(ctx, core.EventReadyToggle, map[string]any{"lobby_id": "L1"})

	pusher.mu.Lock()
	defer pusher.mu.Unlock()
	require.Len(t, pusher.pushed, 3)

	var env envelope
	require.NoError(t, json.Unmarshal([]byte(pusher.pushed[0]), &env))
	require.Equal(t, core.EventLobbyCreated, env.Kind)
}

func TestLogSinkNeverPanics(t *testing.T) {
	sink := NewLogSink(silentLogger())
	require.NotPanics(t, func() {
		sink.Record(context.Background(), core.EventGameStarted, nil)
	})
}
