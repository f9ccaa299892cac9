package diag

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecorderKeepsOrder(t *testing.T) {
	r := NewRecorder()
	assert.Empty(t, r.Events())

	ctx := context.Background()
	r.Emit(ctx, Event{Seq: 1, Kind: KindPromotion, Function: "f"})
	r.Emit(ctx, Event{Seq: 2, Kind: KindDeoptimization, Function: "f"})
	r.Emit(ctx, Event{Seq: 3, Kind: KindPromotion, Function: "g"})

	evs := r.Events()
	require.Len(t, evs, 3)
	assert.Equal(t, int64(1), evs[0].Seq)
	assert.Equal(t, 2, r.Count(KindPromotion))

	r.Reset()
	assert.Empty(t, r.Events())
}

func TestLogSink(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	s := NewLogSink(logger)

	s.Emit(context.Background(), Event{
		Seq: 7, Kind: KindHardeningFailure, Function: "add",
		From: "refine", To: "observe", Shape: "(i64,i64)", Message: "boom",
	})

	out := buf.String()
	assert.Contains(t, out, "level=WARN")
	assert.Contains(t, out, "msg=hardening_failure")
	assert.Contains(t, out, "function=add")
	assert.Contains(t, out, "shape=(i64,i64)")
	assert.Contains(t, out, "message=boom")
}

func TestMultiFansOut(t *testing.T) {
	a, b := NewRecorder(), NewRecorder()
	m := Multi(a, nil, b, Discard)
	m.Emit(context.Background(), Event{Kind: KindPromotion})
	assert.Len(t, a.Events(), 1)
	assert.Len(t, b.Events(), 1)
}
