package engine

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/morph/internal/ir"
)

func TestClockNumbersFromStart(t *testing.T) {
	for _, start := range []int64{0, 41} {
		c := NewClock(start)
		assert.Equal(t, start, c.Current())
		assert.Equal(t, start+1, c.Next())
		assert.Equal(t, start+2, c.Next())
		assert.Equal(t, start+2, c.Current())
	}
}

func TestClockAdvanceIsMonotonic(t *testing.T) {
	c := NewClock(0)
	c.Advance(10)
	assert.EqualValues(t, 10, c.Current())
	c.Advance(5)
	assert.EqualValues(t, 10, c.Current())
	assert.EqualValues(t, 11, c.Next())
}

func TestClockConcurrentNextIsUnique(t *testing.T) {
	c := NewClock(0)
	const workers, each = 32, 200

	var (
		mu   sync.Mutex
		seen = make(map[int64]struct{}, workers*each)
		wg   sync.WaitGroup
	)
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			local := make([]int64, 0, each)
			for range each {
				local = append(local, c.Next())
			}
			mu.Lock()
			defer mu.Unlock()
			for _, s := range local {
				seen[s] = struct{}{}
			}
		}()
	}
	wg.Wait()
	assert.Len(t, seen, workers*each)
	assert.EqualValues(t, workers*each, c.Current())
}

func TestWithClockResumesNumbering(t *testing.T) {
	e, rec := newEngine(t, program(t, addFn()), WithClock(NewClock(500)), WithThresholds(quickThresholds()))

	for range 2 {
		_, err := e.Invoke(context.Background(), "add", []ir.Value{ir.Int(1), ir.Int(2)})
		require.NoError(t, err)
	}
	assert.EqualValues(t, 502, e.Clock().Current())
	require.NotEmpty(t, rec.Events())
	assert.EqualValues(t, 502, rec.Events()[0].Seq, "promotion carries the seq of the second call")
}
