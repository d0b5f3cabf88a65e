package parallel

import (
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFor(t *testing.T) {
	var counter int64
	For(1000, func(_ int) {
		atomic.AddInt64(&counter, 1)
	}, DefaultConfig())

	assert.Equal(t, int64(1000), counter)
}

func TestForChunks_CoversRangeOnce(t *testing.T) {
	for _, cfg := range []Config{DefaultConfig(), Sequential(), {Enabled: true, NumWorkers: 3, MinChunkSize: 1}} {
		seen := make([]int32, 257)
		ForChunks(len(seen), func(start, end int) {
			for i := start; i < end; i++ {
				atomic.AddInt32(&seen[i], 1)
			}
		}, cfg)
		for i, v := range seen {
			assert.Equal(t, int32(1), v, "index %d", i)
		}
	}
}

func TestForChunks_Empty(t *testing.T) {
	called := false
	ForChunks(0, func(_, _ int) { called = true }, DefaultConfig())
	assert.False(t, called)
}
