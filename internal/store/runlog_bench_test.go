package store

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/google/uuid"

	"github.com/tandemlab/tandem/pkg/schema"
)

func newBenchStore(b *testing.B) (*LibSQLStore, *RunLog) {
	b.Helper()
	dir := b.TempDir()
	s, err := NewLibSQLStore("file:" + dir + "/bench.db")
	if err != nil {
		b.Fatal(err)
	}
	if err := s.Migrate(context.Background()); err != nil {
		b.Fatal(err)
	}
	b.Cleanup(func() { _ = s.Close() })
	return s, NewRunLog(s)
}

func BenchmarkRunEventAppend_Sequential(b *testing.B) {
	_, rl := newBenchStore(b)
	ctx := context.Background()
	runID := uuid.New().String()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		rl.Append(ctx, &RunEvent{
			RunID:  runID,
			TestID: "t1",
			Type:   schema.EventTestStarted,
		})
	}
}

func BenchmarkRunEventAppend_MultipleRuns(b *testing.B) {
	_, rl := newBenchStore(b)
	ctx := context.Background()

	runIDs := make([]string, 100)
	for i := range runIDs {
		runIDs[i] = uuid.New().String()
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		rl.Append(ctx, &RunEvent{
			RunID:  runIDs[i%len(runIDs)],
			TestID: "t1",
			Type:   schema.EventTestStarted,
		})
	}
}

func BenchmarkRunEventAppend_Concurrent(b *testing.B) {
	for _, writers := range []int{10, 50, 100} {
		b.Run(fmt.Sprintf("writers=%d", writers), func(b *testing.B) {
			benchRunEventAppendConcurrent(b, writers)
		})
	}
}

func benchRunEventAppendConcurrent(b *testing.B, writers int) {
	_, rl := newBenchStore(b)
	ctx := context.Background()

	// Each writer gets its own run to avoid sequence contention.
	runIDs := make([]string, writers)
	for i := range runIDs {
		runIDs[i] = uuid.New().String()
	}

	b.ResetTimer()
	var wg sync.WaitGroup
	perWriter := b.N / writers
	if perWriter == 0 {
		perWriter = 1
	}

	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(runID string) {
			defer wg.Done()
			for j := 0; j < perWriter; j++ {
				rl.Append(ctx, &RunEvent{
					RunID:  runID,
					TestID: fmt.Sprintf("t%d", j%10),
					Type:   schema.EventTestStarted,
				})
			}
		}(runIDs[w])
	}
	wg.Wait()
}

func BenchmarkRunReplay(b *testing.B) {
	for _, count := range []int{10, 100, 1000} {
		b.Run(fmt.Sprintf("events=%d", count), func(b *testing.B) {
			_, rl := newBenchStore(b)
			ctx := context.Background()
			runID := uuid.New().String()

			// Pre-populate events.
			for i := 0; i < count; i++ {
				testID := fmt.Sprintf("t%d", i%10)
				typ := schema.EventTestStarted
				if i%2 == 1 {
					typ = schema.EventTestCompleted
				}
				rl.Append(ctx, &RunEvent{
					RunID:  runID,
					TestID: testID,
					Type:   typ,
				})
			}

			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				rl.Replay(ctx, runID)
			}
		})
	}
}
