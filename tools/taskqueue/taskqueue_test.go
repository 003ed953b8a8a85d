package taskqueue_test

import (
	"sync"
	"testing"

	"github.com/Senhnn/shlnet/tools/taskqueue"
	"github.com/stretchr/testify/require"
)

func TestFIFO(t *testing.T) {
	q := taskqueue.New()
	var got []int
	for i := 0; i < 100; i++ {
		i := i
		q.Push(func() { got = append(got, i) })
	}
	require.Equal(t, 100, q.Len())

	buf := q.DrainTo(nil)
	require.Equal(t, 100, len(buf))
	require.Equal(t, 0, q.Len())
	for _, f := range buf {
		f()
	}
	for i, v := range got {
		require.Equal(t, i, v)
	}
}

// 换出之后入队的任务必须留到下一批
func TestDrainSwap(t *testing.T) {
	q := taskqueue.New()
	ran := 0
	q.Push(func() {
		ran++
		q.Push(func() { ran++ })
	})

	buf := q.DrainTo(nil)
	for _, f := range buf {
		f()
	}
	require.Equal(t, 1, ran)
	require.Equal(t, 1, q.Len())

	buf = q.DrainTo(buf[:0])
	for _, f := range buf {
		f()
	}
	require.Equal(t, 2, ran)
	require.Equal(t, 0, q.Len())
}

func TestConcurrentPush(t *testing.T) {
	q := taskqueue.New()
	wg := sync.WaitGroup{}
	wg.Add(4)
	for p := 0; p < 4; p++ {
		go func() {
			for i := 0; i < 10000; i++ {
				q.Push(func() {})
			}
			wg.Done()
		}()
	}
	wg.Wait()

	total := 0
	for q.Len() > 0 {
		total += len(q.DrainTo(nil))
	}
	require.Equal(t, 40000, total)
	t.Logf("sent and received all %d tasks", total)
}
