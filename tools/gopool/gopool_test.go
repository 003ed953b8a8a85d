package gopool_test

import (
	"testing"
	"time"

	"github.com/Senhnn/shlnet/tools/gopool"
	"github.com/stretchr/testify/require"
)

func TestGo(t *testing.T) {
	done := make(chan struct{})
	gopool.Go(func() {
		close(done)
	})
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("task not executed")
	}
}

// Submit按FIFO顺序执行，Shutdown把已提交任务清完才返回
func TestWorkerPoolFIFO(t *testing.T) {
	p := gopool.NewWorkerPool(16)

	const total = 100
	results := make(chan int, total)
	for i := 0; i < total; i++ {
		i := i
		p.Submit(func() {
			results <- i
		})
	}
	p.Shutdown()

	require.Equal(t, total, len(results))
	for i := 0; i < total; i++ {
		require.Equal(t, i, <-results)
	}
}

func TestWorkerPoolShutdownTwice(t *testing.T) {
	p := gopool.NewWorkerPool(4)
	ran := false
	p.Submit(func() { ran = true })
	p.Shutdown()
	p.Shutdown() // 幂等
	require.True(t, ran)
}
