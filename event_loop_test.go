package shlnet

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// 在独立goroutine上起一个loop，返回loop和等它退出的函数
func startTestLoop(t *testing.T) (*EventLoop, func()) {
	t.Helper()
	loopCh := make(chan *EventLoop, 1)
	done := make(chan struct{})
	go func() {
		loop := NewEventLoop()
		loopCh <- loop
		loop.Run()
		loop.Close()
		close(done)
	}()
	loop := <-loopCh
	join := func() {
		loop.Quit()
		select {
		case <-done:
		case <-time.After(15 * time.Second):
			t.Fatal("loop did not quit")
		}
	}
	return loop, join
}

// 5个goroutine并发提交10000个任务：每个恰好执行一次，
// 单个提交者内部顺序保持
func TestQueueInLoopCrossGoroutine(t *testing.T) {
	loop, join := startTestLoop(t)
	defer join()

	const producers = 5
	const perProducer = 2000

	// results只在loop goroutine上被修改
	results := make([][]int, producers)
	wg := sync.WaitGroup{}
	wg.Add(producers * perProducer)

	for p := 0; p < producers; p++ {
		p := p
		go func() {
			for i := 0; i < perProducer; i++ {
				i := i
				loop.QueueInLoop(func() {
					results[p] = append(results[p], i)
					wg.Done()
				})
			}
		}()
	}
	wg.Wait()

	total := 0
	for p := 0; p < producers; p++ {
		total += len(results[p])
		for i, v := range results[p] {
			require.Equal(t, i, v, "producer %d out of order", p)
		}
	}
	require.Equal(t, producers*perProducer, total)
}

// loop goroutine上RunInLoop内联执行
func TestRunInLoopInline(t *testing.T) {
	loop, join := startTestLoop(t)
	defer join()

	got := make(chan []string, 1)
	loop.RunInLoop(func() {
		var order []string
		order = append(order, "before")
		loop.RunInLoop(func() {
			order = append(order, "inline")
		})
		order = append(order, "after")
		got <- order
	})

	select {
	case order := <-got:
		require.Equal(t, []string{"before", "inline", "after"}, order)
	case <-time.After(5 * time.Second):
		t.Fatal("task not executed")
	}
}

// 执行延迟任务期间入队的任务留到下一轮，但不会等完整个poll超时
func TestQueueInLoopWhileDraining(t *testing.T) {
	loop, join := startTestLoop(t)
	defer join()

	done := make(chan time.Duration, 1)
	loop.QueueInLoop(func() {
		start := time.Now()
		loop.QueueInLoop(func() {
			done <- time.Since(start)
		})
	})

	select {
	case d := <-done:
		// 唤醒生效的话远小于10s的poll超时
		require.Less(t, d, 5*time.Second)
	case <-time.After(12 * time.Second):
		t.Fatal("re-queued task lost")
	}
}

// 跨goroutine的Quit在一个poll窗口内生效
func TestQuitFromOtherGoroutine(t *testing.T) {
	loopCh := make(chan *EventLoop, 1)
	done := make(chan struct{})
	go func() {
		loop := NewEventLoop()
		loopCh <- loop
		loop.Run()
		loop.Close()
		close(done)
	}()
	loop := <-loopCh

	start := time.Now()
	loop.Quit()
	select {
	case <-done:
		require.Less(t, time.Since(start), 5*time.Second)
	case <-time.After(12 * time.Second):
		t.Fatal("quit did not wake the loop")
	}
}

// quit之前提交的任务在Run返回前执行完
func TestPendingTasksRunBeforeQuit(t *testing.T) {
	loopCh := make(chan *EventLoop, 1)
	done := make(chan struct{})
	go func() {
		loop := NewEventLoop()
		loopCh <- loop
		loop.Run()
		loop.Close()
		close(done)
	}()
	loop := <-loopCh

	executed := false
	loop.QueueInLoop(func() { executed = true })
	loop.Quit()
	select {
	case <-done:
	case <-time.After(12 * time.Second):
		t.Fatal("loop did not quit")
	}
	require.True(t, executed)
}

func TestIsInLoopThread(t *testing.T) {
	loop, join := startTestLoop(t)
	defer join()

	require.False(t, loop.IsInLoopThread())

	got := make(chan bool, 1)
	loop.RunInLoop(func() {
		got <- loop.IsInLoopThread()
	})
	require.True(t, <-got)
}
