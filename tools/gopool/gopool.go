package gopool

import (
	"context"
	"sync"

	"github.com/Senhnn/GoroutinePool"
)

func Go(f func()) {
	GoroutinePool.Go(f)
}

func CtxGo(ctx context.Context, f func()) {
	GoroutinePool.CtxGo(ctx, f)
}

// WorkerPool 给回调里的阻塞型任务使用的工作池。
// 连接回调中不允许阻塞，耗时工作Submit到这里执行，
// 结果通过conn所属EventLoop的RunInLoop送回。
// Submit按FIFO顺序执行，Shutdown等待已提交任务全部执行完。
type WorkerPool struct {
	tasks chan func()
	wg    sync.WaitGroup
	once  sync.Once
}

func NewWorkerPool(queueSize int) *WorkerPool {
	if queueSize <= 0 {
		queueSize = 1024
	}
	p := &WorkerPool{tasks: make(chan func(), queueSize)}
	p.wg.Add(1)
	// 单个消费goroutine保证FIFO执行语义
	GoroutinePool.Go(func() {
		defer p.wg.Done()
		for f := range p.tasks {
			f()
		}
	})
	return p
}

// Submit 提交任务，队列满时阻塞调用方
func (p *WorkerPool) Submit(f func()) {
	p.tasks <- f
}

// Shutdown 关闭任务入口并等待剩余任务执行完毕
func (p *WorkerPool) Shutdown() {
	p.once.Do(func() {
		close(p.tasks)
	})
	p.wg.Wait()
}
