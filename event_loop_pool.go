package shlnet

import (
	"net"
	"runtime"
	"sync"

	"github.com/Senhnn/shlnet/tools/gopool"
	"github.com/Senhnn/shlnet/tools/logger"
	"github.com/Senhnn/shlnet/tools/shlneterror"
)

// ThreadInitCallback worker loop进入事件循环之前在它自己的goroutine上执行一次
type ThreadInitCallback func(*EventLoop)

// eventLoopWorker 在独立goroutine上构造并运行一个EventLoop。
// 构造发生在worker goroutine的栈上，spawner通过锁+条件变量
// 握手等到loop指针发布后才返回
type eventLoopWorker struct {
	mu           sync.Mutex
	cond         *sync.Cond
	loop         *EventLoop
	initCallback ThreadInitCallback
	lockOSThread bool
}

func newEventLoopWorker(cb ThreadInitCallback, lockOSThread bool) *eventLoopWorker {
	w := &eventLoopWorker{
		initCallback: cb,
		lockOSThread: lockOSThread,
	}
	w.cond = sync.NewCond(&w.mu)
	return w
}

// start 启动worker goroutine并等它发布自己的EventLoop
func (w *eventLoopWorker) start(done *sync.WaitGroup) *EventLoop {
	done.Add(1)
	gopool.Go(func() {
		w.run(done)
	})

	w.mu.Lock()
	for w.loop == nil {
		w.cond.Wait()
	}
	loop := w.loop
	w.mu.Unlock()
	return loop
}

func (w *eventLoopWorker) run(done *sync.WaitGroup) {
	defer done.Done()

	if w.lockOSThread {
		// 锁线程，获取更高效的性能
		runtime.LockOSThread()
		defer runtime.UnlockOSThread()
	}

	loop := NewEventLoop()
	if w.initCallback != nil {
		w.initCallback(loop)
	}

	w.mu.Lock()
	w.loop = loop
	w.cond.Signal()
	w.mu.Unlock()

	loop.Run()
	loop.Close()
}

// EventLoopPool 固定数量的worker EventLoop集合加一个挑选器。
// Start之后集合不可变；NextLoop只允许在主loop上调用
type EventLoopPool struct {
	baseLoop     *EventLoop // 主loop，非own
	started      bool
	numLoops     int
	lockOSThread bool
	workers      []*eventLoopWorker
	loops        []*EventLoop
	lb           loadBalancer
	wg           sync.WaitGroup
}

func NewEventLoopPool(baseLoop *EventLoop, lb LoadBalancing, lockOSThread bool) *EventLoopPool {
	return &EventLoopPool{
		baseLoop:     baseLoop,
		lockOSThread: lockOSThread,
		lb:           newLoadBalancer(lb),
	}
}

// SetLoopNum 设置worker loop数量，必须在Start之前调用
func (pool *EventLoopPool) SetLoopNum(n int) {
	pool.numLoops = n
}

// Start 启动全部worker。n==0时不开worker，init钩子在主loop上执行，
// NextLoop永远返回主loop
func (pool *EventLoopPool) Start(cb ThreadInitCallback) {
	if pool.started {
		logger.Error("EventLoopPool start refused:", shlneterror.ErrServerStarted)
		return
	}
	pool.baseLoop.assertInLoopThread()
	pool.started = true

	if pool.numLoops == 0 {
		if cb != nil {
			cb(pool.baseLoop)
		}
		return
	}

	for i := 0; i < pool.numLoops; i++ {
		w := newEventLoopWorker(cb, pool.lockOSThread)
		pool.workers = append(pool.workers, w)
		loop := w.start(&pool.wg)
		pool.loops = append(pool.loops, loop)
		pool.lb.register(loop)
	}
}

// NextLoop 给新连接挑一个worker loop，没有worker时返回主loop
func (pool *EventLoopPool) NextLoop(addr net.Addr) *EventLoop {
	if len(pool.loops) == 0 {
		return pool.baseLoop
	}
	return pool.lb.next(addr)
}

// Loops 全部worker loop
func (pool *EventLoopPool) Loops() []*EventLoop {
	return pool.loops
}

// Stop 通知全部worker退出并等它们结束
func (pool *EventLoopPool) Stop() {
	for _, loop := range pool.loops {
		loop.Quit()
	}
	pool.wg.Wait()
}
