package shlnet

import (
	"os"
	"sync"

	"go.uber.org/atomic"
	"golang.org/x/sys/unix"

	"github.com/Senhnn/shlnet/internal/curthread"
	"github.com/Senhnn/shlnet/internal/netpoll"
	"github.com/Senhnn/shlnet/tools/logger"
	"github.com/Senhnn/shlnet/tools/shlneterror"
	"github.com/Senhnn/shlnet/tools/taskqueue"
	"github.com/Senhnn/shlnet/tools/timestamp"
)

// 单次poll的阻塞上限，10秒
const pollTimeMs = 10 * 1000

// one loop per goroutine：goroutine id -> *EventLoop
var loopOfGoroutine sync.Map

// EventLoop 事件循环，poll -> 派发 -> 执行延迟任务。
// 一个goroutine至多创建一个EventLoop，重复创建是致命错误。
// RunInLoop/QueueInLoop/Quit可以跨goroutine调用，其余方法都只能
// 在本loop的goroutine上使用。
type EventLoop struct {
	looping      atomic.Bool
	quitting     atomic.Bool
	drainingTask atomic.Bool // 正在执行延迟任务

	goroutineID    int64
	poller         *Poller
	pollReturnTime timestamp.Timestamp

	// eventfd唤醒通道，跨goroutine提交任务后写它，
	// 让阻塞在poll里的loop立即返回
	wakeupFd      int
	wakeupChannel *Channel

	activeChannels []*Channel
	pendingTasks   *taskqueue.Queue
	drainBuf       []taskqueue.Task // 换出批次的复用缓冲

	index     int          // 在pool中的索引
	connCount atomic.Int32 // 活跃连接数，最小连接负载均衡用
}

func NewEventLoop() *EventLoop {
	gid := curthread.GoID()
	if v, ok := loopOfGoroutine.Load(gid); ok {
		logger.FatalF("%v: EventLoop %p already exists in goroutine %d", shlneterror.ErrEventLoopExist, v, gid)
	}

	wakeupFd, err := netpoll.NewEventFd()
	if err != nil {
		logger.Fatal("create eventfd error:", err)
	}

	loop := &EventLoop{
		goroutineID:  gid,
		wakeupFd:     wakeupFd,
		pendingTasks: taskqueue.New(),
		index:        -1,
	}
	loop.poller = NewPoller(loop)
	loop.wakeupChannel = NewChannel(loop, wakeupFd)
	loop.wakeupChannel.SetReadCallback(loop.handleWakeup)
	loop.wakeupChannel.EnableReading()
	loopOfGoroutine.Store(gid, loop)

	logger.DebugF("EventLoop %p created in goroutine %d", loop, gid)
	return loop
}

// Run 在创建本loop的goroutine上进入事件循环，直到Quit才返回
func (loop *EventLoop) Run() {
	loop.assertInLoopThread()
	loop.looping.Store(true)
	logger.DebugF("EventLoop %p start looping", loop)

	for !loop.quitting.Load() {
		loop.activeChannels = loop.activeChannels[:0]
		loop.pollReturnTime = loop.poller.Poll(pollTimeMs, &loop.activeChannels)

		// 按内核返回顺序派发
		for _, ch := range loop.activeChannels {
			ch.HandleEvent(loop.pollReturnTime)
		}

		loop.doPendingTasks()
	}

	// 观察到退出标志之前提交的任务不能丢
	loop.doPendingTasks()

	logger.DebugF("EventLoop %p stop looping", loop)
	loop.looping.Store(false)
}

// Quit 请求退出事件循环。跨goroutine调用时唤醒loop，
// 让它不用等完本轮poll超时就观察到退出标志
func (loop *EventLoop) Quit() {
	loop.quitting.Store(true)
	if !loop.IsInLoopThread() {
		loop.wakeup()
	}
}

// Close 释放loop资源，必须在Run返回之后调用
func (loop *EventLoop) Close() {
	loop.wakeupChannel.DisableAll()
	loop.wakeupChannel.Remove()
	if err := unix.Close(loop.wakeupFd); err != nil {
		logger.Error("close wakeup fd error:", os.NewSyscallError("close", err))
	}
	loop.poller.Close()
	loopOfGoroutine.Delete(loop.goroutineID)
}

// RunInLoop 在本loop的goroutine上执行f：
// 调用方就在loop goroutine上时内联执行，否则入队并唤醒
func (loop *EventLoop) RunInLoop(f func()) {
	if loop.IsInLoopThread() {
		f()
		return
	}
	loop.QueueInLoop(f)
}

// QueueInLoop 把f放入延迟任务队列，下一轮循环执行。
// 跨goroutine调用要唤醒loop；loop自己在执行延迟任务时再入队
// 也要唤醒——新任务属于下一批，必须让下一次poll立即返回，
// 否则会白等一个poll超时
func (loop *EventLoop) QueueInLoop(f func()) {
	loop.pendingTasks.Push(f)
	if !loop.IsInLoopThread() || loop.drainingTask.Load() {
		loop.wakeup()
	}
}

// PollReturnTime 最近一次poll返回的时间戳
func (loop *EventLoop) PollReturnTime() timestamp.Timestamp {
	return loop.pollReturnTime
}

// IsInLoopThread 当前goroutine是否为本loop的goroutine
func (loop *EventLoop) IsInLoopThread() bool {
	return curthread.GoID() == loop.goroutineID
}

func (loop *EventLoop) assertInLoopThread() {
	if !loop.IsInLoopThread() {
		logger.FatalF("EventLoop %p was created in goroutine %d, current goroutine %d",
			loop, loop.goroutineID, curthread.GoID())
	}
}

func (loop *EventLoop) updateChannel(ch *Channel) {
	loop.poller.UpdateChannel(ch)
}

func (loop *EventLoop) removeChannel(ch *Channel) {
	loop.poller.RemoveChannel(ch)
}

func (loop *EventLoop) hasChannel(ch *Channel) bool {
	return loop.poller.HasChannel(ch)
}

// 写eventfd唤醒阻塞在poll中的loop，多次唤醒在计数器上合并
func (loop *EventLoop) wakeup() {
	n, err := unix.Write(loop.wakeupFd, netpoll.NotifyData[:])
	if err != nil && err != unix.EAGAIN {
		logger.ErrorF("wakeup writes %d bytes error: %v", n, err)
	}
}

// 唤醒通道的读回调：读出并丢弃计数值，被唤醒本身就是目的
func (loop *EventLoop) handleWakeup(timestamp.Timestamp) {
	var buf [8]byte
	n, err := unix.Read(loop.wakeupFd, buf[:])
	if err != nil {
		logger.ErrorF("handleWakeup reads %d bytes error: %v", n, err)
	}
}

// 执行延迟任务：先把整批换出再逐个执行，临界区O(1)，
// 回调里继续入队的任务留给下一轮
func (loop *EventLoop) doPendingTasks() {
	loop.drainingTask.Store(true)
	loop.drainBuf = loop.pendingTasks.DrainTo(loop.drainBuf[:0])
	for _, f := range loop.drainBuf {
		f()
	}
	loop.drainingTask.Store(false)
}

// 活跃连接计数，负载均衡用
func (loop *EventLoop) addConn(delta int32) {
	loop.connCount.Add(delta)
}

func (loop *EventLoop) loadConn() int32 {
	return loop.connCount.Load()
}
