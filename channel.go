package shlnet

import (
	"runtime"

	"go.uber.org/atomic"
	"golang.org/x/sys/unix"

	"github.com/Senhnn/shlnet/internal/netpoll"
	"github.com/Senhnn/shlnet/tools/logger"
	"github.com/Senhnn/shlnet/tools/timestamp"
)

// Channel 封装单个fd的事件注册：兴趣事件集合、poller返回的就绪事件、
// 四个事件回调，以及对上层owner的生命周期绑定。
// 不拥有fd；所有修改和回调派发都发生在所属EventLoop的goroutine上。
type Channel struct {
	loop *EventLoop
	fd   int

	events  uint32 // 关注的事件
	revents uint32 // poller返回的就绪事件
	index   int    // 在poller中的状态，见poller.go

	// owner绑定。Remove之后dead置位，同一就绪批次里剩余的事件不再派发；
	// 派发期间持有owner的强引用，对象不会在回调执行中被释放
	owner interface{}
	dead  atomic.Bool

	readCallback  func(timestamp.Timestamp)
	writeCallback func()
	closeCallback func()
	errorCallback func()
}

func NewChannel(loop *EventLoop, fd int) *Channel {
	return &Channel{
		loop:  loop,
		fd:    fd,
		index: channelStateNew,
	}
}

func (ch *Channel) Fd() int            { return ch.fd }
func (ch *Channel) Events() uint32     { return ch.events }
func (ch *Channel) Index() int         { return ch.index }
func (ch *Channel) SetIndex(index int) { ch.index = index }
func (ch *Channel) OwnerLoop() *EventLoop {
	return ch.loop
}

// SetRevents 由poller填入就绪事件
func (ch *Channel) SetRevents(revents uint32) {
	ch.revents = revents
}

func (ch *Channel) SetReadCallback(f func(timestamp.Timestamp)) { ch.readCallback = f }
func (ch *Channel) SetWriteCallback(f func())                   { ch.writeCallback = f }
func (ch *Channel) SetCloseCallback(f func())                   { ch.closeCallback = f }
func (ch *Channel) SetErrorCallback(f func())                   { ch.errorCallback = f }

// Tie 绑定上层owner（通常是Conn）
func (ch *Channel) Tie(owner interface{}) {
	ch.owner = owner
}

// EnableReading 开始监听读事件
func (ch *Channel) EnableReading() {
	ch.events |= netpoll.ReadEvents
	ch.update()
}

// DisableReading 停止监听读事件
func (ch *Channel) DisableReading() {
	ch.events &^= netpoll.ReadEvents
	ch.update()
}

// EnableWriting 开始监听写事件
func (ch *Channel) EnableWriting() {
	ch.events |= netpoll.WriteEvents
	ch.update()
}

// DisableWriting 停止监听写事件
func (ch *Channel) DisableWriting() {
	ch.events &^= netpoll.WriteEvents
	ch.update()
}

// DisableAll 停止监听所有事件
func (ch *Channel) DisableAll() {
	ch.events = netpoll.NoneEvent
	ch.update()
}

func (ch *Channel) IsNoneEvent() bool {
	return ch.events == netpoll.NoneEvent
}

func (ch *Channel) IsReading() bool {
	return ch.events&netpoll.ReadEvents != 0
}

func (ch *Channel) IsWriting() bool {
	return ch.events&netpoll.WriteEvents != 0
}

// 兴趣集合变化立即经由所属loop的poller生效
func (ch *Channel) update() {
	ch.loop.updateChannel(ch)
}

// 重新加入epoll监听时恢复派发资格
func (ch *Channel) revive() {
	ch.dead.Store(false)
}

// Remove 从poller注销。注销之后本批次剩余事件不再派发；
// 必须在fd关闭之前调用
func (ch *Channel) Remove() {
	ch.dead.Store(true)
	ch.loop.removeChannel(ch)
}

// HandleEvent 按就绪事件派发回调，顺序固定：
// owner存活检查 -> 错误 -> 无数据的对端挂断 -> 可读 -> 可写。
// 错误优先于挂断；带着未读数据的挂断走读路径，保证最后的字节不丢。
func (ch *Channel) HandleEvent(ts timestamp.Timestamp) {
	if ch.dead.Load() {
		logger.DebugF("channel fd=%d removed, drop events %d", ch.fd, ch.revents)
		return
	}
	if owner := ch.owner; owner != nil {
		// 整个派发过程owner保持可达，和上层的释放并发也安全
		defer runtime.KeepAlive(owner)
	}

	ev := ch.revents

	if ev&netpoll.ErrEvents != 0 {
		if ch.errorCallback != nil {
			ch.errorCallback()
		}
	}

	if ev&netpoll.HupEvents != 0 && ev&unix.EPOLLIN == 0 {
		if ch.dead.Load() {
			return
		}
		if ch.closeCallback != nil {
			ch.closeCallback()
		}
	}

	if ev&netpoll.InEvents != 0 {
		if ch.dead.Load() {
			return
		}
		if ch.readCallback != nil {
			ch.readCallback(ts)
		}
	}

	if ev&netpoll.OutEvents != 0 {
		if ch.dead.Load() {
			return
		}
		if ch.writeCallback != nil {
			ch.writeCallback()
		}
	}
}
