package shlnet

import (
	"os"

	"golang.org/x/sys/unix"

	"github.com/Senhnn/shlnet/tools/logger"
	"github.com/Senhnn/shlnet/tools/timestamp"
)

// Channel在poller中的状态
const (
	channelStateNew     = -1 // 尚未加入poller
	channelStateAdded   = 1  // 已加入epoll监听
	channelStateDeleted = 2  // 已从epoll移除，但保留注册表表项以便重新武装
)

const initEventListSize = 16

// PollerEnv 选择poller后端的环境变量；值为"poll"时启动即终止，
// 其他值一律回落到默认的epoll后端
const PollerEnv = "SHLNET_USE_POLL"

// Poller fd到Channel的注册表，封装epoll_wait。
// 所有修改都在所属EventLoop的goroutine上执行。
type Poller struct {
	loop     *EventLoop
	epollFd  int
	events   []unix.EpollEvent
	channels map[int]*Channel
}

// NewPoller 创建默认后端的poller。创建失败是致命错误
func NewPoller(loop *EventLoop) *Poller {
	if v := os.Getenv(PollerEnv); v != "" {
		if v == "poll" {
			// poll后端声明过但从未实现
			logger.FatalF("%s=poll: poll poller is not implemented", PollerEnv)
		}
		logger.DebugF("%s=%q unrecognized, fall back to epoll", PollerEnv, v)
	}

	epollFd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		logger.Fatal("epoll_create1 error:", os.NewSyscallError("epoll_create1", err))
	}
	return &Poller{
		loop:     loop,
		epollFd:  epollFd,
		events:   make([]unix.EpollEvent, initEventListSize),
		channels: make(map[int]*Channel),
	}
}

// Close 关闭epoll描述符
func (p *Poller) Close() {
	if err := unix.Close(p.epollFd); err != nil {
		logger.Error("poller close error:", os.NewSyscallError("close", err))
	}
}

// Poll 阻塞等待就绪事件，最长timeoutMs毫秒，就绪的Channel按内核返回顺序
// 追加进active。返回本次调用结束时的时间戳
func (p *Poller) Poll(timeoutMs int, active *[]*Channel) timestamp.Timestamp {
	n, err := unix.EpollWait(p.epollFd, p.events, timeoutMs)
	now := timestamp.Now()

	if n > 0 {
		p.fillActiveChannels(n, active)
		// 本次填满则双倍扩容，下次调用能拿到更多事件
		if n == len(p.events) {
			p.events = make([]unix.EpollEvent, 2*len(p.events))
		}
	} else if n == 0 {
		logger.DebugF("poller fd=%d poll timeout", p.epollFd)
	} else {
		if err == unix.EINTR {
			logger.Debug("epoll_wait interrupted by signal")
		} else {
			logger.Error("epoll_wait error:", os.NewSyscallError("epoll_wait", err))
		}
	}
	return now
}

// 就绪事件转换为活跃Channel列表。
// 内核槽位里放的是fd，经注册表反查Channel；Go的GC不允许把堆指针
// 塞进epoll_data，这张map就是派发用的反向关联
func (p *Poller) fillActiveChannels(numEvents int, active *[]*Channel) {
	for i := 0; i < numEvents; i++ {
		ev := &p.events[i]
		ch, ok := p.channels[int(ev.Fd)]
		if !ok {
			// Remove和就绪事件赛跑时会出现，丢弃即可
			logger.DebugF("poller fd=%d not in registry, drop events %d", ev.Fd, ev.Events)
			continue
		}
		ch.SetRevents(ev.Events)
		*active = append(*active, ch)
	}
}

// UpdateChannel 注册或更新Channel的兴趣集合：
// 未注册的插入注册表并加入epoll；已注册的按兴趣集合是否为空，
// 更新epoll或从epoll摘除转入tombstone状态（表项保留，可重新武装）
func (p *Poller) UpdateChannel(ch *Channel) {
	p.loop.assertInLoopThread()
	index := ch.Index()
	fd := ch.Fd()

	if index == channelStateNew || index == channelStateDeleted {
		if index == channelStateNew {
			if _, ok := p.channels[fd]; ok {
				// 同一个fd重复注册是使用方的bug
				logger.ErrorF("poller fd=%d duplicate register, refused", fd)
				return
			}
			p.channels[fd] = ch
		}
		ch.SetIndex(channelStateAdded)
		ch.revive()
		p.update(unix.EPOLL_CTL_ADD, ch)
		return
	}

	if ch.IsNoneEvent() {
		p.update(unix.EPOLL_CTL_DEL, ch)
		ch.SetIndex(channelStateDeleted)
	} else {
		p.update(unix.EPOLL_CTL_MOD, ch)
	}
}

// RemoveChannel 从注册表中删除Channel；之后该Channel可重新注册
func (p *Poller) RemoveChannel(ch *Channel) {
	p.loop.assertInLoopThread()
	fd := ch.Fd()
	if _, ok := p.channels[fd]; !ok {
		// 对不在注册表中的fd注销静默容忍
		return
	}
	delete(p.channels, fd)
	if ch.Index() == channelStateAdded {
		p.update(unix.EPOLL_CTL_DEL, ch)
	}
	ch.SetIndex(channelStateNew)
}

// HasChannel Channel是否在注册表中
func (p *Poller) HasChannel(ch *Channel) bool {
	c, ok := p.channels[ch.Fd()]
	return ok && c == ch
}

// epoll_ctl封装。DEL失败可容忍（fd可能已经关闭）；
// ADD/MOD失败意味着事件会丢，按致命错误处理
func (p *Poller) update(op int, ch *Channel) {
	ev := &unix.EpollEvent{
		Events: ch.Events(),
		Fd:     int32(ch.Fd()),
	}
	if err := unix.EpollCtl(p.epollFd, op, ch.Fd(), ev); err != nil {
		if op == unix.EPOLL_CTL_DEL {
			logger.DebugF("epoll_ctl del fd=%d error: %v", ch.Fd(), err)
		} else {
			logger.FatalF("epoll_ctl add/mod fd=%d error: %v", ch.Fd(), err)
		}
	}
}
