package shlnet

import (
	"net"
	"os"

	"golang.org/x/sys/unix"

	"github.com/Senhnn/shlnet/internal/socket"
	"github.com/Senhnn/shlnet/tools/logger"
	"github.com/Senhnn/shlnet/tools/shlneterror"
	"github.com/Senhnn/shlnet/tools/timestamp"
)

// NewConnectionCallback Acceptor产出新连接：已接受的fd和对端地址
type NewConnectionCallback func(fd int, peerAddr net.Addr)

// Acceptor 持有监听套接字，把可读事件转换为已接受的连接。
// 永远挂在主loop上。套接字在构造时创建并绑定，Listen才开始监听
type Acceptor struct {
	loop       *EventLoop
	listenFd   int
	listenAddr net.Addr

	acceptChannel *Channel
	listening     bool

	newConnectionCallback NewConnectionCallback
}

// NewAcceptor 创建非阻塞监听套接字并绑定地址。bind失败是致命错误
func NewAcceptor(loop *EventLoop, addr string, sockOpts ...socket.SocketOption) *Acceptor {
	fd, netAddr, err := socket.TCP4Socket(addr, sockOpts...)
	if err != nil {
		logger.FatalF("acceptor create listen socket addr=%s error: %v", addr, err)
	}

	a := &Acceptor{
		loop:       loop,
		listenFd:   fd,
		listenAddr: netAddr,
	}
	a.acceptChannel = NewChannel(loop, fd)
	a.acceptChannel.SetReadCallback(a.handleRead)
	return a
}

func (a *Acceptor) Listening() bool {
	return a.listening
}

// ListenAddr 监听地址
func (a *Acceptor) ListenAddr() net.Addr {
	return a.listenAddr
}

func (a *Acceptor) SetNewConnectionCallback(cb NewConnectionCallback) {
	a.newConnectionCallback = cb
}

// Listen 开始监听并武装读兴趣。listen失败是致命错误
func (a *Acceptor) Listen() {
	a.loop.assertInLoopThread()
	a.listening = true
	if err := socket.Listen(a.listenFd); err != nil {
		logger.FatalF("acceptor listen addr=%s error: %v", a.listenAddr, err)
	}
	a.acceptChannel.EnableReading()
}

// Close 注销事件并关闭监听套接字
func (a *Acceptor) Close() {
	a.acceptChannel.DisableAll()
	a.acceptChannel.Remove()
	if err := unix.Close(a.listenFd); err != nil {
		logger.Error("acceptor close error:", os.NewSyscallError("close", err))
	}
	a.listening = false
}

// 每次就绪只accept一个连接，突发的连接在后续轮次里消化
func (a *Acceptor) handleRead(_ timestamp.Timestamp) {
	connFd, sa, err := socket.Accept(a.listenFd)
	if err != nil {
		switch err {
		case unix.EAGAIN:
			// 虚假唤醒
		case unix.EINTR, unix.ECONNABORTED:
			logger.Debug("accept transient error:", err)
		case unix.EMFILE:
			// fd耗尽，连接留在内核队列里等额度恢复
			logger.ErrorF("accept error: %v, sockfd reached limit", err)
		default:
			logger.Error(shlneterror.ErrAcceptSocket, ":", os.NewSyscallError("accept4", err))
		}
		return
	}

	peerAddr := socket.SockaddrToTCPAddr(sa)
	if a.newConnectionCallback != nil {
		a.newConnectionCallback(connFd, peerAddr)
	} else {
		_ = unix.Close(connFd)
	}
}
