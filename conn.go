package shlnet

import (
	"net"
	"os"

	"go.uber.org/atomic"
	"golang.org/x/sys/unix"

	"github.com/Senhnn/shlnet/internal/io"
	"github.com/Senhnn/shlnet/internal/socket"
	"github.com/Senhnn/shlnet/tools/logger"
	"github.com/Senhnn/shlnet/tools/metrics"
	"github.com/Senhnn/shlnet/tools/shlneterror"
	"github.com/Senhnn/shlnet/tools/timestamp"
)

// 连接状态
const (
	// StateDisconnected 已断开
	StateDisconnected int32 = iota
	// StateConnecting 已accept，尚未在worker loop上建立
	StateConnecting
	// StateConnected 已建立
	StateConnected
	// StateDisconnecting 半关闭进行中，发送缓冲排空后关写端
	StateDisconnecting
)

// 输出缓冲默认高水位，64MB
const defaultHighWaterMark = 64 * 1024 * 1024

// Conn 一条已接受的TCP连接：状态机、输入/输出Buffer、发送与半关闭管线。
// 拥有accepted fd。所有I/O和状态变更都在所属worker loop上执行；
// Send和Shutdown可以跨goroutine调用，会转投到loop上
type Conn struct {
	loop *EventLoop
	name string

	state   atomic.Int32
	fd      int
	channel *Channel

	localAddr net.Addr
	peerAddr  net.Addr

	inputBuffer  *Buffer
	outputBuffer *Buffer

	context interface{} // 用户自定义上下文

	highWaterMark int

	connectionCallback    ConnectionCallback
	messageCallback       MessageCallback
	writeCompleteCallback WriteCompleteCallback
	highWaterMarkCallback HighWaterMarkCallback
	closeCallback         CloseCallback // server剔除连接表用
}

func newConn(loop *EventLoop, name string, fd int, localAddr, peerAddr net.Addr) *Conn {
	if loop == nil {
		logger.Fatal("Conn loop is nil")
	}

	c := &Conn{
		loop:          loop,
		name:          name,
		fd:            fd,
		localAddr:     localAddr,
		peerAddr:      peerAddr,
		inputBuffer:   NewBuffer(),
		outputBuffer:  NewBuffer(),
		highWaterMark: defaultHighWaterMark,
	}
	c.state.Store(StateConnecting)

	c.channel = NewChannel(loop, fd)
	c.channel.SetReadCallback(c.handleRead)
	c.channel.SetWriteCallback(c.handleWrite)
	c.channel.SetCloseCallback(c.handleClose)
	c.channel.SetErrorCallback(c.handleError)

	if err := socket.SetKeepAlive(fd, true); err != nil {
		logger.Error("set keep-alive error:", err)
	}

	logger.DebugF("Conn ctor [%s] fd=%d", name, fd)
	return c
}

func (c *Conn) Name() string          { return c.name }
func (c *Conn) LocalAddr() net.Addr   { return c.localAddr }
func (c *Conn) RemoteAddr() net.Addr  { return c.peerAddr }
func (c *Conn) OwnerLoop() *EventLoop { return c.loop }

func (c *Conn) Context() interface{}       { return c.context }
func (c *Conn) SetContext(ctx interface{}) { c.context = ctx }

// Connected 连接是否处于已建立状态；
// connection回调里用它区分建立和断开两次通知
func (c *Conn) Connected() bool {
	return c.state.Load() == StateConnected
}

// InputBuffer 输入缓冲，只允许在loop goroutine上访问
func (c *Conn) InputBuffer() *Buffer {
	return c.inputBuffer
}

// OutputBuffer 输出缓冲，只允许在loop goroutine上访问
func (c *Conn) OutputBuffer() *Buffer {
	return c.outputBuffer
}

// SetHighWaterMark 设置输出缓冲高水位阈值
func (c *Conn) SetHighWaterMark(n int) {
	if n > 0 {
		c.highWaterMark = n
	}
}

// SetNoDelay 开关Nagle算法
func (c *Conn) SetNoDelay(on bool) {
	opt := 0
	if on {
		opt = 1
	}
	if err := socket.SetNoDelay(c.fd, opt); err != nil {
		logger.Error("set no-delay error:", err)
	}
}

func (c *Conn) SetConnectionCallback(cb ConnectionCallback)       { c.connectionCallback = cb }
func (c *Conn) SetMessageCallback(cb MessageCallback)             { c.messageCallback = cb }
func (c *Conn) SetWriteCompleteCallback(cb WriteCompleteCallback) { c.writeCompleteCallback = cb }
func (c *Conn) SetHighWaterMarkCallback(cb HighWaterMarkCallback) { c.highWaterMarkCallback = cb }

func (c *Conn) setCloseCallback(cb CloseCallback) { c.closeCallback = cb }

// Send 发送数据，任意goroutine可调用。跨goroutine时拷贝数据
// 后转投loop执行，同一个goroutine连续Send的字节序在网络上保持不变
func (c *Conn) Send(data []byte) error {
	if c.state.Load() != StateConnected {
		return shlneterror.ErrConnClosed
	}
	if c.loop.IsInLoopThread() {
		c.sendInLoop(data)
		return nil
	}
	buf := make([]byte, len(data))
	copy(buf, data)
	c.loop.QueueInLoop(func() {
		c.sendInLoop(buf)
	})
	return nil
}

// SendString 发送字符串
func (c *Conn) SendString(s string) error {
	if c.state.Load() != StateConnected {
		return shlneterror.ErrConnClosed
	}
	data := []byte(s)
	if c.loop.IsInLoopThread() {
		c.sendInLoop(data)
		return nil
	}
	c.loop.QueueInLoop(func() {
		c.sendInLoop(data)
	})
	return nil
}

/*
** 发送管线，loop goroutine上执行：
** 1. 输出缓冲为空且未监听写事件时，直接write一把，省一次事件等待；
**    输出缓冲非空时绝不直接write，后来的数据不能插到已排队数据前面
** 2. 写完则投递write-complete回调（入队执行，不内联，回调重入行为可预期）
** 3. 剩余数据追加进输出缓冲并武装写兴趣；越过高水位时投递一次高水位回调
 */
func (c *Conn) sendInLoop(data []byte) {
	nwrote := 0
	remaining := len(data)
	faultError := false

	if c.state.Load() == StateDisconnected {
		logger.Error("disconnected, give up writing")
		return
	}

	if !c.channel.IsWriting() && c.outputBuffer.ReadableBytes() == 0 {
		n, err := io.Write(c.fd, data)
		if err == nil {
			nwrote = n
			remaining = len(data) - n
			metrics.BytesSent.Add(float64(n))
			if remaining == 0 && c.writeCompleteCallback != nil {
				c.loop.QueueInLoop(func() {
					c.writeCompleteCallback(c)
				})
			}
		} else {
			nwrote = 0
			if err != unix.EAGAIN {
				logger.Error("sendInLoop write error:", os.NewSyscallError("write", err))
				if err == unix.EPIPE || err == unix.ECONNRESET {
					// 对端已不可写，本连接的发送管线到此为止
					faultError = true
				}
			}
		}
	}

	if !faultError && remaining > 0 {
		oldLen := c.outputBuffer.ReadableBytes()
		if oldLen+remaining >= c.highWaterMark && oldLen < c.highWaterMark && c.highWaterMarkCallback != nil {
			// 向上越过阈值的这一次才通知
			newLen := oldLen + remaining
			c.loop.QueueInLoop(func() {
				c.highWaterMarkCallback(c, newLen)
			})
		}
		c.outputBuffer.Append(data[nwrote:])
		if !c.channel.IsWriting() {
			c.channel.EnableWriting()
		}
	}
}

// Shutdown 半关闭写端。输出缓冲还有数据时推迟到排空后执行
func (c *Conn) Shutdown() {
	if c.state.CompareAndSwap(StateConnected, StateDisconnecting) {
		c.loop.RunInLoop(c.shutdownInLoop)
	}
}

func (c *Conn) shutdownInLoop() {
	c.loop.assertInLoopThread()
	if !c.channel.IsWriting() {
		if err := socket.ShutdownWrite(c.fd); err != nil {
			logger.Error("shutdown write error:", err)
		}
	}
}

// ForceClose 直接走关闭路径，不等对端
func (c *Conn) ForceClose() {
	if c.state.Load() == StateConnected || c.state.Load() == StateDisconnecting {
		c.loop.QueueInLoop(func() {
			if c.state.Load() == StateConnected || c.state.Load() == StateDisconnecting {
				c.handleClose()
			}
		})
	}
}

// ConnectEstablished 连接建立，由server投递到worker loop上执行一次：
// 绑定channel生命周期、武装读兴趣、通知用户
func (c *Conn) ConnectEstablished() {
	c.loop.assertInLoopThread()
	if c.state.Load() != StateConnecting {
		logger.ErrorF("ConnectEstablished [%s] unexpected state %d", c.name, c.state.Load())
		return
	}
	c.state.Store(StateConnected)
	c.channel.Tie(c)
	c.channel.EnableReading()

	if c.connectionCallback != nil {
		c.connectionCallback(c)
	}
}

// ConnectDestroyed 连接销毁的最后一步，在worker loop上执行。
// channel先注销，fd最后关闭
func (c *Conn) ConnectDestroyed() {
	c.loop.assertInLoopThread()
	if c.state.CompareAndSwap(StateConnected, StateDisconnected) {
		// 没走过handleClose的销毁路径，补一次断开通知
		c.channel.DisableAll()
		if c.connectionCallback != nil {
			c.connectionCallback(c)
		}
	}
	c.channel.Remove()
	if err := unix.Close(c.fd); err != nil {
		logger.Error("conn close fd error:", os.NewSyscallError("close", err))
	}
	logger.DebugF("Conn dtor [%s] fd=%d", c.name, c.fd)
}

func (c *Conn) handleRead(ts timestamp.Timestamp) {
	c.loop.assertInLoopThread()
	n, err := c.inputBuffer.ReadFd(c.fd)
	if n > 0 {
		metrics.BytesReceived.Add(float64(n))
		if c.messageCallback != nil {
			c.messageCallback(c, c.inputBuffer, ts)
		}
	} else if n == 0 {
		// 对端FIN
		c.handleClose()
	} else {
		if err == unix.EAGAIN || err == unix.EINTR {
			return
		}
		logger.Error("handleRead error:", os.NewSyscallError("readv", err))
		c.handleError()
	}
}

// 写就绪：把输出缓冲往内核灌，排空后撤掉写兴趣；
// 半关闭挂起时排空即关写端
func (c *Conn) handleWrite() {
	c.loop.assertInLoopThread()
	if !c.channel.IsWriting() {
		logger.ErrorF("conn fd=%d is down, no more writing", c.fd)
		return
	}

	n, err := c.outputBuffer.WriteFd(c.fd)
	if err != nil {
		if err != unix.EAGAIN {
			logger.Error("handleWrite error:", os.NewSyscallError("write", err))
		}
		return
	}

	metrics.BytesSent.Add(float64(n))
	c.outputBuffer.Retrieve(n)
	if c.outputBuffer.ReadableBytes() == 0 {
		c.channel.DisableWriting()
		if c.writeCompleteCallback != nil {
			c.loop.QueueInLoop(func() {
				c.writeCompleteCallback(c)
			})
		}
		if c.state.Load() == StateDisconnecting {
			c.shutdownInLoop()
		}
	}
}

func (c *Conn) handleClose() {
	c.loop.assertInLoopThread()
	logger.DebugF("handleClose [%s] fd=%d state=%d", c.name, c.fd, c.state.Load())

	c.state.Store(StateDisconnected)
	c.channel.DisableAll()

	if c.connectionCallback != nil {
		c.connectionCallback(c)
	}
	if c.closeCallback != nil {
		c.closeCallback(c)
	}
}

// 取出SO_ERROR记一笔，不关闭；后续的读0或显式关闭推动状态机
func (c *Conn) handleError() {
	code := socket.GetSocketError(c.fd)
	logger.ErrorF("conn [%s] handleError SO_ERROR=%d %s", c.name, code, unix.Errno(code).Error())
}
