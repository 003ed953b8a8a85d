package shlnet

import (
	"fmt"
	"net"
	"runtime"

	"go.uber.org/atomic"

	"github.com/Senhnn/shlnet/internal/socket"
	"github.com/Senhnn/shlnet/tools/logger"
	"github.com/Senhnn/shlnet/tools/metrics"
	"github.com/Senhnn/shlnet/tools/shlneterror"
)

// Server 服务器门面：主loop上的Acceptor产出连接，
// 经EventLoopPool分发到worker loop。
// 连接表只在主loop上访问；连接本身被表项和它的channel绑定共同持有，
// 从表里剔除的瞬间还在执行的回调依然拿着活着的对象
type Server struct {
	loop   *EventLoop // 主loop，Acceptor所在
	ipPort string
	name   string

	acceptor *Acceptor
	pool     *EventLoopPool
	opts     *Options

	connectionCallback    ConnectionCallback
	messageCallback       MessageCallback
	writeCompleteCallback WriteCompleteCallback
	highWaterMarkCallback HighWaterMarkCallback
	threadInitCallback    ThreadInitCallback

	started     atomic.Int32
	inShutdown  atomic.Bool
	nextConnID  int64            // 连接名序号，只在主loop上自增
	connections map[string]*Conn // name -> Conn，只在主loop上访问
}

// NewServer 创建服务器并绑定监听地址，不开始监听
func NewServer(loop *EventLoop, addr string, name string, opts ...OptionFunc) *Server {
	if loop == nil {
		logger.Fatal("Server loop is nil")
	}
	options := loadOptions(opts...)

	s := &Server{
		loop:        loop,
		ipPort:      addr,
		name:        name,
		opts:        options,
		connections: make(map[string]*Conn),
	}
	s.acceptor = NewAcceptor(loop, addr, options.socketOptions()...)
	s.pool = NewEventLoopPool(loop, options.LB, options.LockOSThread)

	numEventLoop := options.NumEventLoop
	if numEventLoop == 0 && options.Multicore {
		numEventLoop = runtime.NumCPU()
	}
	s.pool.SetLoopNum(numEventLoop)

	s.connectionCallback = defaultConnectionCallback
	s.messageCallback = defaultMessageCallback
	s.acceptor.SetNewConnectionCallback(s.newConnection)
	return s
}

func (s *Server) Name() string          { return s.name }
func (s *Server) IPPort() string        { return s.ipPort }
func (s *Server) OwnerLoop() *EventLoop { return s.loop }

// Pool worker loop池
func (s *Server) Pool() *EventLoopPool { return s.pool }

func (s *Server) SetConnectionCallback(cb ConnectionCallback)       { s.connectionCallback = cb }
func (s *Server) SetMessageCallback(cb MessageCallback)             { s.messageCallback = cb }
func (s *Server) SetWriteCompleteCallback(cb WriteCompleteCallback) { s.writeCompleteCallback = cb }
func (s *Server) SetHighWaterMarkCallback(cb HighWaterMarkCallback) { s.highWaterMarkCallback = cb }

// SetThreadInitCallback 每个worker loop进入循环前在自己goroutine上执行一次
func (s *Server) SetThreadInitCallback(cb ThreadInitCallback) { s.threadInitCallback = cb }

// Start 启动pool并武装Acceptor，幂等，只有第一次调用生效
func (s *Server) Start() {
	if s.inShutdown.Load() {
		logger.Error("server start refused:", shlneterror.ErrServerShutdown)
		return
	}
	if s.started.Inc() != 1 {
		return
	}
	s.loop.RunInLoop(func() {
		s.pool.Start(s.threadInitCallback)
		s.acceptor.Listen()
		logger.InfoF("server [%s] starts listening on %s", s.name, s.ipPort)
	})
}

// Stop 销毁全部连接并停掉worker loop。主loop由调用方Quit
func (s *Server) Stop() {
	if !s.inShutdown.CompareAndSwap(false, true) {
		return
	}
	done := make(chan struct{})
	s.loop.RunInLoop(func() {
		for name, c := range s.connections {
			delete(s.connections, name)
			conn := c
			metrics.ConnectionsActive.Dec()
			conn.OwnerLoop().addConn(-1)
			conn.OwnerLoop().QueueInLoop(conn.ConnectDestroyed)
		}
		s.acceptor.Close()
		close(done)
	})
	<-done
	s.pool.Stop()
	logger.InfoF("server [%s] stopped", s.name)
}

// Acceptor产出新连接，主loop上执行：
// 挑worker loop、起名、建Conn、装回调，最后把establish投到worker上
func (s *Server) newConnection(connFd int, peerAddr net.Addr) {
	s.loop.assertInLoopThread()

	workerLoop := s.pool.NextLoop(peerAddr)
	s.nextConnID++
	connName := fmt.Sprintf("%s@%d", s.name, s.nextConnID)
	localAddr := socket.GetLocalAddr(connFd)

	logger.InfoF("server [%s] new connection [%s] from %s", s.name, connName, peerAddr)

	if s.opts.TCPKeepAlive > 0 {
		if err := socket.SetKeepAlivePeriod(connFd, int(s.opts.TCPKeepAlive.Seconds())); err != nil {
			logger.Error("set keep-alive period error:", err)
		}
	}

	conn := newConn(workerLoop, connName, connFd, localAddr, peerAddr)
	s.connections[connName] = conn

	conn.SetConnectionCallback(s.connectionCallback)
	conn.SetMessageCallback(s.messageCallback)
	conn.SetWriteCompleteCallback(s.writeCompleteCallback)
	if s.highWaterMarkCallback != nil {
		conn.SetHighWaterMarkCallback(s.highWaterMarkCallback)
	}
	if s.opts.HighWaterMark > 0 {
		conn.SetHighWaterMark(s.opts.HighWaterMark)
	}
	if s.opts.TCPNoDelay {
		conn.SetNoDelay(true)
	}
	conn.setCloseCallback(s.removeConnection)

	metrics.ConnectionsAccepted.Inc()
	metrics.ConnectionsActive.Inc()
	workerLoop.addConn(1)

	workerLoop.RunInLoop(conn.ConnectEstablished)
}

// 连接关闭回调，可能来自任意worker loop，跳回主loop改表
func (s *Server) removeConnection(c *Conn) {
	s.loop.RunInLoop(func() {
		s.removeConnectionInLoop(c)
	})
}

func (s *Server) removeConnectionInLoop(c *Conn) {
	s.loop.assertInLoopThread()
	if _, ok := s.connections[c.Name()]; !ok {
		// Stop抢先清过表了
		return
	}
	logger.InfoF("server [%s] remove connection [%s]", s.name, c.Name())

	delete(s.connections, c.Name())
	metrics.ConnectionsActive.Dec()
	c.OwnerLoop().addConn(-1)

	// 销毁必须回到连接归属的worker loop上执行
	c.OwnerLoop().QueueInLoop(c.ConnectDestroyed)
}

// ConnectionNum 当前连接表大小，只允许在主loop上调用
func (s *Server) ConnectionNum() int {
	return len(s.connections)
}
