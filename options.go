package shlnet

import (
	"time"

	"github.com/Senhnn/shlnet/internal/socket"
)

type Options struct {
	// TCPKeepAlive 设置tcp连接的保活时间
	TCPKeepAlive time.Duration

	// 绑定goroutine到线程，使用cgo或者想让事件循环更高效运行时开启
	LockOSThread bool

	// 是否需要给监听socket设置SO_REUSEPORT
	ReusePort bool

	// 是否开启多核；启动CPU数量的worker loop，会被NumEventLoop覆盖
	Multicore bool

	// 指定worker EventLoop的数量，0表示全部连接都落在主loop上
	NumEventLoop int

	// 是否需要给监听socket设置SO_REUSEADDR
	ReuseAddr bool

	// 是否关闭Nagle算法，true表示关闭（低延迟），false保持内核默认
	TCPNoDelay bool

	// SocketRecvBuffer 设置socket读缓冲区
	SocketRecvBuffer int

	// SocketSendBuffer 设置socket写缓冲区
	SocketSendBuffer int

	// HighWaterMark 连接输出缓冲的高水位阈值，0表示用默认值64MB
	HighWaterMark int

	// 负载均衡器
	LB LoadBalancing
}

type OptionFunc = func(*Options)

// 设置参数，返回最终的Options结构
func loadOptions(options ...OptionFunc) *Options {
	opts := &Options{
		// TIME_WAIT期间可以重新bind，默认打开
		ReuseAddr: true,
	}
	for _, option := range options {
		option(opts)
	}
	return opts
}

// 监听套接字的socket选项集合
func (opts *Options) socketOptions() []socket.SocketOption {
	var sockOpts []socket.SocketOption

	if opts.ReusePort {
		sockOpts = append(sockOpts, socket.SocketOption{SetSockOpt: socket.SetReusePort, Opt: 1})
	}
	if opts.ReuseAddr {
		sockOpts = append(sockOpts, socket.SocketOption{SetSockOpt: socket.SetReuseAddr, Opt: 1})
	}
	if opts.SocketRecvBuffer > 0 {
		sockOpts = append(sockOpts, socket.SocketOption{SetSockOpt: socket.SetRecvBuffer, Opt: opts.SocketRecvBuffer})
	}
	if opts.SocketSendBuffer > 0 {
		sockOpts = append(sockOpts, socket.SocketOption{SetSockOpt: socket.SetSendBuffer, Opt: opts.SocketSendBuffer})
	}
	return sockOpts
}

// WithOptions 手动设置所有选项
func WithOptions(options Options) OptionFunc {
	return func(opts *Options) {
		*opts = options
	}
}

// WithMulticore 设置开启多核
func WithMulticore(multicore bool) OptionFunc {
	return func(opts *Options) {
		opts.Multicore = multicore
	}
}

// WithLockOSThread worker loop是否锁线程
func WithLockOSThread(lockOSThread bool) OptionFunc {
	return func(opts *Options) {
		opts.LockOSThread = lockOSThread
	}
}

// WithLoadBalancing 设置负载均衡算法
func WithLoadBalancing(lb LoadBalancing) OptionFunc {
	return func(opts *Options) {
		opts.LB = lb
	}
}

// WithNumEventLoop 指定worker EventLoop数量
func WithNumEventLoop(numEventLoop int) OptionFunc {
	return func(opts *Options) {
		opts.NumEventLoop = numEventLoop
	}
}

// WithReusePort 设置监听套接字端口复用
func WithReusePort(reusePort bool) OptionFunc {
	return func(opts *Options) {
		opts.ReusePort = reusePort
	}
}

// WithReuseAddr 设置地址复用
func WithReuseAddr(reuseAddr bool) OptionFunc {
	return func(opts *Options) {
		opts.ReuseAddr = reuseAddr
	}
}

// WithTCPKeepAlive 设置tcp的keep-alive探测周期
func WithTCPKeepAlive(tcpKeepAlive time.Duration) OptionFunc {
	return func(opts *Options) {
		opts.TCPKeepAlive = tcpKeepAlive
	}
}

// WithTCPNoDelay 开启或者关闭套接字的TCP_NODELAY选项
func WithTCPNoDelay(tcpNoDelay bool) OptionFunc {
	return func(opts *Options) {
		opts.TCPNoDelay = tcpNoDelay
	}
}

// WithSocketRecvBuffer 设置套接字接收缓冲区大小
func WithSocketRecvBuffer(recvBuf int) OptionFunc {
	return func(opts *Options) {
		opts.SocketRecvBuffer = recvBuf
	}
}

// WithSocketSendBuffer 设置套接字发送缓冲区大小
func WithSocketSendBuffer(sendBuf int) OptionFunc {
	return func(opts *Options) {
		opts.SocketSendBuffer = sendBuf
	}
}

// WithHighWaterMark 设置连接输出缓冲的高水位阈值
func WithHighWaterMark(n int) OptionFunc {
	return func(opts *Options) {
		opts.HighWaterMark = n
	}
}
