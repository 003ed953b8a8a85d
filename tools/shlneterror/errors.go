package shlneterror

import "errors"

var (
	// ErrServerShutdown 服务器准备关闭，无法接受新连接
	ErrServerShutdown = errors.New("server is going to be shutdown")
	// ErrServerStarted 服务器重复启动
	ErrServerStarted = errors.New("server has already been started")
	// ErrAcceptSocket 接受新连接错误
	ErrAcceptSocket = errors.New("accept a new connection error")
	// ErrEventLoopExist 一个goroutine只允许存在一个EventLoop
	ErrEventLoopExist = errors.New("another event-loop exists in this goroutine")
	// ErrConnClosed 连接已经断开，无法继续发送
	ErrConnClosed = errors.New("connection is closed")
)
