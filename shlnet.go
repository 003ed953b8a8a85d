// Package shlnet 多reactor模式的非阻塞TCP服务器库。
// one loop per goroutine：主loop上的Acceptor接受连接，
// 经负载均衡分发到worker loop，连接的全部I/O和回调
// 都在它归属的那个loop上执行，回调里不允许阻塞，
// 耗时任务交给tools/gopool再把结果RunInLoop送回来。
package shlnet

import (
	"github.com/Senhnn/shlnet/tools/logger"
	"github.com/Senhnn/shlnet/tools/timestamp"
)

// ConnectionCallback 连接建立和断开时都会触发，
// 用Conn.Connected()区分两种通知
type ConnectionCallback func(*Conn)

// MessageCallback 有数据到达，buf里是全部未消费的字节
type MessageCallback func(*Conn, *Buffer, timestamp.Timestamp)

// WriteCompleteCallback 输出缓冲全部灌进内核
type WriteCompleteCallback func(*Conn)

// HighWaterMarkCallback 输出缓冲积压向上越过阈值
type HighWaterMarkCallback func(*Conn, int)

// CloseCallback 内部回调，server用来从连接表剔除连接
type CloseCallback func(*Conn)

// 默认连接回调：记录连接的建立和断开
func defaultConnectionCallback(c *Conn) {
	state := "DOWN"
	if c.Connected() {
		state = "UP"
	}
	logger.InfoF("conn %s -> %s is %s", c.LocalAddr(), c.RemoteAddr(), state)
}

// 默认消息回调：丢弃收到的数据
func defaultMessageCallback(_ *Conn, buf *Buffer, _ timestamp.Timestamp) {
	buf.RetrieveAll()
}
