package netpoll

import "golang.org/x/sys/unix"

/*
** 水平触发(level-triggered):
** socket接收缓冲区不为空 有数据可读 读事件一直触发
** socket发送缓冲区不满 可以继续写入数据 写事件一直触发
**
** 写事件只在有待发送数据时才注册，发送完随即取消，
** 否则LT模式下EPOLLOUT会一直触发。
 */

const (
	// NoneEvent 不监听任何事件
	NoneEvent uint32 = 0

	// ReadEvents 可读与紧急可读
	ReadEvents = unix.EPOLLIN | unix.EPOLLPRI

	// WriteEvents 可写
	WriteEvents = unix.EPOLLOUT

	/*
	** unix.EPOLLERR：向已经关闭的socket写或者读
	** unix.EPOLLHUP：对端关闭了套接字
	** unix.EPOLLRDHUP：对端关闭或shutdown写端时触发，需要显式注册；
	** 带着未读数据的RDHUP要先走读路径，最后的数据不能丢
	 */

	// ErrEvents 套接字异常
	ErrEvents = unix.EPOLLERR

	// HupEvents 对端挂断
	HupEvents = unix.EPOLLHUP

	// InEvents 可读相关事件集合，含对端半关闭
	InEvents = unix.EPOLLIN | unix.EPOLLPRI | unix.EPOLLRDHUP

	// OutEvents 可写相关事件集合
	OutEvents = unix.EPOLLOUT
)
