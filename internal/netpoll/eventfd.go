package netpoll

import (
	"os"

	"golang.org/x/sys/unix"
)

// NotifyData 写入eventfd的8字节计数值，任意非零值都能唤醒
var NotifyData = [8]byte{1, 0, 0, 0, 0, 0, 0, 0}

// NewEventFd 创建跨goroutine唤醒用的eventfd。
// 用法：write给计数器加值；read把计数读出并归零。
// EFD_NONBLOCK：计数为0时read不阻塞；EFD_CLOEXEC：fork出的子进程不继承。
func NewEventFd() (int, error) {
	fd, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		return -1, os.NewSyscallError("eventfd", err)
	}
	return fd, nil
}
