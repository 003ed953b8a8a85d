package io

import "golang.org/x/sys/unix"

// ReadvInto 一次readv把fd上的数据先灌进main，装不下的溢出进spill。
// 返回总字节数，负数表示失败，错误原样带出
func ReadvInto(fd int, main, spill []byte) (int, error) {
	iov := [][]byte{main, spill}
	return unix.Readv(fd, iov)
}

// Write 非阻塞write封装，连接的发送路径统一走这里
func Write(fd int, b []byte) (int, error) {
	return unix.Write(fd, b)
}
