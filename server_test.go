package shlnet

import (
	"bytes"
	"io"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Senhnn/shlnet/tools/timestamp"
)

// 起一个完整server：主loop在独立goroutine上，返回server和停止函数
func startTestServer(t *testing.T, addr string, configure func(*Server), opts ...OptionFunc) (*Server, func()) {
	t.Helper()
	loopCh := make(chan *EventLoop, 1)
	done := make(chan struct{})
	go func() {
		loop := NewEventLoop()
		loopCh <- loop
		loop.Run()
		loop.Close()
		close(done)
	}()
	loop := <-loopCh

	srv := NewServer(loop, addr, "test", opts...)
	if configure != nil {
		configure(srv)
	}
	srv.Start()

	stop := func() {
		srv.Stop()
		loop.Quit()
		select {
		case <-done:
		case <-time.After(15 * time.Second):
			t.Fatal("main loop did not quit")
		}
	}
	return srv, stop
}

// 监听是异步武装的，dial带重试
func dialRetry(t *testing.T, addr string) net.Conn {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for {
		c, err := net.Dial("tcp", addr)
		if err == nil {
			return c
		}
		if time.Now().After(deadline) {
			t.Fatalf("dial %s: %v", addr, err)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

// 回显：客户端写"hello"收"hello"然后EOF，服务端恰好一次连接断开通知
func TestServerEcho(t *testing.T) {
	const addr = "127.0.0.1:18080"

	down := make(chan string, 4)
	_, stop := startTestServer(t, addr, func(srv *Server) {
		srv.SetConnectionCallback(func(c *Conn) {
			if !c.Connected() {
				down <- c.RemoteAddr().String()
			}
		})
		srv.SetMessageCallback(func(c *Conn, buf *Buffer, _ timestamp.Timestamp) {
			c.SendString(buf.RetrieveAllAsString())
			c.Shutdown()
		})
	}, WithNumEventLoop(2))
	defer stop()

	client := dialRetry(t, addr)
	defer client.Close()

	_, err := client.Write([]byte("hello"))
	require.NoError(t, err)

	got, err := io.ReadAll(client)
	require.NoError(t, err)
	require.Equal(t, "hello", string(got))

	// 对端也关掉，服务端读0走关闭路径
	require.NoError(t, client.Close())

	select {
	case peer := <-down:
		require.True(t, strings.HasPrefix(peer, "127.0.0.1:"))
	case <-time.After(5 * time.Second):
		t.Fatal("no connect-down callback")
	}

	// 只有一次断开通知
	select {
	case <-down:
		t.Fatal("duplicate connect-down callback")
	case <-time.After(300 * time.Millisecond):
	}
}

// 内核发送缓冲塞不下时剩余数据进输出缓冲，字节序保持不变
func TestServerSendOrderUnderPartialWrite(t *testing.T) {
	const addr = "127.0.0.1:18180"
	const half = 100 * 1000

	connCh := make(chan *Conn, 1)
	_, stop := startTestServer(t, addr, func(srv *Server) {
		srv.SetConnectionCallback(func(c *Conn) {
			if c.Connected() {
				connCh <- c
			}
		})
	}, WithNumEventLoop(1), WithSocketSendBuffer(16*1024))
	defer stop()

	client := dialRetry(t, addr)
	defer client.Close()

	var conn *Conn
	select {
	case conn = <-connCh:
	case <-time.After(5 * time.Second):
		t.Fatal("no connection")
	}

	// 客户端先不读，两次Send来自同一个goroutine
	payloadA := bytes.Repeat([]byte{'A'}, half)
	payloadB := bytes.Repeat([]byte{'B'}, half)
	conn.Send(payloadA)
	conn.Send(payloadB)

	got := make([]byte, 0, 2*half)
	buf := make([]byte, 32*1024)
	client.SetReadDeadline(time.Now().Add(10 * time.Second))
	for len(got) < 2*half {
		n, err := client.Read(buf)
		require.NoError(t, err)
		got = append(got, buf[:n]...)
	}

	require.Equal(t, 2*half, len(got))
	require.Equal(t, payloadA, got[:half])
	require.Equal(t, payloadB, got[half:])
}

// 向上越过高水位时恰好一次回调；排空后再次越过才有第二次
func TestServerHighWaterMark(t *testing.T) {
	const addr = "127.0.0.1:18280"
	const mark = 1024

	connCh := make(chan *Conn, 1)
	highWater := make(chan int, 8)
	writeDone := make(chan struct{}, 8)
	_, stop := startTestServer(t, addr, func(srv *Server) {
		srv.SetConnectionCallback(func(c *Conn) {
			if c.Connected() {
				connCh <- c
			}
		})
		srv.SetHighWaterMarkCallback(func(_ *Conn, n int) {
			highWater <- n
		})
		srv.SetWriteCompleteCallback(func(*Conn) {
			writeDone <- struct{}{}
		})
	}, WithNumEventLoop(1), WithHighWaterMark(mark), WithSocketSendBuffer(4*1024))
	defer stop()

	client := dialRetry(t, addr)
	defer client.Close()

	var conn *Conn
	select {
	case conn = <-connCh:
	case <-time.After(5 * time.Second):
		t.Fatal("no connection")
	}

	// 客户端不读，把内核缓冲灌满，大头积压在输出缓冲里
	big := bytes.Repeat([]byte{'x'}, 256*1024)
	conn.Send(big)

	select {
	case n := <-highWater:
		require.GreaterOrEqual(t, n, mark)
	case <-time.After(5 * time.Second):
		t.Fatal("no high-water callback")
	}

	// 积压未排空时继续Send不再触发
	conn.Send(bytes.Repeat([]byte{'y'}, 512))
	select {
	case <-highWater:
		t.Fatal("high-water callback fired twice without draining")
	case <-time.After(300 * time.Millisecond):
	}

	// 客户端读光，等输出缓冲排空
	go func() {
		_, _ = io.CopyN(io.Discard, client, 256*1024+512)
	}()
	select {
	case <-writeDone:
	case <-time.After(10 * time.Second):
		t.Fatal("output buffer never drained")
	}

	// 再次越过阈值，第二次回调
	conn.Send(big)
	select {
	case n := <-highWater:
		require.GreaterOrEqual(t, n, mark)
	case <-time.After(5 * time.Second):
		t.Fatal("no high-water callback after refill")
	}
	go func() {
		_, _ = io.Copy(io.Discard, client)
	}()
}

// 客户端主动关闭：消息先到，然后读0走关闭路径，连接表被剔除
func TestServerClientClose(t *testing.T) {
	const addr = "127.0.0.1:18380"

	msg := make(chan string, 1)
	down := make(chan struct{}, 4)
	srv, stop := startTestServer(t, addr, func(srv *Server) {
		srv.SetConnectionCallback(func(c *Conn) {
			if !c.Connected() {
				down <- struct{}{}
			}
		})
		srv.SetMessageCallback(func(c *Conn, buf *Buffer, _ timestamp.Timestamp) {
			msg <- buf.RetrieveAllAsString()
		})
	}, WithNumEventLoop(2))
	defer stop()

	client := dialRetry(t, addr)
	_, err := client.Write([]byte("bye"))
	require.NoError(t, err)

	select {
	case m := <-msg:
		require.Equal(t, "bye", m)
	case <-time.After(5 * time.Second):
		t.Fatal("no message callback")
	}

	require.NoError(t, client.Close())
	select {
	case <-down:
	case <-time.After(5 * time.Second):
		t.Fatal("no connect-down callback")
	}

	// 连接表在主loop上被剔除
	num := make(chan int, 1)
	deadline := time.Now().Add(5 * time.Second)
	for {
		srv.OwnerLoop().RunInLoop(func() {
			num <- srv.ConnectionNum()
		})
		if n := <-num; n == 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("connection not pruned")
		}
		time.Sleep(20 * time.Millisecond)
	}
}

// 服务端半关闭：回"bye"之后Shutdown，客户端读到"bye"和EOF，
// 断开通知恰好一次
func TestServerGracefulShutdown(t *testing.T) {
	const addr = "127.0.0.1:18480"

	down := make(chan struct{}, 4)
	_, stop := startTestServer(t, addr, func(srv *Server) {
		srv.SetConnectionCallback(func(c *Conn) {
			if !c.Connected() {
				down <- struct{}{}
			}
		})
		srv.SetMessageCallback(func(c *Conn, buf *Buffer, _ timestamp.Timestamp) {
			c.SendString(buf.RetrieveAllAsString())
			c.Shutdown()
		})
	}, WithNumEventLoop(1))
	defer stop()

	client := dialRetry(t, addr)
	defer client.Close()

	_, err := client.Write([]byte("bye"))
	require.NoError(t, err)

	got, err := io.ReadAll(client)
	require.NoError(t, err)
	require.Equal(t, "bye", string(got))

	require.NoError(t, client.Close())

	select {
	case <-down:
	case <-time.After(5 * time.Second):
		t.Fatal("no connect-down callback")
	}
	select {
	case <-down:
		t.Fatal("duplicate connect-down callback")
	case <-time.After(300 * time.Millisecond):
	}
}
