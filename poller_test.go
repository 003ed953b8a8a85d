package shlnet

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/Senhnn/shlnet/internal/netpoll"
	"github.com/Senhnn/shlnet/tools/timestamp"
)

// 注册 -> tombstone -> 重新武装 -> 注销 -> 重新注册，整个循环都不报错，
// 且重新注册之后事件照常派发
func TestChannelRegisterCycle(t *testing.T) {
	loop, join := startTestLoop(t)
	defer join()

	fired := make(chan struct{}, 8)
	stepDone := make(chan struct{})

	var efd int
	var ch *Channel
	loop.RunInLoop(func() {
		var err error
		efd, err = netpoll.NewEventFd()
		require.NoError(t, err)

		ch = NewChannel(loop, efd)
		ch.SetReadCallback(func(timestamp.Timestamp) {
			var buf [8]byte
			_, _ = unix.Read(efd, buf[:])
			fired <- struct{}{}
		})
		ch.EnableReading()
		require.Equal(t, channelStateAdded, ch.Index())
		close(stepDone)
	})
	<-stepDone

	// 事件能到
	_, err := unix.Write(efd, netpoll.NotifyData[:])
	require.NoError(t, err)
	requireFired(t, fired)

	// 兴趣清空转入tombstone，表项保留
	step2 := make(chan struct{})
	loop.RunInLoop(func() {
		ch.DisableAll()
		require.Equal(t, channelStateDeleted, ch.Index())
		require.True(t, loop.hasChannel(ch))
		close(step2)
	})
	<-step2

	// tombstone重新武装
	step3 := make(chan struct{})
	loop.RunInLoop(func() {
		ch.EnableReading()
		require.Equal(t, channelStateAdded, ch.Index())
		close(step3)
	})
	<-step3
	_, err = unix.Write(efd, netpoll.NotifyData[:])
	require.NoError(t, err)
	requireFired(t, fired)

	// 注销再注册
	step4 := make(chan struct{})
	loop.RunInLoop(func() {
		ch.DisableAll()
		ch.Remove()
		require.False(t, loop.hasChannel(ch))
		require.Equal(t, channelStateNew, ch.Index())

		ch.EnableReading()
		require.True(t, loop.hasChannel(ch))
		close(step4)
	})
	<-step4
	_, err = unix.Write(efd, netpoll.NotifyData[:])
	require.NoError(t, err)
	requireFired(t, fired)

	// 收尾
	cleanup := make(chan struct{})
	loop.RunInLoop(func() {
		ch.DisableAll()
		ch.Remove()
		_ = unix.Close(efd)
		close(cleanup)
	})
	<-cleanup
}

// 同一个fd重复注册被拒绝，原注册不受影响
func TestPollerDuplicateRegister(t *testing.T) {
	loop, join := startTestLoop(t)
	defer join()

	done := make(chan struct{})
	loop.RunInLoop(func() {
		efd, err := netpoll.NewEventFd()
		require.NoError(t, err)
		defer unix.Close(efd)

		ch1 := NewChannel(loop, efd)
		ch1.SetReadCallback(func(timestamp.Timestamp) {})
		ch1.EnableReading()

		ch2 := NewChannel(loop, efd)
		ch2.SetReadCallback(func(timestamp.Timestamp) {})
		ch2.EnableReading() // 拒绝，不panic不fatal

		require.True(t, loop.hasChannel(ch1))
		require.False(t, loop.hasChannel(ch2))

		ch1.DisableAll()
		ch1.Remove()
		close(done)
	})
	<-done
}

// Remove之后同批次剩余事件不再派发
func TestChannelDeadAfterRemove(t *testing.T) {
	loop, join := startTestLoop(t)
	defer join()

	done := make(chan struct{})
	loop.RunInLoop(func() {
		efd, err := netpoll.NewEventFd()
		require.NoError(t, err)
		defer unix.Close(efd)

		ch := NewChannel(loop, efd)
		fired := false
		ch.SetReadCallback(func(timestamp.Timestamp) { fired = true })
		ch.EnableReading()

		ch.DisableAll()
		ch.Remove()

		// 模拟本批次晚到的就绪事件
		ch.SetRevents(unix.EPOLLIN)
		ch.HandleEvent(timestamp.Now())
		require.False(t, fired)
		close(done)
	})
	<-done
}

func requireFired(t *testing.T, fired chan struct{}) {
	t.Helper()
	select {
	case <-fired:
	case <-time.After(5 * time.Second):
		t.Fatal("event not dispatched")
	}
}
