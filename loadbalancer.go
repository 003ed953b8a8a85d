package shlnet

import (
	"hash/fnv"
	"net"
)

// LoadBalancing 负载均衡算法，默认为轮询
type LoadBalancing int

const (
	// RoundRobin 轮询
	RoundRobin LoadBalancing = iota

	// LeastConnections 最小连接
	LeastConnections

	// SourceAddrHash 按对端地址哈希
	SourceAddrHash
)

// loadBalancer 从worker loop中给新连接挑归属。
// 只在主loop上调用，不加锁
type loadBalancer interface {
	register(*EventLoop)
	next(net.Addr) *EventLoop
	len() int
}

func newLoadBalancer(lb LoadBalancing) loadBalancer {
	switch lb {
	case LeastConnections:
		return new(leastConnectionsLoadBalancer)
	case SourceAddrHash:
		return new(sourceAddrHashLoadBalancer)
	default:
		return new(roundRobinLoadBalancer)
	}
}

// loopSet 各算法共用的worker集合
type loopSet struct {
	loops []*EventLoop
}

func (s *loopSet) register(loop *EventLoop) {
	loop.index = len(s.loops)
	s.loops = append(s.loops, loop)
}

func (s *loopSet) len() int {
	return len(s.loops)
}

// roundRobinLoadBalancer 轮询
type roundRobinLoadBalancer struct {
	loopSet
	cursor int
}

func (lb *roundRobinLoadBalancer) next(_ net.Addr) *EventLoop {
	loop := lb.loops[lb.cursor]
	lb.cursor = (lb.cursor + 1) % len(lb.loops)
	return loop
}

// leastConnectionsLoadBalancer 连接数最少的优先
type leastConnectionsLoadBalancer struct {
	loopSet
}

func (lb *leastConnectionsLoadBalancer) next(_ net.Addr) *EventLoop {
	picked := lb.loops[0]
	for _, loop := range lb.loops[1:] {
		if loop.loadConn() < picked.loadConn() {
			picked = loop
		}
	}
	return picked
}

// sourceAddrHashLoadBalancer 同一对端地址固定落在同一个loop上
type sourceAddrHashLoadBalancer struct {
	loopSet
}

func (lb *sourceAddrHashLoadBalancer) next(addr net.Addr) *EventLoop {
	h := fnv.New32a()
	_, _ = h.Write([]byte(addr.String()))
	return lb.loops[int(h.Sum32())%len(lb.loops)]
}
