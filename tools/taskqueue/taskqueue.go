package taskqueue

import (
	"sync"

	"github.com/eapache/queue"
)

// Task EventLoop中延迟执行的无参任务
type Task func()

// Queue 互斥锁保护的FIFO任务队列。
// 入队顺序即执行顺序；DrainTo在O(1)临界区内把整批任务换出，
// 换出之后入队的任务留到下一批，回调里再入队不会死锁也不会丢失。
type Queue struct {
	mu      sync.Mutex
	pending *queue.Queue
}

func New() *Queue {
	return &Queue{pending: queue.New()}
}

// Push 入队，返回入队后的长度
func (q *Queue) Push(t Task) int {
	q.mu.Lock()
	q.pending.Add(t)
	n := q.pending.Length()
	q.mu.Unlock()
	return n
}

// DrainTo 换出当前批次的全部任务追加到buf，保持入队顺序
func (q *Queue) DrainTo(buf []Task) []Task {
	q.mu.Lock()
	old := q.pending
	q.pending = queue.New()
	q.mu.Unlock()

	for old.Length() > 0 {
		buf = append(buf, old.Remove().(Task))
	}
	return buf
}

// Len 当前待执行任务数
func (q *Queue) Len() int {
	q.mu.Lock()
	n := q.pending.Length()
	q.mu.Unlock()
	return n
}
