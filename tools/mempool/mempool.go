package mempool

import "sync"

// 尺寸分级的[]byte分配器，独立于reactor使用。
// 按2的幂分级，Get返回长度为n、容量为所在级别的切片，
// Put按容量归还到对应级别；超过最大级别的请求直接走堆分配。

const (
	minClassSize = 1 << 9  // 512B
	maxClassSize = 1 << 16 // 64KB
	classNum     = 8
)

var pools [classNum]sync.Pool

func init() {
	for i := 0; i < classNum; i++ {
		size := minClassSize << i
		pools[i].New = func() interface{} {
			return make([]byte, size)
		}
	}
}

// 找到能容纳n字节的最小级别，-1表示超出分级范围
func classIndex(n int) int {
	size := minClassSize
	for i := 0; i < classNum; i++ {
		if n <= size {
			return i
		}
		size <<= 1
	}
	return -1
}

// Get 获取长度为n的切片
func Get(n int) []byte {
	if n <= 0 {
		return nil
	}
	idx := classIndex(n)
	if idx < 0 {
		return make([]byte, n)
	}
	return pools[idx].Get().([]byte)[:n]
}

// Put 归还切片，容量不是分级大小的直接丢弃给GC
func Put(b []byte) {
	if b == nil {
		return
	}
	c := cap(b)
	if c < minClassSize || c > maxClassSize || c&(c-1) != 0 {
		return
	}
	idx := classIndex(c)
	pools[idx].Put(b[:c]) //nolint:staticcheck
}
