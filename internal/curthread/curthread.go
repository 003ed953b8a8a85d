package curthread

import (
	"runtime"
	"strconv"
)

// GoID 获取当前goroutine的id。
// runtime没有公开接口，只能解析栈首行"goroutine N [running]:"拿到N。
// 用于EventLoop归属判断和one-loop-per-goroutine检查；
// 连接的读写事件处理和Send都经由归属判断调用它。
func GoID() int64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	// 跳过"goroutine "前缀
	s := buf[10:n]
	end := 0
	for end < len(s) && s[end] >= '0' && s[end] <= '9' {
		end++
	}
	id, err := strconv.ParseInt(string(s[:end]), 10, 64)
	if err != nil {
		return -1
	}
	return id
}
