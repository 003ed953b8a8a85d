package timestamp

import (
	"fmt"
	"time"
)

// Timestamp 微秒级时间戳，poll返回时间和消息回调的时间参数都用它表示
type Timestamp int64

const microSecondsPerSecond = 1000 * 1000

// Now 获取当前时间戳
func Now() Timestamp {
	return Timestamp(time.Now().UnixMicro())
}

// Valid 零值表示无效时间
func (t Timestamp) Valid() bool {
	return t > 0
}

// UnixMicro 返回微秒数
func (t Timestamp) UnixMicro() int64 {
	return int64(t)
}

// String 格式化为 YYYY/MM/DD HH:MM:SS
func (t Timestamp) String() string {
	tm := time.Unix(int64(t)/microSecondsPerSecond, int64(t)%microSecondsPerSecond*1000)
	return fmt.Sprintf("%04d/%02d/%02d %02d:%02d:%02d",
		tm.Year(), tm.Month(), tm.Day(), tm.Hour(), tm.Minute(), tm.Second())
}
