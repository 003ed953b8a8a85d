package shlnet

import (
	"github.com/Senhnn/shlnet/internal/io"
)

// 缓冲区内存布局：
// +-------------------+------------------+------------------+
// | prependable bytes |  readable bytes  |  writable bytes  |
// +-------------------+------------------+------------------+
// 0      <=      readerIndex   <=   writerIndex    <=     len(buf)
//
// prependable：预留区，方便在数据前面补协议头
// readable：已收到未处理的数据
// writable：可以继续写入的空间

const (
	// CheapPrepend 预留区大小，8字节够放一个长度字段
	CheapPrepend = 8
	// InitialSize 默认初始容量
	InitialSize = 1024

	// readv的栈上溢出缓冲大小，一次syscall最多多收64KB
	spillSize = 64 * 1024
)

// Buffer 连接的应用层读写缓冲，双游标设计，自动扩容。
// 只在所属EventLoop的goroutine上使用，不跨goroutine共享。
type Buffer struct {
	buf         []byte
	readerIndex int
	writerIndex int
}

func NewBuffer() *Buffer {
	return NewBufferSize(InitialSize)
}

func NewBufferSize(initialSize int) *Buffer {
	return &Buffer{
		buf:         make([]byte, CheapPrepend+initialSize),
		readerIndex: CheapPrepend,
		writerIndex: CheapPrepend,
	}
}

// ReadableBytes 当前可读数据的字节数
func (b *Buffer) ReadableBytes() int {
	return b.writerIndex - b.readerIndex
}

// WritableBytes 当前可写空间的字节数
func (b *Buffer) WritableBytes() int {
	return len(b.buf) - b.writerIndex
}

// PrependableBytes 前置预留空间的字节数
func (b *Buffer) PrependableBytes() int {
	return b.readerIndex
}

// Peek 返回可读区域，不移动游标
func (b *Buffer) Peek() []byte {
	return b.buf[b.readerIndex:b.writerIndex]
}

// Retrieve 标记已消费n字节；n达到可读长度时整体复位
func (b *Buffer) Retrieve(n int) {
	if n < b.ReadableBytes() {
		b.readerIndex += n
		return
	}
	b.RetrieveAll()
}

// RetrieveAll 清空可读区域，游标复位到预留区之后
func (b *Buffer) RetrieveAll() {
	b.readerIndex = CheapPrepend
	b.writerIndex = CheapPrepend
}

// RetrieveAllAsString 取出全部可读数据并复位
func (b *Buffer) RetrieveAllAsString() string {
	return b.RetrieveAsString(b.ReadableBytes())
}

// RetrieveAsString 取出前n字节数据
func (b *Buffer) RetrieveAsString(n int) string {
	if n > b.ReadableBytes() {
		n = b.ReadableBytes()
	}
	s := string(b.buf[b.readerIndex : b.readerIndex+n])
	b.Retrieve(n)
	return s
}

// Append 向缓冲区尾部追加数据，空间不足时扩容，不会失败
func (b *Buffer) Append(data []byte) {
	b.EnsureWritableBytes(len(data))
	copy(b.buf[b.writerIndex:], data)
	b.writerIndex += len(data)
}

// AppendString 追加字符串
func (b *Buffer) AppendString(s string) {
	b.EnsureWritableBytes(len(s))
	copy(b.buf[b.writerIndex:], s)
	b.writerIndex += len(s)
}

// EnsureWritableBytes 确保至少有n字节可写空间
func (b *Buffer) EnsureWritableBytes(n int) {
	if b.WritableBytes() < n {
		b.makeSpace(n)
	}
}

/*
** 扩容策略：
** | CheapPrepend |xxx|  reader  |  writer  |
** 若 writable+prependable-CheapPrepend >= n，把可读数据搬回预留区后面腾出空间；
** 否则按 writerIndex+n 精确扩容，避免大块写入时的成倍过量分配。
 */
func (b *Buffer) makeSpace(n int) {
	if b.WritableBytes()+b.PrependableBytes() < n+CheapPrepend {
		newBuf := make([]byte, b.writerIndex+n)
		copy(newBuf, b.buf[:b.writerIndex])
		b.buf = newBuf
		return
	}

	// 搬移压缩，预留区保持CheapPrepend
	readable := b.ReadableBytes()
	copy(b.buf[CheapPrepend:], b.buf[b.readerIndex:b.writerIndex])
	b.readerIndex = CheapPrepend
	b.writerIndex = CheapPrepend + readable
}

// ReadFd 从fd聚集读：一次readv写入可写区和64KB栈上溢出区，
// 溢出部分再Append进来。单次syscall足够应付 64KB+writable 以内的数据，
// 偶发的大流量也不需要预先扩容。
// 返回原始字节数，负数表示失败，错误原样带出
func (b *Buffer) ReadFd(fd int) (int, error) {
	var extrabuf [spillSize]byte

	writable := b.WritableBytes()
	n, err := io.ReadvInto(fd, b.buf[b.writerIndex:], extrabuf[:])
	if err != nil {
		return n, err
	}
	if n <= writable {
		b.writerIndex += n
	} else {
		b.writerIndex = len(b.buf)
		b.Append(extrabuf[:n-writable])
	}
	return n, nil
}

// WriteFd 把可读数据写入fd，游标由调用方按实际写出量Retrieve
func (b *Buffer) WriteFd(fd int) (int, error) {
	return io.Write(fd, b.Peek())
}
