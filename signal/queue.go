package signal

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"go.uber.org/zap"
)

// ErrQueueFull TryPublish 在队列满时返回。
var ErrQueueFull = errors.New("signal queue full")

// Queue 是策略与执行协调器之间的有界 FIFO 通道，元素为未校验的原始载荷。
type Queue struct {
	ch chan map[string]any
}

// NewQueue 创建容量为 size 的队列，size<=0 时取 100。
func NewQueue(size int) *Queue {
	if size <= 0 {
		size = 100
	}
	return &Queue{ch: make(chan map[string]any, size)}
}

// Publish 入队；队列满时阻塞直到有空位或 ctx 结束。
func (q *Queue) Publish(ctx context.Context, raw map[string]any) error {
	select {
	case q.ch <- raw:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TryPublish 非阻塞入队。
func (q *Queue) TryPublish(raw map[string]any) error {
	select {
	case q.ch <- raw:
		return nil
	default:
		return ErrQueueFull
	}
}

// C 消费端只读通道。
func (q *Queue) C() <-chan map[string]any {
	return q.ch
}

// Len 当前排队数量
func (q *Queue) Len() int {
	return len(q.ch)
}

// maxLineBytes 单行信号上限，超长的行整行丢弃。
const maxLineBytes = 1 << 20

// ReadJSONLines 逐行读取 JSON 信号并入队。无法解析或超长的行记录后跳过；
// 数字保持 json.Number 以免经过 float64。
func ReadJSONLines(ctx context.Context, r io.Reader, q *Queue, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	br := bufio.NewReaderSize(r, maxLineBytes)
	line := 0
	for {
		b, err := br.ReadSlice('\n')
		if errors.Is(err, bufio.ErrBufferFull) {
			line++
			logger.Warn("skip oversized signal line", zap.Int("line", line), zap.Int("limit", maxLineBytes))
			if err := skipRestOfLine(br); err != nil {
				if errors.Is(err, io.EOF) {
					return nil
				}
				return fmt.Errorf("read signals: %w", err)
			}
			continue
		}
		if len(b) > 0 {
			line++
			if perr := publishLine(ctx, b, line, q, logger); perr != nil {
				return perr
			}
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read signals: %w", err)
		}
	}
}

func publishLine(ctx context.Context, b []byte, line int, q *Queue, logger *zap.Logger) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || b[0] == '#' {
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	var raw map[string]any
	if err := dec.Decode(&raw); err != nil {
		logger.Warn("skip malformed signal line", zap.Int("line", line), zap.Error(err))
		return nil
	}
	return q.Publish(ctx, raw)
}

// skipRestOfLine 丢弃到下一个换行符为止的内容
func skipRestOfLine(br *bufio.Reader) error {
	for {
		_, err := br.ReadSlice('\n')
		if !errors.Is(err, bufio.ErrBufferFull) {
			return err
		}
	}
}
