package collab

import (
	"context"
	"errors"
)

var (
	// 限流等待超时（提交路径上用短 ctx，排不进去就放弃这次提交）
	ErrSemaphoreTimeout = errors.New("SEMAPHORE_TIMEOUT")
	// Release 没有对应的 Acquire，调用方配对出错
	ErrSemaphoreNotHeld = errors.New("SEMAPHORE_NOT_HELD")
)

const defaultSemaphoreLimit = 100

// SemaphoreControl 限制同时在途的处理数量（提交处理 / Kafka 发送各一个实例）。
type SemaphoreControl struct {
	ch chan struct{}
}

func NewSemaphoreControl(limit int) *SemaphoreControl {
	if limit <= 0 {
		limit = defaultSemaphoreLimit
	}
	return &SemaphoreControl{ch: make(chan struct{}, limit)}
}

func (s *SemaphoreControl) Acquire(ctx context.Context) error {
	select {
	case s.ch <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ErrSemaphoreTimeout
	}
}

func (s *SemaphoreControl) Release() error {
	select {
	case <-s.ch:
		return nil
	default:
		return ErrSemaphoreNotHeld
	}
}
