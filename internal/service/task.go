package service

import (
	"context"
	"fmt"
	"go.uber.org/zap"
	"lifeboat/logger"
	"runtime/debug"
	"sync"
	"time"
)

// tasks tracks fire-and-forget work so shutdown can wait for it.
type tasks struct {
	wg sync.WaitGroup
}

func (t *tasks) Go(fn func()) {
	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		fn()
	}()
}

func (t *tasks) Wait() {
	t.wg.Wait()
}

// safely runs fn and turns a panic into an error.
func safely(name string, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("background task panicked",
				zap.String("task", name),
				zap.Any("panic", r),
				zap.ByteString("stack", debug.Stack()))
			err = fmt.Errorf("internal error: %v", r)
		}
	}()
	return fn()
}

// sleep waits d or until ctx ends.
func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func now() *time.Time {
	t := time.Now()
	return &t
}
