package service

import (
	"context"
	"fmt"
	"sync"

	"bias-aggregator/internal/storage"
)

// PassLocker grants exclusive right to run an aggregation pass.
type PassLocker interface {
	TryLock(ctx context.Context) (unlock func(), acquired bool, err error)
}

type processLocker struct {
	mu sync.Mutex
}

// NewProcessLocker serializes passes within this process.
func NewProcessLocker() PassLocker {
	return &processLocker{}
}

func (l *processLocker) TryLock(ctx context.Context) (func(), bool, error) {
	if !l.mu.TryLock() {
		return nil, false, nil
	}
	return l.mu.Unlock, true, nil
}

type advisoryPassLocker struct {
	process PassLocker
	locker  storage.AdvisoryLocker
	key     int64
}

// NewAdvisoryPassLocker takes the process lock first and then a Postgres
// advisory lock, so replicas sharing the database also serialize. A zero
// key or nil locker degrades to the process lock alone.
func NewAdvisoryPassLocker(process PassLocker, locker storage.AdvisoryLocker, key int64) PassLocker {
	if process == nil {
		process = NewProcessLocker()
	}
	if locker == nil || key == 0 {
		return process
	}
	return &advisoryPassLocker{process: process, locker: locker, key: key}
}

func (l *advisoryPassLocker) TryLock(ctx context.Context) (func(), bool, error) {
	release, ok, err := l.process.TryLock(ctx)
	if err != nil || !ok {
		return nil, false, err
	}

	unlock, acquired, err := l.locker.TryAdvisoryLock(ctx, l.key)
	if err != nil {
		release()
		return nil, false, fmt.Errorf("acquire advisory lock: %w", err)
	}
	if !acquired {
		release()
		return nil, false, nil
	}
	return func() {
		unlock()
		release()
	}, true, nil
}
