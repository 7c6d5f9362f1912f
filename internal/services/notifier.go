package services

import (
	"context"
	"errors"
	"time"
)

// CacheFoundEvent is emitted after a discovery is committed
type CacheFoundEvent struct {
	CacheID   string
	CreatorID string
	FinderID  string
	Comment   string
	FoundAt   time.Time
}

// Notifier tells a cache creator that their cache was found
type Notifier interface {
	NotifyCacheFound(ctx context.Context, event CacheFoundEvent) error
}

// MultiNotifier fans an event out to every notifier
type MultiNotifier []Notifier

// NotifyCacheFound calls every notifier and joins their errors
func (m MultiNotifier) NotifyCacheFound(ctx context.Context, event CacheFoundEvent) error {
	var errs []error
	for _, n := range m {
		if n == nil {
			continue
		}
		if err := n.NotifyCacheFound(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
