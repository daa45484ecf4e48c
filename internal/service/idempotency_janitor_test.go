package service

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type countingCleaner struct {
	calls atomic.Int32
	err   error
}

func (c *countingCleaner) CleanExpired(context.Context) (int64, error) {
	c.calls.Add(1)
	return 3, c.err
}

func TestIdempotencyJanitor(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{name: "cleans on every tick"},
		{name: "keeps running after errors", err: errors.New("db down")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cleaner := &countingCleaner{err: tt.err}
			j := NewIdempotencyJanitor(cleaner, slog.Default(), 5*time.Millisecond)

			ctx, cancel := context.WithCancel(context.Background())
			done := make(chan struct{})
			go func() {
				j.Start(ctx)
				close(done)
			}()

			assert.Eventually(t, func() bool { return cleaner.calls.Load() >= 2 }, 2*time.Second, 5*time.Millisecond)
			cancel()
			select {
			case <-done:
			case <-time.After(2 * time.Second):
				t.Fatal("janitor did not stop")
			}
		})
	}
}
