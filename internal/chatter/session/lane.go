package session

import (
	"context"
	"fmt"
	"sync"
)

// lane runs the jobs of one channel in FIFO order, one at a time. The
// draining goroutine exits when the queue is empty.
type lane struct {
	mu      sync.Mutex
	queue   []func()
	running bool
}

func (l *lane) post(job func()) {
	l.mu.Lock()
	l.queue = append(l.queue, job)
	if l.running {
		l.mu.Unlock()
		return
	}
	l.running = true
	l.mu.Unlock()
	go l.drain()
}

func (l *lane) drain() {
	for {
		l.mu.Lock()
		if len(l.queue) == 0 {
			l.running = false
			l.mu.Unlock()
			return
		}
		job := l.queue[0]
		l.queue[0] = nil
		l.queue = l.queue[1:]
		l.mu.Unlock()
		job()
	}
}

func (m *Manager) lane(channel string) *lane {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.lanes[channel]
	if !ok {
		l = &lane{}
		m.lanes[channel] = l
	}
	return l
}

// do runs fn in the channel's lane and waits for it. A job whose ctx is
// done before it starts is skipped. Once started it runs to the end even
// if the caller stops waiting.
func (m *Manager) do(ctx context.Context, channel string, fn func(ctx context.Context) error) error {
	done := make(chan error, 1)
	m.lane(channel).post(func() {
		if err := ctx.Err(); err != nil {
			done <- err
			return
		}
		done <- m.run(ctx, channel, fn)
	})
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// run keeps a panicking job from taking the lane down.
func (m *Manager) run(ctx context.Context, channel string, fn func(ctx context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("session: recovered panic", "channel", channel, "panic", r)
			err = fmt.Errorf("session: internal error: %v", r)
		}
	}()
	return fn(ctx)
}
