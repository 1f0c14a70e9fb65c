package store

import (
	"context"
	"errors"
	"sync"
	"time"

	"chatcore/model"
)

// ErrNotFound is returned by Persistence.Load for unknown conversations.
var ErrNotFound = errors.New("conversation not found")

// ConversationSnapshot is the unit of durability: one conversation plus its
// ordered messages.
type ConversationSnapshot struct {
	Conversation model.Conversation `json:"conversation"`
	Messages     []model.Message    `json:"messages"`
}

// Persistence is the opaque durability layer behind the store. The store is
// always the read authority; persistence is written behind a debounce and
// read only at startup.
type Persistence interface {
	Load(ctx context.Context, conversationID string) (*ConversationSnapshot, error)
	LoadAll(ctx context.Context) ([]ConversationSnapshot, error)
	Save(ctx context.Context, snapshot ConversationSnapshot) error
	Delete(ctx context.Context, conversationID string) error
}

// writeBehind coalesces snapshot saves. Each schedule overwrites the
// buffered snapshot for that conversation and re-arms the quiet-period
// timer; the worker writes everything dirty once the burst goes quiet.
// The buffer is owned exclusively by the store.
type writeBehind struct {
	adapter  Persistence
	interval time.Duration

	mu     sync.Mutex
	dirty  map[string]ConversationSnapshot
	closed bool

	wake chan struct{}
	quit chan struct{}
	done chan struct{}
}

const defaultDebounce = 500 * time.Millisecond

func newWriteBehind(adapter Persistence, interval time.Duration) *writeBehind {
	if interval <= 0 {
		interval = defaultDebounce
	}
	wb := &writeBehind{
		adapter:  adapter,
		interval: interval,
		dirty:    make(map[string]ConversationSnapshot),
		wake:     make(chan struct{}, 1),
		quit:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	go wb.loop()
	return wb
}

// schedule buffers a snapshot for the next flush. Fire-and-forget.
func (wb *writeBehind) schedule(snapshot ConversationSnapshot) {
	wb.mu.Lock()
	if wb.closed {
		wb.mu.Unlock()
		return
	}
	wb.dirty[snapshot.Conversation.ID] = snapshot
	wb.mu.Unlock()

	select {
	case wb.wake <- struct{}{}:
	default:
	}
}

// forget drops any buffered snapshot for a deleted conversation.
func (wb *writeBehind) forget(conversationID string) {
	wb.mu.Lock()
	delete(wb.dirty, conversationID)
	wb.mu.Unlock()
}

func (wb *writeBehind) loop() {
	defer close(wb.done)

	timer := time.NewTimer(wb.interval)
	if !timer.Stop() {
		<-timer.C
	}
	armed := false

	for {
		select {
		case <-wb.wake:
			// Re-arm on every mutation so a burst counts as one write.
			if armed && !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(wb.interval)
			armed = true

		case <-timer.C:
			armed = false
			_ = wb.flush(context.Background())

		case <-wb.quit:
			if armed {
				timer.Stop()
			}
			return
		}
	}
}

// flush writes all dirty snapshots now. Save errors are returned but the
// remaining snapshots are still attempted; a failed save stays dirty for
// the next flush.
func (wb *writeBehind) flush(ctx context.Context) error {
	wb.mu.Lock()
	pending := make([]ConversationSnapshot, 0, len(wb.dirty))
	for _, snap := range wb.dirty {
		pending = append(pending, snap)
	}
	wb.dirty = make(map[string]ConversationSnapshot)
	wb.mu.Unlock()

	var firstErr error
	for _, snap := range pending {
		if err := wb.adapter.Save(ctx, snap); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			wb.mu.Lock()
			if _, overwritten := wb.dirty[snap.Conversation.ID]; !overwritten {
				wb.dirty[snap.Conversation.ID] = snap
			}
			wb.mu.Unlock()
		}
	}
	return firstErr
}

func (wb *writeBehind) close() error {
	wb.mu.Lock()
	if wb.closed {
		wb.mu.Unlock()
		<-wb.done
		return nil
	}
	wb.closed = true
	wb.mu.Unlock()

	close(wb.quit)
	<-wb.done
	return wb.flush(context.Background())
}
