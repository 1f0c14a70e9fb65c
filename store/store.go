// Package store holds the reactive conversation/message store and its
// durability side-channel.
//
// The in-memory store is the single source of truth and the only mutable
// shared resource in the runtime: the workflow engine and input handlers go
// through its mutation methods, never touching messages in place. Every
// mutation triggers exactly one subscriber notification carrying a
// consistent snapshot, and schedules a debounced write-behind save so rapid
// token appends coalesce into one durable write per quiet period.
package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"chatcore/model"
)

// ErrConcurrentStream is returned when a second message would enter
// streaming status in the same conversation.
var ErrConcurrentStream = errors.New("conversation already has a streaming message")

// Filter selects conversations for list projections. Nil pointer fields
// match everything.
type Filter struct {
	Tag      string
	Pinned   *bool
	Archived *bool
}

// ListListener receives the conversation list after every mutation.
type ListListener func(conversations []model.Conversation)

// ConversationListener receives one conversation's messages after every
// mutation touching it.
type ConversationListener func(conversation model.Conversation, messages []model.Message)

type convSub struct {
	conversationID string
	fn             ConversationListener
}

// Store is the reactive conversation/message store. Construct it explicitly
// and pass it by reference; there is no package-level instance.
type Store struct {
	mu            sync.RWMutex
	conversations map[string]*model.Conversation
	messages      map[string][]model.Message
	msgIndex      map[string]string // message id -> conversation id
	streaming     map[string]string // conversation id -> streaming message id

	nextSubID int
	listSubs  map[int]ListListener
	convSubs  map[int]convSub

	writeBehind *writeBehind
}

// NewStore creates a store. adapter may be nil for a memory-only store;
// debounce is the quiet period before buffered mutations are persisted.
func NewStore(adapter Persistence, debounce time.Duration) *Store {
	s := &Store{
		conversations: make(map[string]*model.Conversation),
		messages:      make(map[string][]model.Message),
		msgIndex:      make(map[string]string),
		streaming:     make(map[string]string),
		listSubs:      make(map[int]ListListener),
		convSubs:      make(map[int]convSub),
	}
	if adapter != nil {
		s.writeBehind = newWriteBehind(adapter, debounce)
	}
	return s
}

// LoadAll hydrates the store from persistence. Load failures leave the
// store empty rather than failing the caller; durability is a side-channel,
// never a read dependency.
func (s *Store) LoadAll(ctx context.Context) {
	if s.writeBehind == nil {
		return
	}
	snapshots, err := s.writeBehind.adapter.LoadAll(ctx)
	if err != nil {
		return
	}

	s.mu.Lock()
	for _, snap := range snapshots {
		conv := snap.Conversation
		s.conversations[conv.ID] = &conv
		msgs := make([]model.Message, len(snap.Messages))
		copy(msgs, snap.Messages)
		for i := range msgs {
			// A crash mid-stream leaves a streaming message behind;
			// settle it as an error instead of resurrecting the invariant.
			if msgs[i].Status == model.StatusStreaming || msgs[i].Status == model.StatusPending {
				msgs[i].Status = model.StatusError
			}
			s.msgIndex[msgs[i].ID] = conv.ID
		}
		s.messages[conv.ID] = msgs
	}
	s.mu.Unlock()
}

// CreateConversation adds a new conversation and returns a copy of it.
func (s *Store) CreateConversation(title string, desc model.ModelDescriptor) model.Conversation {
	now := time.Now()
	conv := model.Conversation{
		ID:        uuid.New().String(),
		Title:     title,
		Model:     desc,
		CreatedAt: now,
		UpdatedAt: now,
	}

	s.mu.Lock()
	s.conversations[conv.ID] = &conv
	s.messages[conv.ID] = nil
	s.mu.Unlock()

	s.afterMutation(conv.ID)
	return conv
}

// MetaUpdate is a partial conversation-metadata change; nil fields are
// left untouched.
type MetaUpdate struct {
	Title    *string
	Tags     *[]string
	Pinned   *bool
	Archived *bool
}

// SetConversationMeta applies a metadata update.
func (s *Store) SetConversationMeta(conversationID string, update MetaUpdate) error {
	s.mu.Lock()
	conv, ok := s.conversations[conversationID]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("conversation %s not found", conversationID)
	}
	if update.Title != nil {
		conv.Title = *update.Title
	}
	if update.Tags != nil {
		conv.Tags = append([]string(nil), (*update.Tags)...)
	}
	if update.Pinned != nil {
		conv.Pinned = *update.Pinned
	}
	if update.Archived != nil {
		conv.Archived = *update.Archived
	}
	conv.UpdatedAt = time.Now()
	s.mu.Unlock()

	s.afterMutation(conversationID)
	return nil
}

// DeleteConversation removes a conversation and its messages, and deletes
// the durable copy.
func (s *Store) DeleteConversation(ctx context.Context, conversationID string) error {
	s.mu.Lock()
	if _, ok := s.conversations[conversationID]; !ok {
		s.mu.Unlock()
		return fmt.Errorf("conversation %s not found", conversationID)
	}
	for _, msg := range s.messages[conversationID] {
		delete(s.msgIndex, msg.ID)
	}
	delete(s.conversations, conversationID)
	delete(s.messages, conversationID)
	delete(s.streaming, conversationID)
	s.mu.Unlock()

	if s.writeBehind != nil {
		s.writeBehind.forget(conversationID)
		if err := s.writeBehind.adapter.Delete(ctx, conversationID); err != nil {
			return fmt.Errorf("delete conversation: %w", err)
		}
	}

	s.notifyList()
	return nil
}

// AddMessage appends a message to a conversation and returns a copy of it.
func (s *Store) AddMessage(conversationID string, role model.Role, content string) (model.Message, error) {
	now := time.Now()
	msg := model.Message{
		ID:             uuid.New().String(),
		ConversationID: conversationID,
		Role:           role,
		Content:        content,
		Status:         model.StatusCompleted,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if role == model.RoleAssistant && content == "" {
		msg.Status = model.StatusPending
	}

	s.mu.Lock()
	if _, ok := s.conversations[conversationID]; !ok {
		s.mu.Unlock()
		return model.Message{}, fmt.Errorf("conversation %s not found", conversationID)
	}
	s.messages[conversationID] = append(s.messages[conversationID], msg)
	s.msgIndex[msg.ID] = conversationID
	s.conversations[conversationID].UpdatedAt = now
	s.mu.Unlock()

	s.afterMutation(conversationID)
	return msg, nil
}

// AppendToken concatenates delta onto the message content. The first append
// flips the message from pending to streaming; at most one message per
// conversation may be streaming, so a second concurrent generation into the
// same conversation is rejected with ErrConcurrentStream.
func (s *Store) AppendToken(messageID, delta string) error {
	s.mu.Lock()
	convID, msg, err := s.locate(messageID)
	if err != nil {
		s.mu.Unlock()
		return err
	}

	if msg.Status == model.StatusPending {
		if other, busy := s.streaming[convID]; busy && other != messageID {
			s.mu.Unlock()
			return ErrConcurrentStream
		}
		s.streaming[convID] = messageID
		msg.Status = model.StatusStreaming
	} else if msg.Status != model.StatusStreaming {
		s.mu.Unlock()
		return fmt.Errorf("message %s is %s, not streaming", messageID, msg.Status)
	}

	msg.Content += delta
	msg.UpdatedAt = time.Now()
	s.conversations[convID].UpdatedAt = msg.UpdatedAt
	s.mu.Unlock()

	s.afterMutation(convID)
	return nil
}

// Finalize settles a pending or streaming message as completed. Exactly one
// completed notification follows; finalizing twice is an error and emits
// nothing.
func (s *Store) Finalize(messageID string) error {
	s.mu.Lock()
	convID, msg, err := s.locate(messageID)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	if msg.Status != model.StatusStreaming && msg.Status != model.StatusPending {
		s.mu.Unlock()
		return fmt.Errorf("message %s is %s, cannot finalize", messageID, msg.Status)
	}
	msg.Status = model.StatusCompleted
	msg.UpdatedAt = time.Now()
	if s.streaming[convID] == messageID {
		delete(s.streaming, convID)
	}
	s.conversations[convID].UpdatedAt = msg.UpdatedAt
	s.mu.Unlock()

	s.afterMutation(convID)
	return nil
}

// FailMessage settles a message as errored with a short user-facing summary.
// The raw provider error stays in logs, never in the message content.
func (s *Store) FailMessage(messageID, summary string) error {
	s.mu.Lock()
	convID, msg, err := s.locate(messageID)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	msg.Status = model.StatusError
	if summary != "" {
		msg.Content = summary
	}
	msg.UpdatedAt = time.Now()
	if s.streaming[convID] == messageID {
		delete(s.streaming, convID)
	}
	s.conversations[convID].UpdatedAt = msg.UpdatedAt
	s.mu.Unlock()

	s.afterMutation(convID)
	return nil
}

// SetToolCalls records the tool calls attributed to a message.
func (s *Store) SetToolCalls(messageID string, calls []model.ToolCall) error {
	s.mu.Lock()
	convID, msg, err := s.locate(messageID)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	msg.ToolCalls = append([]model.ToolCall(nil), calls...)
	msg.UpdatedAt = time.Now()
	s.mu.Unlock()

	s.afterMutation(convID)
	return nil
}

// ApplyToolResults records execution outcomes on a message's tool calls,
// matched by call ID. Results for unknown call IDs are ignored. One
// notification covers the whole batch.
func (s *Store) ApplyToolResults(messageID string, results []model.ToolResult) error {
	s.mu.Lock()
	convID, msg, err := s.locate(messageID)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	for _, res := range results {
		for i := range msg.ToolCalls {
			if msg.ToolCalls[i].ID == res.CallID {
				msg.ToolCalls[i].ApplyResult(res)
				break
			}
		}
	}
	msg.UpdatedAt = time.Now()
	s.mu.Unlock()

	s.afterMutation(convID)
	return nil
}

// UpdateMessage replaces a message's content.
func (s *Store) UpdateMessage(messageID, content string) error {
	s.mu.Lock()
	convID, msg, err := s.locate(messageID)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	msg.Content = content
	msg.UpdatedAt = time.Now()
	s.conversations[convID].UpdatedAt = msg.UpdatedAt
	s.mu.Unlock()

	s.afterMutation(convID)
	return nil
}

// DeleteMessage removes a message from its conversation.
func (s *Store) DeleteMessage(messageID string) error {
	s.mu.Lock()
	convID, ok := s.msgIndex[messageID]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("message %s not found", messageID)
	}
	msgs := s.messages[convID]
	for i := range msgs {
		if msgs[i].ID == messageID {
			s.messages[convID] = append(msgs[:i:i], msgs[i+1:]...)
			break
		}
	}
	delete(s.msgIndex, messageID)
	if s.streaming[convID] == messageID {
		delete(s.streaming, convID)
	}
	s.conversations[convID].UpdatedAt = time.Now()
	s.mu.Unlock()

	s.afterMutation(convID)
	return nil
}

// locate finds a message for mutation. Caller holds the write lock.
func (s *Store) locate(messageID string) (string, *model.Message, error) {
	convID, ok := s.msgIndex[messageID]
	if !ok {
		return "", nil, fmt.Errorf("message %s not found", messageID)
	}
	msgs := s.messages[convID]
	for i := range msgs {
		if msgs[i].ID == messageID {
			return convID, &msgs[i], nil
		}
	}
	return "", nil, fmt.Errorf("message %s not found", messageID)
}

// Conversation returns a copy of one conversation.
func (s *Store) Conversation(conversationID string) (model.Conversation, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	conv, ok := s.conversations[conversationID]
	if !ok {
		return model.Conversation{}, false
	}
	return *conv, true
}

// Messages returns an ordered copy of a conversation's messages.
func (s *Store) Messages(conversationID string) []model.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.messagesLocked(conversationID)
}

func (s *Store) messagesLocked(conversationID string) []model.Message {
	msgs := s.messages[conversationID]
	out := make([]model.Message, len(msgs))
	copy(out, msgs)
	return out
}

// Conversations returns the filtered conversation list, newest-updated
// first. Filtering is a pure projection over the in-memory state.
func (s *Store) Conversations(filter Filter) []model.Conversation {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.conversationsLocked(filter)
}

func (s *Store) conversationsLocked(filter Filter) []model.Conversation {
	out := make([]model.Conversation, 0, len(s.conversations))
	for _, conv := range s.conversations {
		if filter.Tag != "" && !conv.HasTag(filter.Tag) {
			continue
		}
		if filter.Pinned != nil && conv.Pinned != *filter.Pinned {
			continue
		}
		if filter.Archived != nil && conv.Archived != *filter.Archived {
			continue
		}
		out = append(out, *conv)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	return out
}

// StreamingMessage returns the id of the conversation's streaming message,
// if any.
func (s *Store) StreamingMessage(conversationID string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.streaming[conversationID]
	return id, ok
}

// SubscribeList registers a listener for the conversation list. The
// returned function removes the subscription.
func (s *Store) SubscribeList(fn ListListener) func() {
	s.mu.Lock()
	id := s.nextSubID
	s.nextSubID++
	s.listSubs[id] = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.listSubs, id)
		s.mu.Unlock()
	}
}

// SubscribeConversation registers a listener for one conversation's
// messages. The returned function removes the subscription.
func (s *Store) SubscribeConversation(conversationID string, fn ConversationListener) func() {
	s.mu.Lock()
	id := s.nextSubID
	s.nextSubID++
	s.convSubs[id] = convSub{conversationID: conversationID, fn: fn}
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.convSubs, id)
		s.mu.Unlock()
	}
}

// afterMutation schedules the debounced save and delivers exactly one
// notification per subscriber. Snapshots are taken under the read lock;
// listeners run outside it so they may re-enter the store.
func (s *Store) afterMutation(conversationID string) {
	s.mu.RLock()
	var snap *ConversationSnapshot
	if conv, ok := s.conversations[conversationID]; ok {
		snap = &ConversationSnapshot{
			Conversation: *conv,
			Messages:     s.messagesLocked(conversationID),
		}
	}
	list := s.conversationsLocked(Filter{})
	listFns := make([]ListListener, 0, len(s.listSubs))
	for _, fn := range s.listSubs {
		listFns = append(listFns, fn)
	}
	convFns := make([]ConversationListener, 0)
	for _, sub := range s.convSubs {
		if sub.conversationID == conversationID {
			convFns = append(convFns, sub.fn)
		}
	}
	s.mu.RUnlock()

	if snap != nil && s.writeBehind != nil {
		s.writeBehind.schedule(*snap)
	}
	for _, fn := range listFns {
		fn(list)
	}
	if snap != nil {
		for _, fn := range convFns {
			fn(snap.Conversation, snap.Messages)
		}
	}
}

// notifyList delivers a list-only notification (used after deletes, where
// no conversation snapshot exists anymore).
func (s *Store) notifyList() {
	s.mu.RLock()
	list := s.conversationsLocked(Filter{})
	listFns := make([]ListListener, 0, len(s.listSubs))
	for _, fn := range s.listSubs {
		listFns = append(listFns, fn)
	}
	s.mu.RUnlock()

	for _, fn := range listFns {
		fn(list)
	}
}

// Flush forces any buffered snapshots to persistence immediately.
func (s *Store) Flush(ctx context.Context) error {
	if s.writeBehind == nil {
		return nil
	}
	return s.writeBehind.flush(ctx)
}

// Close flushes buffered snapshots and stops the write-behind worker.
func (s *Store) Close() error {
	if s.writeBehind == nil {
		return nil
	}
	return s.writeBehind.close()
}
