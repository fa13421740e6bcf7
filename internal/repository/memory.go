package repository

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	appErrors "github.com/unclebandit/outbound-dispatcher/internal/errors"
	"github.com/unclebandit/outbound-dispatcher/internal/model"
)

// MemoryStore keeps messages, conversations and dispatch events in process.
// It backs STORE_DRIVER=memory and the service tests.
type MemoryStore struct {
	mu            sync.Mutex
	Now           func() time.Time
	messages      []*model.Message
	conversations map[string]*model.Conversation
	contacts      map[string]*model.Contact
	events        []*model.DispatchAttemptEvent
	nextEventID   int64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		Now:           time.Now,
		conversations: make(map[string]*model.Conversation),
		contacts:      make(map[string]*model.Contact),
	}
}

// AddConversation registers a conversation and, when contact is not nil, its contact.
func (s *MemoryStore) AddConversation(conv model.Conversation, contact *model.Contact) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if contact != nil {
		c := *contact
		s.contacts[c.ID] = &c
		conv.ContactID = &c.ID
	}
	s.conversations[conv.ID] = &conv
}

func (s *MemoryStore) Conversation(id string) (model.Conversation, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.conversations[id]
	if !ok {
		return model.Conversation{}, false
	}
	return *c, true
}

func (s *MemoryStore) FindRecentOutboundMessage(_ context.Context, workspaceID, conversationID, bodyText string, since time.Time) (*model.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var found *model.Message
	for _, m := range s.messages {
		if m.WorkspaceID != workspaceID || m.ConversationID != conversationID ||
			m.Direction != model.DirectionOut || m.BodyText != bodyText || m.CreatedAt.Before(since) {
			continue
		}
		// later inserts win ties
		if found == nil || !m.CreatedAt.Before(found.CreatedAt) {
			found = m
		}
	}
	if found == nil {
		return nil, nil
	}
	return copyMessage(found), nil
}

func (s *MemoryStore) InsertMessage(_ context.Context, workspaceID, conversationID, bodyText string) (*model.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, ok := s.conversations[conversationID]
	if !ok || conv.WorkspaceID != workspaceID {
		return nil, appErrors.NewConversationNotFound(workspaceID, conversationID)
	}

	now := s.Now().UTC()
	msg := &model.Message{
		ID:             uuid.NewString(),
		WorkspaceID:    workspaceID,
		ConversationID: conversationID,
		Direction:      model.DirectionOut,
		BodyText:       bodyText,
		Status:         model.StatusQueued,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	s.messages = append(s.messages, msg)
	return copyMessage(msg), nil
}

func (s *MemoryStore) UpdateMessageStatus(_ context.Context, id string, update model.StatusUpdate) (*model.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	msg := s.findMessage(func(m *model.Message) bool { return m.ID == id })
	if msg == nil {
		return nil, appErrors.NewMessageNotFound(id)
	}
	if !slices.Contains(update.From, msg.Status) {
		return copyMessage(msg), appErrors.ErrStatusConflict
	}

	msg.Status = update.To
	if update.ProviderMessageID != nil {
		v := *update.ProviderMessageID
		msg.ProviderMessageID = &v
	}
	msg.ErrorReason = nil
	if update.ErrorReason != nil {
		v := *update.ErrorReason
		msg.ErrorReason = &v
	}
	msg.UpdatedAt = s.Now().UTC()
	return copyMessage(msg), nil
}

func (s *MemoryStore) GetByID(_ context.Context, id string) (*model.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return copyMessage(s.findMessage(func(m *model.Message) bool { return m.ID == id })), nil
}

func (s *MemoryStore) GetByProviderMessageID(_ context.Context, providerMessageID string) (*model.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return copyMessage(s.findMessage(func(m *model.Message) bool {
		return m.ProviderMessageID != nil && *m.ProviderMessageID == providerMessageID
	})), nil
}

func (s *MemoryStore) TouchConversationLastMessageAt(_ context.Context, conversationID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, ok := s.conversations[conversationID]
	if !ok {
		return nil
	}
	if conv.LastMessageAt == nil || at.After(*conv.LastMessageAt) {
		t := at
		conv.LastMessageAt = &t
	}
	return nil
}

func (s *MemoryStore) ResolveConversationDestination(_ context.Context, conversationID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, ok := s.conversations[conversationID]
	if !ok {
		return "", appErrors.NewConversationNotFound("", conversationID)
	}
	if conv.ContactID == nil {
		return "", appErrors.NewContactAddressMissing(conversationID)
	}
	contact, ok := s.contacts[*conv.ContactID]
	if !ok || strings.TrimSpace(contact.Phone) == "" {
		return "", appErrors.NewContactAddressMissing(conversationID)
	}
	return strings.TrimSpace(contact.Phone), nil
}

func (s *MemoryStore) AppendDispatchEvent(_ context.Context, messageID *string, eventType model.EventType, payload []byte) (*model.DispatchAttemptEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(payload) == 0 {
		payload = []byte("{}")
	}
	s.nextEventID++
	ev := &model.DispatchAttemptEvent{
		ID:        s.nextEventID,
		EventType: eventType,
		Payload:   append([]byte(nil), payload...),
		CreatedAt: s.Now().UTC(),
	}
	if messageID != nil {
		id := *messageID
		ev.MessageID = &id
	}
	s.events = append(s.events, ev)

	out := *ev
	return &out, nil
}

func (s *MemoryStore) ListByMessage(_ context.Context, messageID string) ([]model.DispatchAttemptEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	events := []model.DispatchAttemptEvent{}
	for _, ev := range s.events {
		if ev.MessageID != nil && *ev.MessageID == messageID {
			events = append(events, *ev)
		}
	}
	return events, nil
}

// Events returns every recorded event, including those without a message.
func (s *MemoryStore) Events() []model.DispatchAttemptEvent {
	s.mu.Lock()
	defer s.mu.Unlock()

	events := make([]model.DispatchAttemptEvent, 0, len(s.events))
	for _, ev := range s.events {
		events = append(events, *ev)
	}
	return events
}

// Messages returns a snapshot of every stored message in insert order.
func (s *MemoryStore) Messages() []model.Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]model.Message, 0, len(s.messages))
	for _, m := range s.messages {
		out = append(out, *copyMessage(m))
	}
	return out
}

func (s *MemoryStore) findMessage(match func(*model.Message) bool) *model.Message {
	for _, m := range s.messages {
		if match(m) {
			return m
		}
	}
	return nil
}

func copyMessage(m *model.Message) *model.Message {
	if m == nil {
		return nil
	}
	out := *m
	if m.ProviderMessageID != nil {
		v := *m.ProviderMessageID
		out.ProviderMessageID = &v
	}
	if m.ErrorReason != nil {
		v := *m.ErrorReason
		out.ErrorReason = &v
	}
	return &out
}

var (
	_ MessageRepositoryInterface       = (*MemoryStore)(nil)
	_ ConversationRepositoryInterface  = (*MemoryStore)(nil)
	_ DispatchEventRepositoryInterface = (*MemoryStore)(nil)
)
