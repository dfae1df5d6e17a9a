package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fathima-sithara/churchconnect/internal/apperr"
	"github.com/fathima-sithara/churchconnect/internal/domain"
)

type memberKey struct{ conv, user string }

type receiptKey struct{ msg, user string }

// MemoryStore keeps everything in process memory. It backs local development and tests.
type MemoryStore struct {
	mu            sync.RWMutex
	users         map[string]*domain.User
	conversations map[string]*domain.Conversation
	members       map[memberKey]*domain.ConversationMember
	messages      map[string]*domain.Message
	byConv        map[string][]string // conversation id -> message ids in insertion order
	receipts      map[receiptKey]*domain.MessageReceipt

	unavailable error
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:         make(map[string]*domain.User),
		conversations: make(map[string]*domain.Conversation),
		members:       make(map[memberKey]*domain.ConversationMember),
		messages:      make(map[string]*domain.Message),
		byConv:        make(map[string][]string),
		receipts:      make(map[receiptKey]*domain.MessageReceipt),
	}
}

// SetUnavailable makes every subsequent call fail with a store_unavailable error until cleared with nil.
func (s *MemoryStore) SetUnavailable(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.unavailable = err
}

func (s *MemoryStore) check() error {
	if s.unavailable != nil {
		return apperr.Unavailable(s.unavailable)
	}
	return nil
}

// PutUser seeds a user. Users are issued by the auth collaborator, not by this service.
func (s *MemoryStore) PutUser(u domain.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u.ChurchRole == "" {
		u.ChurchRole = domain.RoleMember
	}
	s.users[u.ID] = &u
}

func (s *MemoryStore) GetUser(ctx context.Context, id string) (*domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(); err != nil {
		return nil, err
	}
	u, ok := s.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (s *MemoryStore) SearchUsers(ctx context.Context, query, excludeID string, limit int) ([]domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(); err != nil {
		return nil, err
	}
	q := strings.ToLower(query)
	out := []domain.User{}
	for _, u := range s.users {
		if u.ID == excludeID {
			continue
		}
		if strings.Contains(strings.ToLower(u.FullName), q) || strings.Contains(strings.ToLower(u.Email), q) {
			out = append(out, *u)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FullName < out[j].FullName })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) SetPresence(ctx context.Context, userID string, online bool, lastSeen *time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(); err != nil {
		return err
	}
	u, ok := s.users[userID]
	if !ok {
		return ErrNotFound
	}
	u.IsOnline = online
	if lastSeen != nil {
		ls := *lastSeen
		u.LastSeen = &ls
	}
	return nil
}

func (s *MemoryStore) CreateConversation(ctx context.Context, c *domain.Conversation, members []domain.ConversationMember) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(); err != nil {
		return err
	}
	cp := *c
	s.conversations[c.ID] = &cp
	for _, m := range members {
		k := memberKey{m.ConversationID, m.UserID}
		if _, exists := s.members[k]; exists {
			continue
		}
		mc := m
		s.members[k] = &mc
	}
	return nil
}

func (s *MemoryStore) GetConversation(ctx context.Context, id string) (*domain.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(); err != nil {
		return nil, err
	}
	c, ok := s.conversations[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (s *MemoryStore) FindDirectConversation(ctx context.Context, userA, userB string) (*domain.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(); err != nil {
		return nil, err
	}
	for id, c := range s.conversations {
		if c.Type != domain.ConversationDirect {
			continue
		}
		_, okA := s.members[memberKey{id, userA}]
		_, okB := s.members[memberKey{id, userB}]
		if okA && okB {
			cp := *c
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryStore) ListConversations(ctx context.Context, userID string) ([]domain.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(); err != nil {
		return nil, err
	}
	out := []domain.Conversation{}
	for k := range s.members {
		if k.user != userID {
			continue
		}
		if c, ok := s.conversations[k.conv]; ok {
			out = append(out, *c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryStore) GetMember(ctx context.Context, conversationID, userID string) (*domain.ConversationMember, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(); err != nil {
		return nil, err
	}
	m, ok := s.members[memberKey{conversationID, userID}]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *m
	return &cp, nil
}

func (s *MemoryStore) AddMember(ctx context.Context, m domain.ConversationMember) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(); err != nil {
		return false, err
	}
	k := memberKey{m.ConversationID, m.UserID}
	if _, exists := s.members[k]; exists {
		return false, nil
	}
	s.members[k] = &m
	return true, nil
}

func (s *MemoryStore) ListMembers(ctx context.Context, conversationID string) ([]domain.MemberView, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(); err != nil {
		return nil, err
	}
	out := []domain.MemberView{}
	for k, m := range s.members {
		if k.conv != conversationID {
			continue
		}
		u, ok := s.users[k.user]
		if !ok {
			continue
		}
		out = append(out, domain.MemberView{
			ID:         u.ID,
			FullName:   u.FullName,
			AvatarURL:  u.AvatarURL,
			ChurchRole: u.ChurchRole,
			IsOnline:   u.IsOnline,
			LastSeen:   u.LastSeen,
			Role:       m.Role,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FullName < out[j].FullName })
	return out, nil
}

func (s *MemoryStore) ListMemberships(ctx context.Context, userID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(); err != nil {
		return nil, err
	}
	out := []string{}
	for k := range s.members {
		if k.user == userID {
			out = append(out, k.conv)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (s *MemoryStore) InsertMessage(ctx context.Context, m *domain.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(); err != nil {
		return err
	}
	cp := *m
	s.messages[m.ID] = &cp
	s.byConv[m.ConversationID] = append(s.byConv[m.ConversationID], m.ID)
	return nil
}

func (s *MemoryStore) GetMessage(ctx context.Context, id string) (*domain.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(); err != nil {
		return nil, err
	}
	m, ok := s.messages[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *m
	return &cp, nil
}

func (s *MemoryStore) GetMessageView(ctx context.Context, id string) (*domain.MessageView, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(); err != nil {
		return nil, err
	}
	m, ok := s.messages[id]
	if !ok {
		return nil, ErrNotFound
	}
	v := domain.NewMessageView(*m, s.users[m.SenderID])
	return &v, nil
}

func (s *MemoryStore) TombstoneMessage(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(); err != nil {
		return err
	}
	m, ok := s.messages[id]
	if !ok {
		return ErrNotFound
	}
	m.IsDeleted = true
	m.Content = domain.Tombstone
	return nil
}

func (s *MemoryStore) ListMessages(ctx context.Context, conversationID string, limit int, before Cursor) ([]domain.MessageView, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(); err != nil {
		return nil, err
	}
	var live []*domain.Message
	for _, id := range s.byConv[conversationID] {
		m := s.messages[id]
		if m.IsDeleted || !before.Admits(m.CreatedAt, m.ID) {
			continue
		}
		live = append(live, m)
	}
	// newest first, same order as the mongo index
	sort.SliceStable(live, func(i, j int) bool {
		if !live[i].CreatedAt.Equal(live[j].CreatedAt) {
			return live[i].CreatedAt.After(live[j].CreatedAt)
		}
		return live[i].ID > live[j].ID
	})
	if limit > 0 && len(live) > limit {
		live = live[:limit]
	}
	page := make([]domain.MessageView, len(live))
	for i, m := range live {
		page[len(live)-1-i] = domain.NewMessageView(*m, s.users[m.SenderID])
	}
	return page, nil
}

func (s *MemoryStore) LastMessage(ctx context.Context, conversationID string) (*domain.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(); err != nil {
		return nil, err
	}
	ids := s.byConv[conversationID]
	for i := len(ids) - 1; i >= 0; i-- {
		if m := s.messages[ids[i]]; !m.IsDeleted {
			cp := *m
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryStore) UpsertReceipt(ctx context.Context, r domain.MessageReceipt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(); err != nil {
		return err
	}
	k := receiptKey{r.MessageID, r.UserID}
	cur, ok := s.receipts[k]
	if !ok {
		s.receipts[k] = &r
		return nil
	}
	next := cur.Status.Advance(r.Status)
	if next != cur.Status {
		cur.Status = next
		cur.UpdatedAt = r.UpdatedAt
	}
	return nil
}

func (s *MemoryStore) GetReceipt(ctx context.Context, messageID, userID string) (*domain.MessageReceipt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(); err != nil {
		return nil, err
	}
	r, ok := s.receipts[receiptKey{messageID, userID}]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (s *MemoryStore) UnreadCount(ctx context.Context, userID, conversationID string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(); err != nil {
		return 0, err
	}
	var n int64
	for _, id := range s.byConv[conversationID] {
		m := s.messages[id]
		if m.IsDeleted || m.SenderID == userID {
			continue
		}
		if r, ok := s.receipts[receiptKey{id, userID}]; ok && r.Status == domain.ReceiptRead {
			continue
		}
		n++
	}
	return n, nil
}
