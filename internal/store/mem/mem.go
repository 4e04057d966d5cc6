// Package mem holds an in-memory store backend. Tests use it in place of
// Postgres; its semantics mirror internal/store/pg, including duplicate
// message skipping and the one-active-sequence rule.
package mem

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/altair-labs/salesagent/internal/store"
)

// Store implements every store interface over in-memory maps.
type Store struct {
	mu        sync.Mutex
	contacts  map[uuid.UUID]*store.Contact
	byPhone   map[string]uuid.UUID
	messages  []*store.Message
	followUps map[uuid.UUID]*store.FollowUp
	calls     []*store.ScheduledCall
}

func New() *Store {
	return &Store{
		contacts:  make(map[uuid.UUID]*store.Contact),
		byPhone:   make(map[string]uuid.UUID),
		followUps: make(map[uuid.UUID]*store.FollowUp),
	}
}

// Stores bundles the in-memory backend the same way pg.NewStores does.
func (s *Store) Stores() *store.Stores {
	return &store.Stores{
		Contacts:  s,
		Messages:  s,
		FollowUps: s,
		Calls:     s,
		Stats:     s,
		Ping:      func(ctx context.Context) error { return nil },
		Close:     func() error { return nil },
	}
}

func (s *Store) GetOrCreate(ctx context.Context, phone string, profile store.ContactProfile) (*store.Contact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	if id, ok := s.byPhone[phone]; ok {
		c := s.contacts[id]
		c.LastMessageAt = &now
		c.UpdatedAt = now
		cp := *c
		return &cp, nil
	}

	c := &store.Contact{
		ID:            uuid.Must(uuid.NewV7()),
		PhoneNumber:   phone,
		Name:          profile.Name,
		FullName:      profile.FullName,
		BusinessName:  profile.BusinessName,
		LastMessageAt: &now,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	s.contacts[c.ID] = c
	s.byPhone[phone] = c.ID
	cp := *c
	return &cp, nil
}

func (s *Store) ByPhone(ctx context.Context, phone string) (*store.Contact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byPhone[phone]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *s.contacts[id]
	return &cp, nil
}

func (s *Store) ByID(ctx context.Context, id uuid.UUID) (*store.Contact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.contacts[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (s *Store) SetClassification(ctx context.Context, id uuid.UUID, isClient bool, confidence float64, reasoning string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.contacts[id]
	if !ok {
		return store.ErrNotFound
	}
	v := isClient
	c.IsClient = &v
	c.Confidence = confidence
	c.Reasoning = reasoning
	c.UpdatedAt = time.Now()
	return nil
}

func (s *Store) Clients(ctx context.Context) ([]*store.Contact, error) {
	return s.selectContacts(func(c *store.Contact) bool {
		return c.IsClient != nil && *c.IsClient
	}), nil
}

func (s *Store) Unclassified(ctx context.Context) ([]*store.Contact, error) {
	return s.selectContacts(func(c *store.Contact) bool {
		return c.IsClient == nil
	}), nil
}

func (s *Store) selectContacts(keep func(*store.Contact) bool) []*store.Contact {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*store.Contact
	for _, c := range s.contacts {
		if keep(c) {
			cp := *c
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func (s *Store) InsertInbound(ctx context.Context, m *store.Message) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if m.MessageID != "" {
		for _, existing := range s.messages {
			if existing.MessageID == m.MessageID {
				return false, nil
			}
		}
	}
	if m.ID == uuid.Nil {
		m.ID = uuid.Must(uuid.NewV7())
	}
	if m.Timestamp.IsZero() {
		m.Timestamp = time.Now()
	}
	cp := *m
	s.messages = append(s.messages, &cp)
	return true, nil
}

func (s *Store) InsertBot(ctx context.Context, m *store.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m.ID == uuid.Nil {
		m.ID = uuid.Must(uuid.NewV7())
	}
	if m.Timestamp.IsZero() {
		m.Timestamp = time.Now()
	}
	m.FromBot = true
	cp := *m
	s.messages = append(s.messages, &cp)
	return nil
}

func (s *Store) Recent(ctx context.Context, contactID uuid.UUID, limit int) ([]*store.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*store.Message
	for _, m := range s.messages {
		if m.ContactID == contactID {
			cp := *m
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (s *Store) Count(ctx context.Context, contactID uuid.UUID) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, m := range s.messages {
		if m.ContactID == contactID {
			n++
		}
	}
	return n, nil
}

func (s *Store) Active(ctx context.Context, contactID uuid.UUID) (*store.FollowUp, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f := s.activeLocked(contactID)
	if f == nil {
		return nil, store.ErrNotFound
	}
	cp := *f
	return &cp, nil
}

func (s *Store) activeLocked(contactID uuid.UUID) *store.FollowUp {
	for _, f := range s.followUps {
		if f.ContactID == contactID && !f.Completed {
			return f
		}
	}
	return nil
}

func (s *Store) Create(ctx context.Context, contactID uuid.UUID, nextTouchAt time.Time) (*store.FollowUp, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.activeLocked(contactID) != nil {
		return nil, store.ErrActiveFollowUp
	}
	f := &store.FollowUp{
		ID:          uuid.Must(uuid.NewV7()),
		ContactID:   contactID,
		TouchNumber: 1,
		NextTouchAt: nextTouchAt,
		CreatedAt:   time.Now(),
	}
	s.followUps[f.ID] = f
	cp := *f
	return &cp, nil
}

func (s *Store) Stop(ctx context.Context, contactID uuid.UUID, reason string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f := s.activeLocked(contactID)
	if f == nil {
		return false, nil
	}
	f.Completed = true
	f.StopReason = reason
	return true, nil
}

func (s *Store) Due(ctx context.Context, now time.Time) ([]*store.FollowUp, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*store.FollowUp
	for _, f := range s.followUps {
		if !f.Completed && !f.NextTouchAt.After(now) {
			cp := *f
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].NextTouchAt.Before(out[j].NextTouchAt) })
	return out, nil
}

func (s *Store) Advance(ctx context.Context, id uuid.UUID, fromTouch int, nextTouchAt, touchedAt time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.followUps[id]
	if !ok || f.Completed || f.TouchNumber != fromTouch {
		return false, nil
	}
	f.TouchNumber++
	f.NextTouchAt = nextTouchAt
	t := touchedAt
	f.LastTouchAt = &t
	return true, nil
}

func (s *Store) Complete(ctx context.Context, id uuid.UUID, fromTouch int, reason string, touchedAt time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.followUps[id]
	if !ok || f.Completed || f.TouchNumber != fromTouch {
		return false, nil
	}
	f.Completed = true
	f.StopReason = reason
	t := touchedAt
	f.LastTouchAt = &t
	return true, nil
}

func (s *Store) Schedule(ctx context.Context, contactID uuid.UUID, at time.Time, timezone, notes string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, &store.ScheduledCall{
		ID:          uuid.Must(uuid.NewV7()),
		ContactID:   contactID,
		ScheduledAt: at,
		Timezone:    timezone,
		Notes:       notes,
		Status:      "scheduled",
		CreatedAt:   time.Now(),
	})
	return nil
}

// Calls returns scheduled calls for assertions.
func (s *Store) Calls() []*store.ScheduledCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*store.ScheduledCall, len(s.calls))
	copy(out, s.calls)
	return out
}

// FollowUpByID returns a sequence snapshot for assertions.
func (s *Store) FollowUpByID(id uuid.UUID) (*store.FollowUp, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.followUps[id]
	if !ok {
		return nil, false
	}
	cp := *f
	return &cp, true
}

func (s *Store) Stats(ctx context.Context) (*store.Stats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := &store.Stats{Contacts: len(s.contacts), Messages: len(s.messages)}
	for _, c := range s.contacts {
		switch {
		case c.IsClient == nil:
			st.Unclassified++
		case *c.IsClient:
			st.Clients++
		default:
			st.NonClients++
		}
	}
	for _, f := range s.followUps {
		if f.Completed {
			st.FinishedFollowUps++
		} else {
			st.ActiveFollowUps++
		}
	}
	return st, nil
}
