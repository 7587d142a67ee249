package auth

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

// MemoryStore is an in-memory Store used in tests and local runs without
// Postgres. Safe for concurrent use.
type MemoryStore struct {
	mu       sync.RWMutex
	users    map[string]*User
	byHandle map[string]string
	grants   map[string]map[int64]JunctionGrant
	sessions map[string]*Session
}

// NewMemoryStore constructs an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:    make(map[string]*User),
		byHandle: make(map[string]string),
		grants:   make(map[string]map[int64]JunctionGrant),
		sessions: make(map[string]*Session),
	}
}

func (m *MemoryStore) Users() UserStore       { return (*memoryUsers)(m) }
func (m *MemoryStore) Grants() GrantStore     { return (*memoryGrants)(m) }
func (m *MemoryStore) Sessions() SessionStore { return (*memorySessions)(m) }

func cloneUser(u *User) *User {
	cp := *u
	if u.LastLoginAt != nil {
		t := *u.LastLoginAt
		cp.LastLoginAt = &t
	}
	return &cp
}

type memoryUsers MemoryStore

func (m *memoryUsers) Create(ctx context.Context, u *User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := strings.ToLower(u.Handle)
	if _, ok := m.byHandle[key]; ok {
		return ErrDuplicateHandle
	}
	m.users[u.ID] = cloneUser(u)
	m.byHandle[key] = u.ID
	return nil
}

func (m *memoryUsers) Find(ctx context.Context, id string) (*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneUser(u), nil
}

func (m *memoryUsers) FindByHandle(ctx context.Context, handle string) (*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.byHandle[strings.ToLower(handle)]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneUser(m.users[id]), nil
}

func (m *memoryUsers) Update(ctx context.Context, u *User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.users[u.ID]
	if !ok {
		return ErrNotFound
	}
	delete(m.byHandle, strings.ToLower(cur.Handle))
	m.users[u.ID] = cloneUser(u)
	m.byHandle[strings.ToLower(u.Handle)] = u.ID
	return nil
}

func (m *memoryUsers) UpdatePassword(ctx context.Context, id, digest string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return ErrNotFound
	}
	u.PasswordDigest = digest
	u.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *memoryUsers) SetLastLogin(ctx context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return ErrNotFound
	}
	u.LastLoginAt = &at
	return nil
}

func (m *memoryUsers) List(ctx context.Context, limit, offset int) ([]*User, int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	all := make([]*User, 0, len(m.users))
	for _, u := range m.users {
		all = append(all, u)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ID < all[j].ID })
	total := len(all)
	if offset >= total {
		return []*User{}, total, nil
	}
	end := offset + limit
	if limit <= 0 || end > total {
		end = total
	}
	page := make([]*User, 0, end-offset)
	for _, u := range all[offset:end] {
		page = append(page, cloneUser(u))
	}
	return page, total, nil
}

type memoryGrants MemoryStore

func (m *memoryGrants) Upsert(ctx context.Context, g *JunctionGrant) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[g.UserID]; !ok {
		return ErrNotFound
	}
	byJunction, ok := m.grants[g.UserID]
	if !ok {
		byJunction = make(map[int64]JunctionGrant)
		m.grants[g.UserID] = byJunction
	}
	byJunction[g.JunctionID] = *g
	return nil
}

func (m *memoryGrants) Delete(ctx context.Context, userID string, junctionID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if byJunction, ok := m.grants[userID]; ok {
		delete(byJunction, junctionID)
	}
	return nil
}

func (m *memoryGrants) ListByUser(ctx context.Context, userID string) ([]JunctionGrant, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	byJunction := m.grants[userID]
	out := make([]JunctionGrant, 0, len(byJunction))
	for _, g := range byJunction {
		out = append(out, g)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].JunctionID < out[j].JunctionID })
	return out, nil
}

type memorySessions MemoryStore

func (m *memorySessions) Create(ctx context.Context, s *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *s
	m.sessions[s.ID] = &cp
	return nil
}

func (m *memorySessions) Consume(ctx context.Context, refreshDigest string, now time.Time) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.sessions {
		if s.RefreshDigest != refreshDigest {
			continue
		}
		if !s.Active || !now.Before(s.ExpiresAt) {
			return nil, ErrSessionRevoked
		}
		s.Active = false
		t := now
		s.LastUsedAt = &t
		cp := *s
		return &cp, nil
	}
	return nil, ErrSessionRevoked
}

func (m *memorySessions) Revoke(ctx context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[sessionID]; ok {
		s.Active = false
	}
	return nil
}

func (m *memorySessions) RevokeAllForUser(ctx context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.sessions {
		if s.UserID == userID {
			s.Active = false
		}
	}
	return nil
}
