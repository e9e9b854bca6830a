package auth

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// memStore is an in-memory Store for service and resolver tests.
type memStore struct {
	mu        sync.Mutex
	users     map[string]*User
	roles     map[string]string   // role id -> name
	userRoles map[string][]string // user id -> role ids
	rules     []AccessRule
	calls     map[string]int
	failWith  error
}

func newMemStore() *memStore {
	return &memStore{
		users:     make(map[string]*User),
		roles:     make(map[string]string),
		userRoles: make(map[string][]string),
		calls:     make(map[string]int),
	}
}

func (s *memStore) Users() UserStore { return s }
func (s *memStore) Rules() RuleStore { return s }

func (s *memStore) addUser(u *User, roleIDs ...string) *User {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	s.users[u.ID] = u
	s.userRoles[u.ID] = append(s.userRoles[u.ID], roleIDs...)
	return u
}

func (s *memStore) addRole(name string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := uuid.NewString()
	s.roles[id] = name
	return id
}

func (s *memStore) hit(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls[name]++
	return s.failWith
}

func (s *memStore) FindByLogin(_ context.Context, login string) (*User, error) {
	if err := s.hit("FindByLogin"); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if u.Username == login || u.Email == login {
			cp := *u
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (s *memStore) Find(_ context.Context, id string) (*User, error) {
	if err := s.hit("Find"); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (s *memStore) RoleIDs(_ context.Context, userID string) ([]string, error) {
	if err := s.hit("RoleIDs"); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.userRoles[userID]...), nil
}

func (s *memStore) RoleNames(_ context.Context, userID string) ([]string, error) {
	if err := s.hit("RoleNames"); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.userRoles[userID]))
	for _, id := range s.userRoles[userID] {
		names = append(names, s.roles[id])
	}
	return names, nil
}

func (s *memStore) RulesFor(_ context.Context, roleIDs []string, element BusinessElement) ([]AccessRule, error) {
	if err := s.hit("RulesFor"); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	want := make(map[string]bool, len(roleIDs))
	for _, id := range roleIDs {
		want[id] = true
	}
	var out []AccessRule
	for _, r := range s.rules {
		if r.Element == element && want[r.RoleID] {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *memStore) Create(_ context.Context, u *User) error {
	if err := s.hit("Create"); err != nil {
		return err
	}
	s.addUser(u)
	return nil
}

func (s *memStore) GrantRoleByName(_ context.Context, userID, roleName string) (UserRole, error) {
	if err := s.hit("GrantRoleByName"); err != nil {
		return UserRole{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, name := range s.roles {
		if name == roleName {
			s.userRoles[userID] = append(s.userRoles[userID], id)
			return UserRole{ID: uuid.NewString(), UserID: userID, RoleID: id}, nil
		}
	}
	return UserRole{}, ErrNotFound
}

func (s *memStore) count(name string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[name]
}

func (s *memStore) Update(_ context.Context, id string, p UserPatch) (*User, error) {
	if err := s.hit("Update"); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	if p.Username != nil {
		u.Username = *p.Username
	}
	if p.PasswordHash != nil {
		u.PasswordHash = *p.PasswordHash
	}
	cp := *u
	return &cp, nil
}

func (s *memStore) Deactivate(_ context.Context, id string) error {
	if err := s.hit("Deactivate"); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return ErrNotFound
	}
	u.IsActive = false
	return nil
}
