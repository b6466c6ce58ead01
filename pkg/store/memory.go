package store

import (
	"context"
	"slices"
	"sync"
	"time"

	sserr "github.com/StricklySoft/stricklysoft-gateway/pkg/errors"
	"github.com/StricklySoft/stricklysoft-gateway/pkg/models"
)

// Memory is an in-process [CredentialStore]. Records are deep-copied on the
// way in and out so callers cannot mutate stored state. It is safe for
// concurrent use.
type Memory struct {
	mu          sync.RWMutex
	clients     map[int64]*models.Client
	keys        map[string]int64
	tokens      map[string]*models.Token
	functions   map[string]*models.FunctionDefinition
	roles       map[int64]models.Role
	permissions map[int64][]models.Permission
	nextID      int64
	err         error
}

var _ CredentialStore = (*Memory)(nil)

// NewMemory returns an empty store.
func NewMemory() *Memory {
	return &Memory{
		clients:     make(map[int64]*models.Client),
		keys:        make(map[string]int64),
		tokens:      make(map[string]*models.Token),
		functions:   make(map[string]*models.FunctionDefinition),
		roles:       make(map[int64]models.Role),
		permissions: make(map[int64][]models.Permission),
		nextID:      1000,
	}
}

// PutClient inserts or replaces a client.
func (m *Memory) PutClient(c *models.Client) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if old, ok := m.clients[c.ID]; ok {
		delete(m.keys, old.APIKey)
	}
	cp := copyClient(c)
	m.clients[c.ID] = cp
	m.keys[c.APIKey] = c.ID
}

// PutToken inserts or replaces an opaque token.
func (m *Memory) PutToken(t *models.Token) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *t
	m.tokens[t.Value] = &cp
}

// PutFunction inserts or replaces a function definition.
func (m *Memory) PutFunction(fn *models.FunctionDefinition) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.functions[fn.Identifier] = copyFunction(fn)
}

// PutRole inserts or replaces a role and its permissions.
func (m *Memory) PutRole(r models.Role, perms ...models.Permission) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.roles[r.ID] = r
	m.permissions[r.ID] = slices.Clone(perms)
}

// SetErr makes every subsequent call fail with err until it is cleared
// with nil.
func (m *Memory) SetErr(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

func (m *Memory) FindClientByKey(_ context.Context, apiKey string) (*models.Client, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.err != nil {
		return nil, m.err
	}
	id, ok := m.keys[apiKey]
	if !ok {
		return nil, clientNotFound()
	}
	return copyClient(m.clients[id]), nil
}

func (m *Memory) FindClientByID(_ context.Context, id int64) (*models.Client, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.err != nil {
		return nil, m.err
	}
	c, ok := m.clients[id]
	if !ok {
		return nil, clientNotFound()
	}
	return copyClient(c), nil
}

func (m *Memory) FindToken(_ context.Context, value string) (*models.Token, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.err != nil {
		return nil, m.err
	}
	t, ok := m.tokens[value]
	if !ok {
		return nil, tokenNotFound()
	}
	cp := *t
	return &cp, nil
}

func (m *Memory) TouchToken(_ context.Context, value string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	t, ok := m.tokens[value]
	if !ok {
		return tokenNotFound()
	}
	t.LastUsedAt = &at
	return nil
}

func (m *Memory) FindOrCreateDelegated(_ context.Context, d DelegatedClient) (*models.Client, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, false, m.err
	}
	if id, ok := m.keys[d.APIKey]; ok {
		return copyClient(m.clients[id]), false, nil
	}

	m.nextID++
	c := &models.Client{
		ID:         m.nextID,
		Name:       d.Name,
		Kind:       models.ClientKindOAuth,
		APIKey:     d.APIKey,
		Active:     true,
		RateLimit:  d.RateLimit,
		RateWindow: d.RateWindow,
		Provider:   d.Provider,
		ExternalID: d.ExternalID,
		CreatedAt:  time.Now().UTC(),
	}
	if d.DefaultRoleID != 0 {
		c.RoleIDs = []int64{d.DefaultRoleID}
	}
	m.clients[c.ID] = c
	m.keys[c.APIKey] = c.ID
	return copyClient(c), true, nil
}

func (m *Memory) FindActiveFunctionByIdentifier(_ context.Context, identifier string) (*models.FunctionDefinition, error) {
	return m.findFunction(identifier, true)
}

func (m *Memory) FindFunctionByIdentifier(_ context.Context, identifier string) (*models.FunctionDefinition, error) {
	return m.findFunction(identifier, false)
}

func (m *Memory) findFunction(identifier string, activeOnly bool) (*models.FunctionDefinition, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.err != nil {
		return nil, m.err
	}
	fn, ok := m.functions[identifier]
	if !ok || (activeOnly && !fn.Active) {
		return nil, sserr.FunctionNotFound(identifier)
	}
	return copyFunction(fn), nil
}

func (m *Memory) FindRolesForClient(_ context.Context, clientID int64) ([]models.Role, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.err != nil {
		return nil, m.err
	}
	c, ok := m.clients[clientID]
	if !ok {
		return []models.Role{}, nil
	}
	roles := make([]models.Role, 0, len(c.RoleIDs))
	for _, id := range c.RoleIDs {
		if r, ok := m.roles[id]; ok {
			roles = append(roles, r)
		}
	}
	return roles, nil
}

func (m *Memory) FindPermissionsForRole(_ context.Context, roleID int64) ([]models.Permission, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.err != nil {
		return nil, m.err
	}
	perms := slices.Clone(m.permissions[roleID])
	if perms == nil {
		perms = []models.Permission{}
	}
	return perms, nil
}

func (m *Memory) Health(context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.err != nil {
		return sserr.Wrap(m.err, sserr.CodeUnavailableDependency, "store: unavailable")
	}
	return nil
}

func copyClient(c *models.Client) *models.Client {
	cp := *c
	cp.RoleIDs = slices.Clone(c.RoleIDs)
	return &cp
}

func copyFunction(fn *models.FunctionDefinition) *models.FunctionDefinition {
	cp := *fn
	cp.Parameters = slices.Clone(fn.Parameters)
	cp.Responses = slices.Clone(fn.Responses)
	cp.Errors = slices.Clone(fn.Errors)
	return &cp
}
