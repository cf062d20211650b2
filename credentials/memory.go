package credentials

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/BaSui01/nodeflow/nodes"
	"github.com/google/uuid"
)

type sealedCredential struct {
	info Info
	data string
}

// MemoryStore keeps ciphertext in memory.
type MemoryStore struct {
	cipher *Cipher
	mu     sync.RWMutex
	items  map[string]sealedCredential
}

// NewMemoryStore creates an empty store.
func NewMemoryStore(c *Cipher) *MemoryStore {
	return &MemoryStore{cipher: c, items: make(map[string]sealedCredential)}
}

// Create encrypts and stores a credential.
func (s *MemoryStore) Create(_ context.Context, name, typ, secret string) (string, error) {
	if err := validate(name, typ, secret); err != nil {
		return "", err
	}
	data, err := s.cipher.Encrypt(secret)
	if err != nil {
		return "", err
	}
	id := uuid.NewString()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[id] = sealedCredential{
		info: Info{ID: id, Name: name, Type: normalizeType(typ), CreatedAt: time.Now().UTC()},
		data: data,
	}
	return id, nil
}

// Get decrypts a credential.
func (s *MemoryStore) Get(_ context.Context, id string) (*nodes.Credential, error) {
	s.mu.RLock()
	item, ok := s.items[id]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	secret, err := s.cipher.Decrypt(item.data)
	if err != nil {
		return nil, err
	}
	return &nodes.Credential{ID: item.info.ID, Name: item.info.Name, Type: item.info.Type, Secret: secret}, nil
}

// List returns metadata sorted by name.
func (s *MemoryStore) List(context.Context) ([]Info, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Info, 0, len(s.items))
	for _, item := range s.items {
		out = append(out, item.info)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name == out[j].Name {
			return out[i].ID < out[j].ID
		}
		return out[i].Name < out[j].Name
	})
	return out, nil
}

// Delete removes a credential.
func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.items[id]; !ok {
		return ErrNotFound
	}
	delete(s.items, id)
	return nil
}

// Resolve implements workflow.CredentialResolver.
func (s *MemoryStore) Resolve(ctx context.Context, ref string) (*nodes.Credential, error) {
	return s.Get(ctx, ref)
}
