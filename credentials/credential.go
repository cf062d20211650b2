package credentials

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/BaSui01/nodeflow/nodes"
)

// Common errors
var (
	ErrNotFound     = errors.New("credential not found")
	ErrInvalidInput = errors.New("invalid credential")
)

// Info is the non-secret view of a stored credential.
type Info struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Type      string    `json:"type"`
	CreatedAt time.Time `json:"created_at"`
}

// Store persists encrypted credentials. Every Store is also a
// workflow.CredentialResolver.
type Store interface {
	Create(ctx context.Context, name, typ, secret string) (string, error)
	Get(ctx context.Context, id string) (*nodes.Credential, error)
	List(ctx context.Context) ([]Info, error)
	Delete(ctx context.Context, id string) error
	Resolve(ctx context.Context, ref string) (*nodes.Credential, error)
}

func validate(name, typ, secret string) error {
	if strings.TrimSpace(name) == "" || secret == "" {
		return ErrInvalidInput
	}
	return nil
}

func normalizeType(typ string) string {
	typ = strings.TrimSpace(strings.ToLower(typ))
	if typ == "" {
		return "api_key"
	}
	return typ
}
