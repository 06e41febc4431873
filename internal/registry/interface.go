package registry

import (
	"context"
	"encoding/json"

	"github.com/mattjoyce/auditstream/internal/audit"
)

//go:generate mockgen -destination=mocks/mock_store.go -package=mocks github.com/mattjoyce/auditstream/internal/registry ConfigStore

// ConfigStore is the read side of the scope configuration store.
type ConfigStore interface {
	GetConfig(ctx context.Context, scope audit.Scope, key string) (json.RawMessage, bool, error)
}

// ConfigWriter adds the mutations needed by the Editor.
type ConfigWriter interface {
	ConfigStore
	SetConfig(ctx context.Context, scope audit.Scope, key string, value json.RawMessage) error
	DeleteConfig(ctx context.Context, scope audit.Scope, key string) error
}
