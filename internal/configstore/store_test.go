package configstore

import (
	"context"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"

	"github.com/mattjoyce/auditstream/internal/audit"
	"github.com/mattjoyce/auditstream/internal/storage"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	db, err := storage.OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "config.db"))
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return New(db)
}

func TestGetConfigMissing(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	raw, found, err := s.GetConfig(context.Background(), audit.Installation(), audit.DestinationsKey)
	if err != nil {
		t.Fatalf("GetConfig: %v", err)
	}
	if found || raw != nil {
		t.Fatalf("expected missing value, got found=%v raw=%s", found, raw)
	}
}

func TestSetConfigUpsertsPerScope(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := newTestStore(t)

	if err := s.SetConfig(ctx, audit.Installation(), "k", json.RawMessage(`[1]`)); err != nil {
		t.Fatalf("SetConfig install: %v", err)
	}
	if err := s.SetConfig(ctx, audit.Site("s1"), "k", json.RawMessage(`[2]`)); err != nil {
		t.Fatalf("SetConfig site: %v", err)
	}
	if err := s.SetConfig(ctx, audit.Installation(), "k", json.RawMessage(`[3]`)); err != nil {
		t.Fatalf("SetConfig overwrite: %v", err)
	}

	raw, found, err := s.GetConfig(ctx, audit.Installation(), "k")
	if err != nil || !found {
		t.Fatalf("GetConfig install: found=%v err=%v", found, err)
	}
	if string(raw) != `[3]` {
		t.Fatalf("expected overwritten value, got %s", raw)
	}

	raw, found, err = s.GetConfig(ctx, audit.Site("s1"), "k")
	if err != nil || !found {
		t.Fatalf("GetConfig site: found=%v err=%v", found, err)
	}
	if string(raw) != `[2]` {
		t.Fatalf("expected site value, got %s", raw)
	}

	scopes, err := s.ListScopes(ctx, "k")
	if err != nil {
		t.Fatalf("ListScopes: %v", err)
	}
	if len(scopes) != 2 || scopes[0] != audit.Installation() || scopes[1] != audit.Site("s1") {
		t.Fatalf("unexpected scopes: %v", scopes)
	}
}

func TestSetConfigRejectsInvalidJSON(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	if err := s.SetConfig(context.Background(), audit.Installation(), "k", json.RawMessage(`{nope`)); err == nil {
		t.Fatal("expected invalid JSON error")
	}
}

func TestSetConfigSizeLimit(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	big := `"` + strings.Repeat("a", DefaultMaxValueBytes) + `"`
	if err := s.SetConfig(context.Background(), audit.Installation(), "k", json.RawMessage(big)); err == nil {
		t.Fatal("expected size limit error")
	}
}

func TestDeleteConfig(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := newTestStore(t)
	if err := s.SetConfig(ctx, audit.Site("s1"), "k", json.RawMessage(`[]`)); err != nil {
		t.Fatalf("SetConfig: %v", err)
	}
	if err := s.DeleteConfig(ctx, audit.Site("s1"), "k"); err != nil {
		t.Fatalf("DeleteConfig: %v", err)
	}
	if err := s.DeleteConfig(ctx, audit.Site("s1"), "k"); err != nil {
		t.Fatalf("DeleteConfig missing: %v", err)
	}
	_, found, err := s.GetConfig(ctx, audit.Site("s1"), "k")
	if err != nil || found {
		t.Fatalf("expected deleted value, found=%v err=%v", found, err)
	}
}
