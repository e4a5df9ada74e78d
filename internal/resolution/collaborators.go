package resolution

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// DocumentPopulator turns a template reference plus a resolved variable map
// into a binary document. The engine does not know the document's internal
// format; it hands the bytes straight to storage.
type DocumentPopulator interface {
	Populate(ctx context.Context, templateRef string, vars map[string]string) ([]byte, error)
}

// DocumentStorage persists a populated document and returns a retrievable
// reference. The engine stores only the reference, never the bytes.
type DocumentStorage interface {
	Put(ctx context.Context, tenant, tradeID string, doc []byte) (ref string, err error)
}

// Event is a short user-facing notification about a match or resolution
// outcome. Every event also has a matching audit-log entry; neither side is
// ever emitted without the other.
type Event struct {
	Type    string `json:"type"` // "match_created", "resolution_attached", "resolution_failed"
	Tenant  string `json:"tenant"`
	TradeID string `json:"trade_id,omitempty"`
	Code    string `json:"code,omitempty"`
	Detail  string `json:"detail,omitempty"`
}

// Notifier delivers events to operators. Delivery is best effort and must
// never block resolution.
type Notifier interface {
	Notify(ev Event)
}

// NopNotifier drops all events. Used when no delivery channel is wired.
type NopNotifier struct{}

func (NopNotifier) Notify(Event) {}

// DirStorage implements DocumentStorage on a local directory, one file per
// trade. The development default; production wires object storage instead.
type DirStorage struct {
	root string
}

// NewDirStorage creates a directory-backed storage adapter.
func NewDirStorage(root string) *DirStorage {
	return &DirStorage{root: root}
}

// Put writes the document under root/tenant/ and returns its path.
// Re-resolution overwrites the previous file, matching the engine's
// last-writer-wins outcome semantics.
func (s *DirStorage) Put(_ context.Context, tenant, tradeID string, doc []byte) (string, error) {
	dir := filepath.Join(s.root, tenant)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("storage: %w", err)
	}
	path := filepath.Join(dir, tradeID+".pdf")
	if err := os.WriteFile(path, doc, 0o644); err != nil {
		return "", fmt.Errorf("storage: %w", err)
	}
	return path, nil
}
