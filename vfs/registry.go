package vfs

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/maruel/natural"
)

// SourceConfig describes one source to mount.
type SourceConfig struct {
	ID       string         `json:"id" mapstructure:"id"`
	Name     string         `json:"name" mapstructure:"name"`
	Category SourceCategory `json:"category" mapstructure:"category"`
	Type     string         `json:"type" mapstructure:"type"` // "local", "s3", "memory"
	Root     string         `json:"root,omitempty" mapstructure:"root"`
	S3       S3Config       `json:"-" mapstructure:"s3"`
}

type mounted struct {
	source StorageSource
	driver Driver
}

// Registry holds the set of mounted storage sources. Everything else in the
// engine resolves sources and drivers through it.
type Registry struct {
	mu      sync.RWMutex
	sources map[string]*mounted
}

// NewRegistry creates an empty registry with the reserved native source
// pre-mounted: OS-clipboard paths are treated as a local source rooted at /.
func NewRegistry() *Registry {
	r := &Registry{sources: make(map[string]*mounted)}
	r.sources[NativeSourceID] = &mounted{
		source: StorageSource{
			ID:           NativeSourceID,
			Name:         "OS clipboard",
			Category:     CategoryLocal,
			Capabilities: CapabilitySet(CapAtomicRename),
			Status:       StatusConnected,
		},
		driver: NewLocalDriver("/"),
	}
	return r
}

// Mount creates a source from config and connects its driver.
func (r *Registry) Mount(ctx context.Context, cfg SourceConfig) (*StorageSource, error) {
	l := sub("registry")
	if cfg.ID == "" || cfg.ID == NativeSourceID {
		return nil, fmt.Errorf("invalid source id %q", cfg.ID)
	}

	r.mu.Lock()
	if _, exists := r.sources[cfg.ID]; exists {
		r.mu.Unlock()
		return nil, fmt.Errorf("%w: source %s already mounted", ErrAlreadyExists, cfg.ID)
	}
	r.mu.Unlock()

	var driver Driver
	var err error
	switch cfg.Type {
	case "local":
		driver = NewLocalDriver(cfg.Root)
	case "s3":
		driver, err = NewS3Driver(ctx, cfg.S3)
	case "memory":
		driver = NewMemDriver(CapabilitySet(CapAtomicRename | CapTiering | CapTranscode))
	default:
		err = fmt.Errorf("unknown source type %q", cfg.Type)
	}
	if err != nil {
		l.Error("mount failed", "id", cfg.ID, "type", cfg.Type, "err", err)
		return nil, fmt.Errorf("mount %s: %w", cfg.ID, err)
	}

	src := StorageSource{
		ID:           cfg.ID,
		Name:         cfg.Name,
		Category:     cfg.Category,
		Capabilities: driver.Capabilities(),
		Status:       StatusConnected,
	}
	if src.Name == "" {
		src.Name = cfg.ID
	}

	// Re-check under the same lock as the insert: a concurrent Mount of the
	// same id may have won while the driver was connecting.
	r.mu.Lock()
	if _, exists := r.sources[cfg.ID]; exists {
		r.mu.Unlock()
		return nil, fmt.Errorf("%w: source %s already mounted", ErrAlreadyExists, cfg.ID)
	}
	r.sources[cfg.ID] = &mounted{source: src, driver: driver}
	r.mu.Unlock()

	l.Info("source mounted", "id", src.ID, "name", src.Name, "category", src.Category, "type", cfg.Type)
	return &src, nil
}

// MountDriver registers a pre-built driver as a source. Used by tests and
// embedders that construct drivers themselves.
func (r *Registry) MountDriver(id, name string, category SourceCategory, driver Driver) *StorageSource {
	src := StorageSource{
		ID:           id,
		Name:         name,
		Category:     category,
		Capabilities: driver.Capabilities(),
		Status:       StatusConnected,
	}
	r.mu.Lock()
	r.sources[id] = &mounted{source: src, driver: driver}
	r.mu.Unlock()
	return &src
}

// Unmount removes a source. History records referencing it survive, but
// further operations against it fail with ErrSourceNotFound.
func (r *Registry) Unmount(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sources[id]; !ok {
		return fmt.Errorf("%w: %s", ErrSourceNotFound, id)
	}
	delete(r.sources, id)
	sub("registry").Info("source unmounted", "id", id)
	return nil
}

// Resolve looks up a source by id.
func (r *Registry) Resolve(id string) (*StorageSource, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.sources[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSourceNotFound, id)
	}
	src := m.source
	return &src, nil
}

// Driver returns the backend driver for a source.
func (r *Registry) Driver(id string) (Driver, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.sources[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSourceNotFound, id)
	}
	return m.driver, nil
}

// SameSource reports whether two source ids name the same source.
func (r *Registry) SameSource(a, b string) bool {
	return a == b
}

// IsMove reports whether an operation between two sources is a true move
// (no data re-transfer). Moves between different sources are never atomic:
// bytes cannot move natively across backend boundaries, so cross-source
// "moves" are modeled as copy-then-delete-source.
func (r *Registry) IsMove(fromSourceID, toSourceID string) bool {
	return r.SameSource(fromSourceID, toSourceID)
}

// CapabilitiesOf returns the capability set of a source.
func (r *Registry) CapabilitiesOf(id string) (CapabilitySet, error) {
	src, err := r.Resolve(id)
	if err != nil {
		return 0, err
	}
	return src.Capabilities, nil
}

// List returns all mounted sources (the native pseudo-source excluded),
// naturally sorted by name.
func (r *Registry) List() []StorageSource {
	r.mu.RLock()
	out := make([]StorageSource, 0, len(r.sources))
	for id, m := range r.sources {
		if id == NativeSourceID {
			continue
		}
		out = append(out, m.source)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		return natural.Less(out[i].Name, out[j].Name)
	})
	return out
}

// SetStatus updates the connection status of a source.
func (r *Registry) SetStatus(id string, status SourceStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.sources[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrSourceNotFound, id)
	}
	m.source.Status = status
	return nil
}
