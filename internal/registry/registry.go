// Package registry holds the gate catalog. A Registry is loaded fully into
// memory; every mutation rewrites the durable catalog and then reloads it,
// so a handle never serves definitions the file does not contain.
package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/alfredjeanlab/kgate/internal/events"
	"github.com/alfredjeanlab/kgate/internal/model"
)

var (
	// ErrDuplicateKey is returned when defining a key that already exists.
	ErrDuplicateKey = errors.New("gate key already defined")
	// ErrNotFound is returned when a key is not in the catalog.
	ErrNotFound = errors.New("gate not found")
)

// CatalogStore is the slice of store.Store the registry needs.
type CatalogStore interface {
	LoadCatalog(ctx context.Context) (*model.Catalog, error)
	UpdateCatalog(ctx context.Context, fn func(*model.Catalog) error) error
}

// Recorder appends audit events.
type Recorder interface {
	Record(ctx context.Context, topic, issueID, actor string, payload any) (*model.Event, error)
}

// Registry is a loaded gate catalog.
type Registry struct {
	store  CatalogStore
	rec    Recorder
	logger *slog.Logger

	mu    sync.RWMutex
	gates map[string]*model.GateDefinition
}

// Load reads the catalog from s. rec and logger may be nil.
func Load(ctx context.Context, s CatalogStore, rec Recorder, logger *slog.Logger) (*Registry, error) {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Registry{store: s, rec: rec, logger: logger}
	if err := r.Reload(ctx); err != nil {
		return nil, err
	}
	return r, nil
}

// Reload replaces the in-memory catalog with the durable one.
func (r *Registry) Reload(ctx context.Context) error {
	cat, err := r.store.LoadCatalog(ctx)
	if err != nil {
		return fmt.Errorf("loading gate catalog: %w", err)
	}
	r.mu.Lock()
	r.gates = cat.Gates
	r.mu.Unlock()
	return nil
}

// normalize fills defaults and drops fields that have no meaning for the
// gate's mode.
func normalize(def *model.GateDefinition) {
	def.Key = strings.TrimSpace(def.Key)
	if def.Version == 0 {
		def.Version = model.GateVersion
	}
	if strings.TrimSpace(def.Title) == "" {
		def.Title = def.Key
	}
	if def.Mode == model.ModeManual {
		def.Checker = nil
	}
}

// Define adds a new gate. It fails with ErrDuplicateKey if key exists in
// the durable catalog, even when this handle has not seen it yet.
func (r *Registry) Define(ctx context.Context, def model.GateDefinition, actor string) (*model.GateDefinition, error) {
	normalize(&def)
	if err := model.ValidateGate(&def); err != nil {
		return nil, err
	}
	err := r.store.UpdateCatalog(ctx, func(cat *model.Catalog) error {
		if _, ok := cat.Gates[def.Key]; ok {
			return fmt.Errorf("%s: %w", def.Key, ErrDuplicateKey)
		}
		cat.Gates[def.Key] = &def
		return nil
	})
	if err != nil {
		return nil, err
	}
	if err := r.Reload(ctx); err != nil {
		return nil, err
	}
	out, err := r.Lookup(def.Key)
	if err != nil {
		return nil, err
	}
	r.record(ctx, events.TopicGateDefined, actor, events.GateDefined{Gate: out})
	return out, nil
}

// Remove deletes a gate from the catalog.
func (r *Registry) Remove(ctx context.Context, key, actor string) error {
	err := r.store.UpdateCatalog(ctx, func(cat *model.Catalog) error {
		if _, ok := cat.Gates[key]; !ok {
			return fmt.Errorf("%s: %w", key, ErrNotFound)
		}
		delete(cat.Gates, key)
		return nil
	})
	if err != nil {
		return err
	}
	if err := r.Reload(ctx); err != nil {
		return err
	}
	r.record(ctx, events.TopicGateRemoved, actor, events.GateRemoved{GateKey: key})
	return nil
}

// record appends an audit event for a catalog change that is already
// durable. A failed append is logged; the change stands.
func (r *Registry) record(ctx context.Context, topic, actor string, payload any) {
	if r.rec == nil {
		return
	}
	if _, err := r.rec.Record(ctx, topic, "", actor, payload); err != nil {
		r.logger.Error("recording gate catalog event failed", "topic", topic, "err", err)
	}
}

// Lookup returns a copy of the definition for key.
func (r *Registry) Lookup(key string) (*model.GateDefinition, error) {
	r.mu.RLock()
	def, ok := r.gates[key]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%s: %w", key, ErrNotFound)
	}
	return clone(def), nil
}

// Has reports whether key is defined.
func (r *Registry) Has(key string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.gates[key]
	return ok
}

// List returns copies of every definition ordered by key.
func (r *Registry) List() []*model.GateDefinition {
	r.mu.RLock()
	out := make([]*model.GateDefinition, 0, len(r.gates))
	for _, def := range r.gates {
		out = append(out, clone(def))
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

func clone(def *model.GateDefinition) *model.GateDefinition {
	data, err := json.Marshal(def)
	if err != nil {
		panic(fmt.Sprintf("registry: encoding gate %s: %v", def.Key, err))
	}
	var out model.GateDefinition
	if err := json.Unmarshal(data, &out); err != nil {
		panic(fmt.Sprintf("registry: decoding gate %s: %v", def.Key, err))
	}
	return &out
}
