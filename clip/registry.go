// MODUL: registry
// ZWECK: Registry fuer Dual-Encoder-Architekturen
// INPUT: Architektur-Name, Factory, Options
// OUTPUT: *Model
// NEBENEFFEKTE: DefaultRegistry wird in init() befuellt
// ABHAENGIGKEITEN: sync, sort
// HINWEISE: Thread-sicher durch RWMutex

package clip

import (
	"sort"
	"sync"
)

// Factory erstellt ein Modell mit den angegebenen Optionen.
type Factory func(opts ...Option) (*Model, error)

// RegistryError beschreibt einen Fehler bei einer Registry-Operation.
type RegistryError struct {
	Op   string
	Name string
	Err  error
}

// Error implementiert das error Interface.
func (e *RegistryError) Error() string {
	return "clip: " + e.Op + " arch '" + e.Name + "': " + e.Err.Error()
}

// Unwrap gibt den urspruenglichen Fehler zurueck.
func (e *RegistryError) Unwrap() error {
	return e.Err
}

// ============================================================================
// Registry
// ============================================================================

// Registry verwaltet Factories nach Namen.
type Registry struct {
	factories map[string]Factory
	mu        sync.RWMutex
}

// NewRegistry erstellt eine leere Registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register registriert eine Factory. Existierende Eintraege werden ersetzt.
func (r *Registry) Register(name string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = f
}

// RegisterArch registriert eine feste Architektur.
func (r *Registry) RegisterArch(arch Arch) {
	r.Register(arch.Name, func(opts ...Option) (*Model, error) {
		return New(arch, opts...)
	})
}

// Has prueft ob name registriert ist.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.factories[name]
	return ok
}

// List gibt alle Namen sortiert zurueck.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Create erstellt ein Modell ueber die registrierte Factory.
func (r *Registry) Create(name string, opts ...Option) (*Model, error) {
	r.mu.RLock()
	f, ok := r.factories[name]
	r.mu.RUnlock()

	if !ok {
		return nil, &RegistryError{Op: "create", Name: name, Err: ErrUnknownArch}
	}
	m, err := f(opts...)
	if err != nil {
		return nil, &RegistryError{Op: "create", Name: name, Err: err}
	}
	return m, nil
}

// ============================================================================
// Vordefinierte Architekturen
// ============================================================================

var (
	ArchTiny  = Arch{Name: "clip-tiny", Width: 32, EmbedDim: 32, VisionLayers: 2, TextLayers: 2}
	ArchSmall = Arch{Name: "clip-small", Width: 64, EmbedDim: 64, VisionLayers: 4, TextLayers: 4}
)

// DefaultRegistry enthaelt clip-tiny und clip-small.
var DefaultRegistry = NewRegistry()

func init() {
	DefaultRegistry.RegisterArch(ArchTiny)
	DefaultRegistry.RegisterArch(ArchSmall)
}
