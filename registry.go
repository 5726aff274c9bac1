package warehouse

import (
	"sync"

	"github.com/forgelake/warehouse/ecsalloc"
)

// ComponentKind distinguishes the three disjoint id spaces of spec §3.
type ComponentKind uint8

const (
	ComponentUnique ComponentKind = iota
	ComponentShared
	ComponentGlobal
)

const sentinelSize = -1

// componentEntry is the registry's per-id record (spec §3).
type componentEntry struct {
	kind        ComponentKind
	size        int
	name        string
	allocator   ecsalloc.Allocator
	bufferDescs []BufferDescriptor
	shared      *sharedStream
	global      []byte
}

func (e componentEntry) registered() bool { return e.size != sentinelSize }

// ComponentRegistry is the component registry of spec §4.3: types, byte
// sizes, per-type allocators, buffer-offset tables, and shared-instance
// interning, grown sparsely indexed by id.
type ComponentRegistry struct {
	mu      sync.RWMutex
	entries map[ComponentID]*componentEntry
	named   map[string]namedBinding
}

type namedBinding struct {
	component ComponentID
	instance  SharedInstance
}

// NewComponentRegistry returns an empty registry.
func NewComponentRegistry() *ComponentRegistry {
	return &ComponentRegistry{
		entries: make(map[ComponentID]*componentEntry),
		named:   make(map[string]namedBinding),
	}
}

func (r *ComponentRegistry) entry(id ComponentID) (*componentEntry, bool) {
	e, ok := r.entries[id]
	if !ok || !e.registered() {
		return nil, false
	}
	return e, true
}

// register is the shared implementation behind RegisterUnique/RegisterShared/RegisterGlobal.
func (r *ComponentRegistry) register(kind ComponentKind, id ComponentID, size int, allocatorSize int, name string, bufferDescs []BufferDescriptor) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if e, ok := r.entries[id]; ok && e.registered() {
		return ComponentAlreadyRegisteredError{ID: id}
	}
	if len(bufferDescs) > 0 && allocatorSize <= 0 {
		return ComponentAllocatorMissingError{ID: id}
	}

	entry := &componentEntry{
		kind:        kind,
		size:        size,
		name:        name,
		bufferDescs: bufferDescs,
	}
	if allocatorSize > 0 {
		entry.allocator = ecsalloc.NewLinearAllocator(allocatorSize)
	}
	if kind == ComponentShared {
		entry.shared = newSharedStream()
	}
	if kind == ComponentGlobal {
		entry.global = make([]byte, size)
	}
	r.entries[id] = entry
	return nil
}

// RegisterUnique registers a per-entity component type.
func (r *ComponentRegistry) RegisterUnique(id ComponentID, size, allocatorSize int, name string, bufferDescs []BufferDescriptor) error {
	return r.register(ComponentUnique, id, size, allocatorSize, name, bufferDescs)
}

// RegisterShared registers an instance-interned component type.
func (r *ComponentRegistry) RegisterShared(id ComponentID, size, allocatorSize int, name string, bufferDescs []BufferDescriptor) error {
	return r.register(ComponentShared, id, size, allocatorSize, name, bufferDescs)
}

// RegisterGlobal registers a process-wide singleton component.
func (r *ComponentRegistry) RegisterGlobal(id ComponentID, size, allocatorSize int, name string, bufferDescs []BufferDescriptor) error {
	return r.register(ComponentGlobal, id, size, allocatorSize, name, bufferDescs)
}

// Unregister frees the per-component arena and marks the slot empty.
func (r *ComponentRegistry) Unregister(id ComponentID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	if !ok || !e.registered() {
		return ComponentNotRegisteredError{ID: id}
	}
	delete(r.entries, id)
	return nil
}

// ResizeComponentAllocator destroys the old arena and re-creates it at
// newSize. Callers must have already moved data out (spec §4.3).
func (r *ComponentRegistry) ResizeComponentAllocator(id ComponentID, newSize int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	if !ok || !e.registered() {
		return ComponentNotRegisteredError{ID: id}
	}
	e.allocator = ecsalloc.NewLinearAllocator(newSize)
	return nil
}

// Name returns the registered human name for id.
func (r *ComponentRegistry) Name(id ComponentID) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entry(id)
	if !ok {
		return "", ComponentNotRegisteredError{ID: id}
	}
	return e.name, nil
}

// Size returns the registered byte size for id.
func (r *ComponentRegistry) Size(id ComponentID) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entry(id)
	if !ok {
		return 0, ComponentNotRegisteredError{ID: id}
	}
	return e.size, nil
}

// BufferDescriptors returns the owned-buffer descriptors for id.
func (r *ComponentRegistry) BufferDescriptors(id ComponentID) ([]BufferDescriptor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entry(id)
	if !ok {
		return nil, ComponentNotRegisteredError{ID: id}
	}
	return e.bufferDescs, nil
}

// HasBuffers reports whether id owns at least one buffer descriptor, the
// test used to build an archetype's deallocate list (spec §3).
func (r *ComponentRegistry) HasBuffers(id ComponentID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entry(id)
	return ok && len(e.bufferDescs) > 0
}

// CreateSharedInstance interns data for the shared component comp. If
// copyBuffers is set and the component has an arena, the bytes each buffer
// descriptor covers (ElemSize bytes at Offset in the blob) are copied into
// the component arena (spec §4.3). Pointers held inside the blob are not
// followed, and the interned blob is not rewritten to refer to the copies.
func (r *ComponentRegistry) CreateSharedInstance(comp ComponentID, data []byte, copyBuffers bool) (SharedInstance, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entry(comp)
	if !ok || e.kind != ComponentShared {
		return 0, ComponentNotRegisteredError{ID: comp}
	}
	inst := e.shared.intern(data)
	if copyBuffers && e.allocator != nil {
		r.deepCopyBuffersLocked(e, inst)
	}
	return inst, nil
}

func (r *ComponentRegistry) deepCopyBuffersLocked(e *componentEntry, inst SharedInstance) {
	blob, ok := e.shared.get(inst)
	if !ok {
		return
	}
	for _, desc := range e.bufferDescs {
		if desc.Offset+desc.ElemSize > len(blob) {
			continue
		}
		src := blob[desc.Offset : desc.Offset+desc.ElemSize]
		dst := e.allocator.Alloc(desc.ElemSize, 1)
		copy(dst, src)
	}
}

// DestroySharedInstance removes inst from comp's sparse stream. Callers must
// ensure it is not live on any archetype base first (spec §4.3).
func (r *ComponentRegistry) DestroySharedInstance(comp ComponentID, inst SharedInstance) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entry(comp)
	if !ok || e.kind != ComponentShared {
		return ComponentNotRegisteredError{ID: comp}
	}
	if !e.shared.destroy(inst) {
		return SharedInstanceMissingError{Component: comp, Instance: inst}
	}
	return nil
}

// FindSharedInstance performs the linear content search of spec §4.3.
func (r *ComponentRegistry) FindSharedInstance(comp ComponentID, data []byte) (SharedInstance, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entry(comp)
	if !ok || e.kind != ComponentShared {
		return 0, false
	}
	return e.shared.find(data)
}

// GetSharedData returns the O(1) blob lookup for a shared instance.
func (r *ComponentRegistry) GetSharedData(comp ComponentID, inst SharedInstance) ([]byte, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entry(comp)
	if !ok || e.kind != ComponentShared {
		return nil, ComponentNotRegisteredError{ID: comp}
	}
	blob, ok := e.shared.get(inst)
	if !ok {
		return nil, SharedInstanceMissingError{Component: comp, Instance: inst}
	}
	return blob, nil
}

// CreateNamedSharedInstance interns data and binds name to the resulting handle.
func (r *ComponentRegistry) CreateNamedSharedInstance(name string, comp ComponentID, data []byte, copyBuffers bool) (SharedInstance, error) {
	inst, err := r.CreateSharedInstance(comp, data, copyBuffers)
	if err != nil {
		return 0, err
	}
	r.mu.Lock()
	r.named[name] = namedBinding{component: comp, instance: inst}
	r.mu.Unlock()
	return inst, nil
}

// BindNamedSharedInstance binds an existing instance handle to name.
func (r *ComponentRegistry) BindNamedSharedInstance(name string, comp ComponentID, inst SharedInstance) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entry(comp)
	if !ok || e.kind != ComponentShared {
		return ComponentNotRegisteredError{ID: comp}
	}
	if _, ok := e.shared.get(inst); !ok {
		return SharedInstanceMissingError{Component: comp, Instance: inst}
	}
	r.named[name] = namedBinding{component: comp, instance: inst}
	return nil
}

// DestroyNamedSharedInstance unbinds name without touching the underlying
// shared instance (which may still be referenced by archetypes or other names).
func (r *ComponentRegistry) DestroyNamedSharedInstance(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.named[name]; !ok {
		return NamedSharedInstanceMissingError{Name: name}
	}
	delete(r.named, name)
	return nil
}

// GetNamedSharedInstance resolves name to its (component, instance) pair.
func (r *ComponentRegistry) GetNamedSharedInstance(name string) (ComponentID, SharedInstance, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.named[name]
	if !ok {
		return 0, 0, NamedSharedInstanceMissingError{Name: name}
	}
	return b.component, b.instance, nil
}

// GetGlobalData returns the singleton blob for a global component.
func (r *ComponentRegistry) GetGlobalData(id ComponentID) ([]byte, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entry(id)
	if !ok || e.kind != ComponentGlobal {
		return nil, ComponentNotRegisteredError{ID: id}
	}
	return e.global, nil
}

// SweepUnreferencedShared destroys every shared instance of comp that no
// archetype in catalog references, the unreferenced-instance sweep of spec
// §4.3 driven off the archetype catalog.
func (r *ComponentRegistry) SweepUnreferencedShared(comp ComponentID, catalog *ArchetypeCatalog) error {
	r.mu.Lock()
	e, ok := r.entry(comp)
	if !ok || e.kind != ComponentShared {
		r.mu.Unlock()
		return ComponentNotRegisteredError{ID: comp}
	}
	total := len(e.shared.slots)
	r.mu.Unlock()

	referenced := make(map[SharedInstance]bool, total)
	for _, arch := range catalog.All() {
		if !arch.SharedSignature.Contains(comp) {
			continue
		}
		idx := -1
		for i, id := range arch.SharedSignature.IDs() {
			if id == comp {
				idx = i
				break
			}
		}
		if idx < 0 {
			continue
		}
		for _, base := range arch.Bases {
			referenced[base.SharedTuple[idx]] = true
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for inst := 0; inst < total; inst++ {
		si := SharedInstance(inst)
		if _, ok := e.shared.get(si); ok && !referenced[si] {
			e.shared.destroy(si)
		}
	}
	return nil
}
