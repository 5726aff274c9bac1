package warehouse

import (
	"errors"
	"fmt"

	"github.com/TheBitDrifter/mask"
	"github.com/TheBitDrifter/table"
)

// Ensure storage implements Storage interface
var _ Storage = &storage{}

var (
	globalEntryIndex = table.Factory.NewEntryIndex()
	globalEntities   = make([]entity, 0)
)

// Storage defines the interface for entity storage and manipulation
type Storage interface {
	Entity(id int) (Entity, error)
	NewEntities(int, ...Component) ([]Entity, error)
	NewOrExistingArchetype(components ...Component) (Archetype, error)
	EnqueueNewEntities(int, ...Component) error
	DestroyEntities(...Entity) error
	EnqueueDestroyEntities(...Entity) error
	RowIndexFor(Component) uint32
	Locked() bool
	AddLock(bit uint32)
	RemoveLock(bit uint32)
	Register(...Component)
	tableFor(...Component) (table.Table, error)

	TransferEntities(target Storage, entities ...Entity) error
	Enqueue(EntityOperation)
	Archetypes() []ArchetypeImpl

	// Registry, Pool and Hierarchy expose the wider entity-manager surface
	// (spec §3/§4) that the flat Entity/Cursor/Query API doesn't need.
	Registry() *ComponentRegistry
	Pool() *entityPool
	Hierarchy() *EntityHierarchy
	Catalog() *ArchetypeCatalog
}

// storage implements the Storage interface, doubling as the entity manager
// of spec module F: archetype lookup, the deferred operation queue, the
// component registry, the entity pool and the hierarchy all live here.
type storage struct {
	locks          mask.Mask256
	schema         table.Schema
	archetypes     *archetypes
	operationQueue EntityOperationsQueue

	registry         *ComponentRegistry
	pool             *entityPool
	hierarchy        *EntityHierarchy
	queryCache       *QueryCache
	sharedComponents *sharedArchetypeComponents
}

// archetypes manages archetype collections and identification
type archetypes struct {
	catalog          *ArchetypeCatalog
	idsGroupedByMask map[mask.Mask]uint32 // entity mask -> ArchetypeBase.ID()
	basesByID        map[uint32]*ArchetypeBase
}

// newStorage creates a new Storage implementation with the given schema
func newStorage(schema table.Schema) Storage {
	archs := &archetypes{
		catalog:          NewArchetypeCatalog(schema, globalEntryIndex),
		idsGroupedByMask: make(map[mask.Mask]uint32),
		basesByID:        make(map[uint32]*ArchetypeBase),
	}
	sto := &storage{
		archetypes:       archs,
		schema:           schema,
		operationQueue:   &entityOperationsQueue{},
		registry:         NewComponentRegistry(),
		pool:             newEntityPool(),
		hierarchy:        NewEntityHierarchy(),
		queryCache:       NewQueryCache(),
		sharedComponents: newSharedArchetypeComponents(),
	}
	componentSizeLookup = sto.registry.Size
	return sto
}

// Registry returns the world's component registry.
func (sto *storage) Registry() *ComponentRegistry { return sto.registry }

// Pool returns the world's entity pool.
func (sto *storage) Pool() *entityPool { return sto.pool }

// Hierarchy returns the world's parent/children relation.
func (sto *storage) Hierarchy() *EntityHierarchy { return sto.hierarchy }

// Catalog returns the world's main-archetype catalog.
func (sto *storage) Catalog() *ArchetypeCatalog { return sto.archetypes.catalog }

// Entity retrieves an entity by ID
func (sto *storage) Entity(id int) (Entity, error) {
	return &globalEntities[id-1], nil
}

// NewOrExistingArchetype gets an existing (no-shared-components) archetype
// matching the component signature, or creates it along with its sole base.
// This is the entry point the flat Entity/Cursor/Query API uses; callers
// needing shared components go through CreateEntitiesWithShared instead.
func (sto *storage) NewOrExistingArchetype(components ...Component) (Archetype, error) {
	var entityMask mask.Mask
	for _, component := range components {
		sto.schema.Register(component)
		bit := sto.schema.RowIndexFor(component)
		entityMask.Mark(bit)
	}
	if id, ok := sto.archetypes.idsGroupedByMask[entityMask]; ok {
		return sto.archetypes.basesByID[id], nil
	}

	uniqueSig := NewComponentSignature(componentIDsOf(components)...)
	main, err := sto.archetypes.catalog.FindOrCreate(uniqueSig, ComponentSignature{}, components, sto.registry, sto.onArchetypeCreated)
	if err != nil {
		return nil, err
	}
	base, err := main.CreateBase(nil, 0)
	if err != nil {
		return nil, err
	}
	if sto.queryCache != nil {
		sto.queryCache.UpdateAddBase(base)
	}
	sto.archetypes.idsGroupedByMask[entityMask] = base.ID()
	sto.archetypes.basesByID[base.ID()] = base
	return base, nil
}

func componentIDsOf(components []Component) []ComponentID {
	ids := make([]ComponentID, len(components))
	for i, c := range components {
		ids[i] = ComponentID(c.ID())
	}
	return ids
}

// NewEntities creates n new entities with the specified components
func (sto *storage) NewEntities(n int, components ...Component) ([]Entity, error) {
	if sto.Locked() {
		return nil, errors.New("storage is locked")
	}
	entityArchetype, err := sto.NewOrExistingArchetype(components...)
	if err != nil {
		return nil, err
	}
	entries, err := entityArchetype.Table().NewEntries(n)
	if err != nil {
		return nil, err
	}
	currentLen := len(globalEntities)
	neededCap := currentLen + n
	if cap(globalEntities) < neededCap {
		newCap := max(neededCap, 2*cap(globalEntities))
		newEntities := make([]entity, currentLen, newCap)
		copy(newEntities, globalEntities)
		globalEntities = newEntities
	}
	globalEntities = globalEntities[:neededCap]

	entities := make([]Entity, n)
	for i, entry := range entries {
		en := &entity{
			Entry:      entry,
			sto:        sto,
			id:         entry.ID(),
			components: components,
		}
		entities[i] = en
		globalEntities[currentLen+i] = *en

		sto.pool.Allocate(EntityInfo{
			MainArchetype: entityArchetype.(*ArchetypeBase).ArchetypeID(),
			BaseArchetype: entityArchetype.ID(),
			StreamIndex:   uint32(entry.Index()),
		})
	}

	return entities, nil
}

// RowIndexFor returns the bit index for a component in the schema
func (sto *storage) RowIndexFor(c Component) uint32 {
	return sto.schema.RowIndexFor(c)
}

// Locked checks if the storage is currently locked
func (sto *storage) Locked() bool {
	return !sto.locks.IsEmpty()
}

func (sto *storage) AddLock(bit uint32) {
	sto.locks.Mark(bit)
}

// RemoveLock releases a specific bit lock and processes queued operations if fully unlocked
func (sto *storage) RemoveLock(bit uint32) {
	sto.locks.Unmark(bit)

	if sto.locks.IsEmpty() {
		if err := sto.operationQueue.ProcessAll(sto); err != nil {
			panic(fmt.Errorf("error processing queued operations: %w", err))
		}
	}
}

// EnqueueNewEntities either creates entities immediately or queues creation if storage is locked
func (s *storage) EnqueueNewEntities(count int, components ...Component) error {
	if !s.Locked() {
		_, err := s.NewEntities(count, components...)
		if err != nil {
			return fmt.Errorf("failed to create entities directly: %w", err)
		}
		return nil
	}
	s.operationQueue.Enqueue(
		NewEntityOperation{
			count:      count,
			components: components,
		},
	)
	return nil
}

// DestroyEntities removes entities from storage
func (s *storage) DestroyEntities(entities ...Entity) error {
	if s.Locked() {
		return errors.New("storage is locked")
	}
	tableGroups := make(map[table.Table][]int)
	for _, entity := range entities {
		if entity == nil {
			continue
		}
		tableGroups[entity.Table()] = append(tableGroups[entity.Table()], int(entity.ID()))
	}
	for tbl, ids := range tableGroups {
		_, err := tbl.DeleteEntries(ids...)
		if err != nil {
			return fmt.Errorf("failed to delete entries: %w", err)
		}
	}
	for _, en := range entities {
		if en == nil {
			continue
		}
		index := en.ID() - 1
		if int(index) < len(globalEntities) {
			globalEntities[index] = entity{}
		}
		s.pool.Deallocate(uint32(index))
		s.hierarchy.RemoveEntry(NewEntityID(uint32(index), 0))
	}
	return nil
}

// EnqueueDestroyEntities either destroys entities immediately or queues destruction if storage is locked
func (s *storage) EnqueueDestroyEntities(entities ...Entity) error {
	if !s.Locked() {
		return s.DestroyEntities(entities...)
	}
	for _, en := range entities {
		s.operationQueue.Enqueue(
			DestroyEntityOperation{
				entity:   en,
				recycled: en.Recycled(),
			})
	}
	return nil
}

// TransferEntities moves entities from this storage to the target storage
func (s *storage) TransferEntities(target Storage, entities ...Entity) error {
	if s.Locked() {
		return errors.New("storage is locked")
	}
	for _, en := range entities {
		comps := en.Components()
		target.Register(comps...)
		targetTbl, err := target.tableFor(comps...)
		if err != nil {
			return err
		}

		err = en.Table().TransferEntries(targetTbl, en.Index())
		if err != nil {
			return err
		}
		en.SetStorage(target)
	}
	return nil
}

// Register adds components to the storage schema
func (s *storage) Register(comps ...Component) {
	ets := make([]table.ElementType, len(comps))
	for i, c := range comps {
		ets[i] = c
	}
	s.schema.Register(ets...)
}

// Enqueue adds an operation to the queue
func (s *storage) Enqueue(op EntityOperation) {
	s.operationQueue.Enqueue(op)
}

// Archetypes returns every archetype base in this storage, the flat
// iteration surface Cursor/Query expect.
func (s *storage) Archetypes() []ArchetypeImpl {
	return s.archetypes.catalog.AllBases()
}

// tableFor gets or creates a table for the given component set
func (s *storage) tableFor(comps ...Component) (table.Table, error) {
	arch, err := s.NewOrExistingArchetype(comps...)
	if err != nil {
		return nil, err
	}
	return arch.Table(), nil
}
