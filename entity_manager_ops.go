package warehouse

import (
	"sort"
	"sync"
)

// sharedArchetypeComponents tracks, for the two-level (shared-component
// aware) path, which Component values back a given unique signature — the
// registry only knows byte sizes, so callers working above the flat
// Entity/Cursor/Query API supply the table.ElementType set once per unique
// signature via this cache.
type sharedArchetypeComponents struct {
	mu   sync.RWMutex
	byID map[string][]Component
}

func newSharedArchetypeComponents() *sharedArchetypeComponents {
	return &sharedArchetypeComponents{byID: make(map[string][]Component)}
}

func (s *sharedArchetypeComponents) bind(sig ComponentSignature, comps []Component) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byID[signatureKey(sig, ComponentSignature{})] = comps
}

// CreateEntitiesWithShared implements the create_entities operation of
// spec module F for the general case that includes shared components: it
// resolves (or creates) the main archetype for (uniqueSig, sharedSig),
// resolves (or interns) the base for sharedTuple, reserves n rows and
// registers each new row in the entity pool.
func (sto *storage) CreateEntitiesWithShared(n int, uniqueSig, sharedSig ComponentSignature, uniqueComponents []Component, sharedTuple []SharedInstance) ([]EntityID, error) {
	sto.sharedComponents.bind(uniqueSig, uniqueComponents)

	main, err := sto.archetypes.catalog.FindOrCreate(uniqueSig, sharedSig, uniqueComponents, sto.registry, sto.onArchetypeCreated)
	if err != nil {
		return nil, err
	}
	base, err := main.CreateBase(sharedTuple, n)
	if err != nil {
		return nil, err
	}
	if sto.queryCache != nil {
		sto.queryCache.UpdateAddBase(base)
	}

	entries, err := base.AddEntities(n)
	if err != nil {
		return nil, err
	}

	out := make([]EntityID, n)
	for i, entry := range entries {
		idx := sto.pool.Allocate(EntityInfo{
			MainArchetype: main.ID,
			BaseArchetype: base.ID(),
			StreamIndex:   uint32(entry.Index()),
		})
		info, _ := sto.pool.Info(idx)
		out[i] = NewEntityID(idx, info.Generation)
	}
	return out, nil
}

func (sto *storage) onArchetypeCreated(arch *MainArchetype) {
	if sto.queryCache != nil {
		sto.queryCache.UpdateAdd(arch)
	}
}

// resolveEntity looks up the pool index/info/archetype/base for an
// EntityID, failing with InvalidEntityError on a stale or unknown handle.
func (sto *storage) resolveEntity(id EntityID) (uint32, EntityInfo, *MainArchetype, *ArchetypeBase, error) {
	poolIdx := id.Index()
	info, ok := sto.pool.Info(poolIdx)
	if !ok || !sto.pool.IsValidGeneration(poolIdx, id.Generation()) {
		return 0, EntityInfo{}, nil, nil, InvalidEntityError{Entity: id}
	}
	main, ok := sto.archetypes.catalog.Get(info.MainArchetype)
	if !ok {
		return 0, EntityInfo{}, nil, nil, ArchetypeMissingError{Index: info.MainArchetype}
	}
	for _, b := range main.Bases {
		if b.ID() == info.BaseArchetype {
			return poolIdx, info, main, b, nil
		}
	}
	return 0, EntityInfo{}, nil, nil, BaseArchetypeMissingError{Archetype: info.MainArchetype, Base: info.BaseArchetype}
}

// AddSharedComponentCommit implements add_shared_components: moves an
// entity to the main archetype extended with comp, pinning instance in the
// new base's shared tuple (spec §4.6).
func (sto *storage) AddSharedComponentCommit(id EntityID, comp ComponentID, instance SharedInstance) error {
	poolIdx, info, main, base, err := sto.resolveEntity(id)
	if err != nil {
		return err
	}
	if main.SharedSignature.Contains(comp) {
		return nil
	}
	newSharedSig := main.SharedSignature.Union(NewComponentSignature(comp))
	newMain, err := sto.archetypes.catalog.FindOrCreate(main.UniqueSignature, newSharedSig, main.UniqueComponents, sto.registry, sto.onArchetypeCreated)
	if err != nil {
		return err
	}

	newTuple := appendSortedTuple(main.SharedSignature, base.SharedTuple, comp, instance)
	newBase, err := newMain.CreateBase(newTuple, 1)
	if err != nil {
		return err
	}
	_, err = sto.moveEntityRow(poolIdx, info, base, newMain, newBase)
	return err
}

// RemoveSharedComponentCommit implements remove_shared_components.
func (sto *storage) RemoveSharedComponentCommit(id EntityID, comp ComponentID) error {
	poolIdx, info, main, base, err := sto.resolveEntity(id)
	if err != nil {
		return err
	}
	if !main.SharedSignature.Contains(comp) {
		return nil
	}
	newSharedSig := main.SharedSignature.Without(NewComponentSignature(comp))
	newMain, err := sto.archetypes.catalog.FindOrCreate(main.UniqueSignature, newSharedSig, main.UniqueComponents, sto.registry, sto.onArchetypeCreated)
	if err != nil {
		return err
	}
	newTuple := removeFromTuple(main.SharedSignature, base.SharedTuple, comp)
	newBase, err := newMain.CreateBase(newTuple, 1)
	if err != nil {
		return err
	}
	_, err = sto.moveEntityRow(poolIdx, info, base, newMain, newBase)
	return err
}

// ChangeSharedInstanceCommit implements change_shared_instance: repins an
// entity already carrying comp to a different interned instance, moving it
// to (or creating) the base with the new tuple.
func (sto *storage) ChangeSharedInstanceCommit(id EntityID, comp ComponentID, instance SharedInstance) error {
	poolIdx, info, main, base, err := sto.resolveEntity(id)
	if err != nil {
		return err
	}
	if !main.SharedSignature.Contains(comp) {
		return SharedInstanceMissingError{Component: comp, Instance: instance}
	}
	newTuple := make([]SharedInstance, len(base.SharedTuple))
	copy(newTuple, base.SharedTuple)
	for i, sc := range main.SharedSignature.IDs() {
		if sc == comp {
			newTuple[i] = instance
		}
	}
	newBase, err := main.CreateBase(newTuple, 1)
	if err != nil {
		return err
	}
	_, err = sto.moveEntityRow(poolIdx, info, base, main, newBase)
	return err
}

// AddComponentsCommit implements add_components: computes the entity's new
// unique signature as old ∪ addSig, finds or creates the main archetype for
// that signature (same shared signature and base), moves the row across via
// moveEntityRowOver's copy_from_another machinery, then writes the newly
// added columns per data.Mode — the same CopyMode writers create_entities
// uses (spec §4.6). addComponents must supply, in addSig.IDs() order, the
// table.ElementType backing each newly added id. A nil data is valid when
// addSig's components are zero-sized or will be populated afterward.
func (sto *storage) AddComponentsCommit(id EntityID, addSig ComponentSignature, addComponents []Component, data *ComponentData) error {
	poolIdx, info, main, base, err := sto.resolveEntity(id)
	if err != nil {
		return err
	}
	newUniqueSig := main.UniqueSignature.Union(addSig)
	if newUniqueSig.Len() == main.UniqueSignature.Len() {
		return nil
	}
	newUniqueComponents := append(append([]Component{}, main.UniqueComponents...), addComponents...)

	newMain, err := sto.archetypes.catalog.FindOrCreate(newUniqueSig, main.SharedSignature, newUniqueComponents, sto.registry, sto.onArchetypeCreated)
	if err != nil {
		return err
	}
	newBase, err := newMain.CreateBase(base.SharedTuple, 1)
	if err != nil {
		return err
	}

	dstStart, err := sto.moveEntityRowOver(poolIdx, info, base, newMain, newBase, main.UniqueSignature)
	if err != nil {
		return err
	}
	if data != nil {
		newBase.WriteComponentData(dstStart, 1, *data)
	}
	return nil
}

// RemoveComponentsCommit implements remove_components: symmetric to
// AddComponentsCommit, computing the new unique signature as old \ removeSig
// and carrying over only the components the entity keeps.
func (sto *storage) RemoveComponentsCommit(id EntityID, removeSig ComponentSignature) error {
	poolIdx, info, main, base, err := sto.resolveEntity(id)
	if err != nil {
		return err
	}
	newUniqueSig := main.UniqueSignature.Without(removeSig)
	if newUniqueSig.Len() == main.UniqueSignature.Len() {
		return nil
	}
	newUniqueComponents := make([]Component, 0, newUniqueSig.Len())
	for i, cid := range main.UniqueSignature.IDs() {
		if !removeSig.Contains(cid) {
			newUniqueComponents = append(newUniqueComponents, main.UniqueComponents[i])
		}
	}

	newMain, err := sto.archetypes.catalog.FindOrCreate(newUniqueSig, main.SharedSignature, newUniqueComponents, sto.registry, sto.onArchetypeCreated)
	if err != nil {
		return err
	}
	newBase, err := newMain.CreateBase(base.SharedTuple, 1)
	if err != nil {
		return err
	}

	_, err = sto.moveEntityRowOver(poolIdx, info, base, newMain, newBase, newUniqueSig)
	return err
}

// moveEntityRow relocates one entity's row from src to dst over the
// components they have in common, updates the pool's EntityInfo for poolIdx
// in place, and returns the row's new stream index so callers that move an
// entity into a differently-shaped archetype (add_components/
// remove_components) can write the remaining columns themselves.
func (sto *storage) moveEntityRow(poolIdx uint32, info EntityInfo, src *ArchetypeBase, dstMain *MainArchetype, dst *ArchetypeBase) (int, error) {
	return sto.moveEntityRowOver(poolIdx, info, src, dstMain, dst, src.Archetype.UniqueSignature)
}

// moveEntityRowOver is moveEntityRow parameterized on the common signature to
// copy, letting add_components/remove_components pass the intersection of
// the entity's old and new unique signatures instead of assuming it equals
// src's full signature.
func (sto *storage) moveEntityRowOver(poolIdx uint32, info EntityInfo, src *ArchetypeBase, dstMain *MainArchetype, dst *ArchetypeBase, common ComponentSignature) (int, error) {
	dstStart, err := dst.Reserve(1)
	if err != nil {
		return 0, err
	}
	sizes := make(map[ComponentID]int, common.Len())
	for _, id := range common.IDs() {
		if size, err := sto.registry.Size(id); err == nil {
			sizes[id] = size
		}
	}
	dst.CopyFromAnother(dstStart, src, []EntityInfo{info}, common, sizes)
	if err := src.RemoveEntity(int(info.StreamIndex), sto.pool); err != nil {
		return 0, err
	}

	info.MainArchetype = dstMain.ID
	info.BaseArchetype = dst.ID()
	info.StreamIndex = uint32(dstStart)
	sto.pool.SetInfo(poolIdx, info)
	return dstStart, nil
}

// DestroyEntityWithShared implements destroy_entities for the two-level
// path: removes the row from its base, deallocates the pool slot (bumping
// its generation so stale EntityID handles are rejected) and detaches it
// from the hierarchy.
func (sto *storage) DestroyEntityWithShared(id EntityID) error {
	poolIdx, info, _, base, err := sto.resolveEntity(id)
	if err != nil {
		return err
	}
	if err := base.RemoveEntity(int(info.StreamIndex), sto.pool); err != nil {
		return err
	}
	sto.pool.Deallocate(poolIdx)
	sto.hierarchy.RemoveEntry(id)
	return nil
}

// CopyEntityWithChildren implements copy_entity(source, n, copy_children): it
// splat-copies src's row into n fresh rows of the same base (one Reserve
// per row) and, when copyChildren is set, clones src's whole subtree
// (breadth-first, via a reused scratch queue) under each of the n clones,
// re-parenting every copy to mirror the original subtree shape (spec §4.6).
func (sto *storage) CopyEntityWithChildren(src EntityID, n int, copyChildren bool) ([]EntityID, error) {
	if n <= 0 {
		return nil, nil
	}
	dsts, err := sto.copyEntityRows(src, n)
	if err != nil {
		return nil, err
	}
	if !copyChildren {
		return dsts, nil
	}

	scratch := make([]EntityID, 0, 8)
	subtree := sto.hierarchy.Subtree(src, scratch)
	for _, dst := range dsts {
		oldToNew := map[EntityID]EntityID{src: dst}
		for _, child := range subtree {
			parent, _ := sto.hierarchy.GetParent(child)
			newChild, err := sto.copyEntityRow(child)
			if err != nil {
				return nil, err
			}
			oldToNew[child] = newChild
			newParent, ok := oldToNew[parent]
			if !ok {
				newParent = dst
			}
			if err := sto.hierarchy.AddEntry(newParent, newChild); err != nil {
				return nil, err
			}
		}
	}
	return dsts, nil
}

// copyEntityRow duplicates one entity's row within its own base, sharing
// the same shared-component tuple, through copyEntityRows' splat copy.
func (sto *storage) copyEntityRow(src EntityID) (EntityID, error) {
	out, err := sto.copyEntityRows(src, 1)
	if err != nil {
		return EntitySentinel, err
	}
	return out[0], nil
}

// copyEntityRows is copy_entity's splat mode: it broadcasts src's row into n
// fresh rows of its own base, one CopyFromAnother per reserved row (the base
// only guarantees a valid start index per Reserve call, not that consecutive
// calls land on contiguous rows), and registers a fresh pool entry (and
// EntityID) for each.
func (sto *storage) copyEntityRows(src EntityID, n int) ([]EntityID, error) {
	_, info, main, base, err := sto.resolveEntity(src)
	if err != nil {
		return nil, err
	}
	common := main.UniqueSignature
	sizes := make(map[ComponentID]int, common.Len())
	for _, id := range common.IDs() {
		if size, err := sto.registry.Size(id); err == nil {
			sizes[id] = size
		}
	}

	out := make([]EntityID, n)
	for i := 0; i < n; i++ {
		dstStart, err := base.Reserve(1)
		if err != nil {
			return nil, err
		}
		base.CopyFromAnother(dstStart, base, []EntityInfo{info}, common, sizes)
		idx := sto.pool.Allocate(EntityInfo{MainArchetype: main.ID, BaseArchetype: base.ID(), StreamIndex: uint32(dstStart)})
		newInfo, _ := sto.pool.Info(idx)
		out[i] = NewEntityID(idx, newInfo.Generation)
	}
	return out, nil
}

func appendSortedTuple(sharedSig ComponentSignature, tuple []SharedInstance, comp ComponentID, inst SharedInstance) []SharedInstance {
	ids := append(append([]ComponentID{}, sharedSig.IDs()...), comp)
	vals := append(append([]SharedInstance{}, tuple...), inst)
	idx := make([]int, len(ids))
	for i := range idx {
		idx[i] = i
	}
	sort.Slice(idx, func(i, j int) bool { return ids[idx[i]] < ids[idx[j]] })
	out := make([]SharedInstance, len(vals))
	for i, j := range idx {
		out[i] = vals[j]
	}
	return out
}

func removeFromTuple(sharedSig ComponentSignature, tuple []SharedInstance, comp ComponentID) []SharedInstance {
	out := make([]SharedInstance, 0, len(tuple))
	for i, id := range sharedSig.IDs() {
		if id != comp && i < len(tuple) {
			out = append(out, tuple[i])
		}
	}
	return out
}
