package warehouse

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/TheBitDrifter/table"
)

// Archetype is the narrow per-table interface query.go/cursor.go/storage.go
// iterate over — satisfied by ArchetypeBase, the leaf storage that actually
// owns a columnar table.
type Archetype interface {
	ID() uint32
	Table() table.Table
}

// ArchetypeImpl is the concrete type behind the Archetype interface, named
// distinctly so Cursor can reach ArchetypeBase's unexported table field
// directly instead of through the interface. It is a pointer alias since
// ID()/Table() are defined with pointer receivers.
type ArchetypeImpl = *ArchetypeBase

// MainArchetype is the main archetype of spec §3: identified by the pair
// (unique-signature, shared-signature). It owns one or more ArchetypeBases,
// each pinning a concrete shared-instance tuple, plus the deallocate list
// derived once from the registry at creation time.
type MainArchetype struct {
	ID               uint32
	UniqueSignature  ComponentSignature
	SharedSignature  ComponentSignature
	UniqueComponents []Component // storage order, needed to build table columns
	Vector           VectorComponentSignature
	DeallocateList   []ComponentID // unique components that own internal buffers

	Bases      []*ArchetypeBase
	basesByKey map[string]uint32 // shared tuple key -> index into Bases
	schema     table.Schema
	entryIndex table.EntryIndex
}

// ArchetypeBase is the leaf storage of spec §3/§4.4: a columnar table pinned
// to a concrete shared-instance tuple.
type ArchetypeBase struct {
	Index       uint32
	Archetype   *MainArchetype
	SharedTuple []SharedInstance // parallel to Archetype.SharedSignature.IDs()
	table       table.Table
}

// ArchetypeID returns the owning main archetype's id.
func (b *ArchetypeBase) ArchetypeID() uint32 { return b.Archetype.ID }

// ID implements the Archetype interface with a value unique across the
// whole catalog: the owning main archetype id in the high 16 bits, the base
// index within it in the low 16 bits (bases per archetype is bounded well
// under 2^16 in practice — spec §4.5 expects "small").
func (b *ArchetypeBase) ID() uint32 { return b.Archetype.ID<<16 | b.Index&0xFFFF }

// Table returns the underlying columnar table.
func (b *ArchetypeBase) Table() table.Table { return b.table }

func sharedTupleKey(tuple []SharedInstance) string {
	var sb strings.Builder
	for _, inst := range tuple {
		sb.WriteString(strconv.Itoa(int(inst)))
		sb.WriteByte(':')
	}
	return sb.String()
}

// newArchetype builds a main archetype for the given unique/shared
// signatures. uniqueComponents must be in the same order as
// uniqueSignature.IDs() and supplies the table.ElementType values needed to
// build each base's columns.
func newArchetype(id uint32, uniqueSignature, sharedSignature ComponentSignature, uniqueComponents []Component, registry *ComponentRegistry, schema table.Schema, entryIndex table.EntryIndex) (*MainArchetype, error) {
	if uniqueSignature.Len() > MaxUniqueComponents || sharedSignature.Len() > MaxSharedComponents {
		return nil, ArchetypeSignatureLimitExceededError{Unique: uniqueSignature.Len(), Shared: sharedSignature.Len()}
	}

	var deallocList []ComponentID
	for _, id := range uniqueSignature.IDs() {
		if registry != nil && registry.HasBuffers(id) {
			deallocList = append(deallocList, id)
		}
	}

	return &MainArchetype{
		ID:               id,
		UniqueSignature:  uniqueSignature,
		SharedSignature:  sharedSignature,
		UniqueComponents: uniqueComponents,
		Vector:           NewVectorComponentSignature(uniqueSignature, sharedSignature),
		DeallocateList:   deallocList,
		basesByKey:       make(map[string]uint32),
		schema:           schema,
		entryIndex:       entryIndex,
	}, nil
}

// FindBase looks up the base pinning sharedTuple through the archetype's
// tuple-key index (basesByKey).
func (a *MainArchetype) FindBase(sharedTuple []SharedInstance) (*ArchetypeBase, bool) {
	idx, ok := a.basesByKey[sharedTupleKey(sharedTuple)]
	if !ok {
		return nil, false
	}
	return a.Bases[idx], true
}

// CreateBase appends a new base pinning sharedTuple, building its columnar
// table from the archetype's unique component set (spec §4.5: "Bases are
// append-only within the archetype").
func (a *MainArchetype) CreateBase(sharedTuple []SharedInstance, startingSize int) (*ArchetypeBase, error) {
	if base, ok := a.FindBase(sharedTuple); ok {
		return base, nil
	}

	elementTypes := make([]table.ElementType, len(a.UniqueComponents))
	for i, c := range a.UniqueComponents {
		elementTypes[i] = c
	}
	tbl, err := table.NewTableBuilder().
		WithSchema(a.schema).
		WithEntryIndex(a.entryIndex).
		WithElementTypes(elementTypes...).
		WithEvents(Config.tableEvents).
		Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build base table: %w", err)
	}

	tupleCopy := make([]SharedInstance, len(sharedTuple))
	copy(tupleCopy, sharedTuple)

	base := &ArchetypeBase{
		Index:       uint32(len(a.Bases)),
		Archetype:   a,
		SharedTuple: tupleCopy,
		table:       tbl,
	}
	a.basesByKey[sharedTupleKey(tupleCopy)] = base.Index
	a.Bases = append(a.Bases, base)
	_ = startingSize
	return base, nil
}

// DestroyBase removes a base via swap-with-last and updates the surviving
// entities' base_archetype field (spec §4.5). When pool is non-nil, the
// pool records of the moved base's entities are repointed at its new index
// here; Bases and basesByKey are kept in step as well.
func (a *MainArchetype) DestroyBase(index uint32, pool *entityPool) error {
	if int(index) >= len(a.Bases) {
		return BaseArchetypeMissingError{Archetype: a.ID, Base: index}
	}
	last := uint32(len(a.Bases) - 1)
	delete(a.basesByKey, sharedTupleKey(a.Bases[index].SharedTuple))

	if index != last {
		moved := a.Bases[last]
		a.Bases[index] = moved
		moved.Index = index
		a.basesByKey[sharedTupleKey(moved.SharedTuple)] = index
		if pool != nil {
			for i := 0; i < moved.table.Length(); i++ {
				entry, err := moved.table.Entry(i)
				if err != nil {
					continue
				}
				info, ok := pool.Info(uint32(entry.ID()) - 1)
				if ok {
					info.BaseArchetype = index
					pool.SetInfo(uint32(entry.ID())-1, info)
				}
			}
		}
	}
	a.Bases = a.Bases[:last]
	return nil
}

// ArchetypeCatalog owns every main archetype in a world, keyed by the
// combined (unique-sig, shared-sig) identity — "at most one main archetype
// per signature pair" (spec §3 invariant).
type ArchetypeCatalog struct {
	nextID uint32
	all    []*MainArchetype
	byKey  map[string]uint32
	schema table.Schema
	index  table.EntryIndex
}

// NewArchetypeCatalog returns an empty catalog bound to the given schema and
// entry index (both owned by the world, per teacher convention).
func NewArchetypeCatalog(schema table.Schema, entryIndex table.EntryIndex) *ArchetypeCatalog {
	return &ArchetypeCatalog{nextID: 1, byKey: make(map[string]uint32), schema: schema, index: entryIndex}
}

func signatureKey(unique, shared ComponentSignature) string {
	u := append([]int{}, idsAsInts(unique.IDs())...)
	s := append([]int{}, idsAsInts(shared.IDs())...)
	sort.Ints(u)
	sort.Ints(s)
	var sb strings.Builder
	for _, id := range u {
		sb.WriteString("u")
		sb.WriteString(strconv.Itoa(id))
	}
	sb.WriteString("|")
	for _, id := range s {
		sb.WriteString("s")
		sb.WriteString(strconv.Itoa(id))
	}
	return sb.String()
}

func idsAsInts(ids []ComponentID) []int {
	out := make([]int, len(ids))
	for i, id := range ids {
		out[i] = int(id)
	}
	return out
}

// FindOrCreate returns the archetype for (uniqueSig, sharedSig), creating it
// (and notifying onCreate, if set, for the query cache's update_add hook)
// when it doesn't already exist.
func (c *ArchetypeCatalog) FindOrCreate(uniqueSig, sharedSig ComponentSignature, uniqueComponents []Component, registry *ComponentRegistry, onCreate func(*MainArchetype)) (*MainArchetype, error) {
	key := signatureKey(uniqueSig, sharedSig)
	if idx, ok := c.byKey[key]; ok {
		return c.all[idx-1], nil
	}
	arch, err := newArchetype(c.nextID, uniqueSig, sharedSig, uniqueComponents, registry, c.schema, c.index)
	if err != nil {
		return nil, err
	}
	c.byKey[key] = c.nextID
	c.all = append(c.all, arch)
	c.nextID++
	if onCreate != nil {
		onCreate(arch)
	}
	return arch, nil
}

// Get returns the archetype at 1-based id.
func (c *ArchetypeCatalog) Get(id uint32) (*MainArchetype, bool) {
	if id == 0 || int(id) > len(c.all) {
		return nil, false
	}
	return c.all[id-1], true
}

// All returns every main archetype in the catalog.
func (c *ArchetypeCatalog) All() []*MainArchetype { return c.all }

// AllBases flattens every base across every main archetype — the iteration
// surface Cursor/Query operate over, mirroring the teacher's flat
// storage.Archetypes().
func (c *ArchetypeCatalog) AllBases() []*ArchetypeBase {
	var out []*ArchetypeBase
	for _, a := range c.all {
		out = append(out, a.Bases...)
	}
	return out
}
