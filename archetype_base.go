package warehouse

import (
	"reflect"
	"unsafe"

	"github.com/TheBitDrifter/table"
)

// rowIndexOf returns the column index of compID within the base's archetype,
// i.e. the index into Archetype.UniqueComponents / table.Rows() sharing the
// same construction order (spec §4.4: "columnar layout... one contiguous
// buffer per unique component").
func (b *ArchetypeBase) rowIndexOf(compID ComponentID) (int, bool) {
	for i, c := range b.Archetype.UniqueComponents {
		if ComponentID(c.ID()) == compID {
			return i, true
		}
	}
	return 0, false
}

// columnBytes returns an unsafe byte view of element index of column row, sized
// to size bytes — the opaque (ptr, size) pair spec §9 calls for so the core
// never needs the component's concrete Go type to copy it.
func columnBytes(row table.Row, index, size int) []byte {
	val := reflect.Value(row)
	if index >= val.Len() {
		return nil
	}
	elem := val.Index(index)
	ptr := unsafe.Pointer(elem.UnsafeAddr())
	return unsafe.Slice((*byte)(ptr), size)
}

// Reserve grows the base to accommodate n additional rows, delegating the
// actual geometric (1.5x) growth and column rebind to table.Table — the
// teacher's table package already owns that policy; the base only needs to
// ask for capacity (spec §4.4).
func (b *ArchetypeBase) Reserve(n int) (int, error) {
	entries, err := b.table.NewEntries(n)
	if err != nil {
		return 0, err
	}
	if len(entries) == 0 {
		return b.table.Length(), nil
	}
	return entries[0].Index(), nil
}

// AddEntities reserves n rows and assigns them entity ids, leaving
// components uninitialized (spec §4.4). It returns the created table
// entries so the caller (entity manager) can build EntityInfo for each.
func (b *ArchetypeBase) AddEntities(n int) ([]table.Entry, error) {
	return b.table.NewEntries(n)
}

// RemoveEntity swap-removes the row at streamIndex, updating the swapped
// entity's EntityInfo.StreamIndex in pool (spec §4.4).
func (b *ArchetypeBase) RemoveEntity(streamIndex int, pool *entityPool) error {
	last := b.table.Length() - 1
	if last < 0 || streamIndex > last {
		return BaseArchetypeMissingError{Archetype: b.Archetype.ID, Base: b.Index}
	}

	var movedID table.EntryID
	if streamIndex != last {
		lastEntry, err := b.table.Entry(last)
		if err != nil {
			return err
		}
		movedID = lastEntry.ID()
	}

	entry, err := b.table.Entry(streamIndex)
	if err != nil {
		return err
	}
	if _, err := b.table.DeleteEntries(int(entry.ID())); err != nil {
		return err
	}

	if movedID != 0 && pool != nil {
		info, ok := pool.Info(uint32(movedID) - 1)
		if ok {
			info.StreamIndex = uint32(streamIndex)
			pool.SetInfo(uint32(movedID)-1, info)
		}
	}
	return nil
}

// GetComponent returns the opaque byte view for compID at the row addressed
// by info, or ComponentNotRegisteredError if compID isn't a column of this
// base.
func (b *ArchetypeBase) GetComponent(info EntityInfo, compID ComponentID) ([]byte, error) {
	size, err := componentSizeLookup(compID)
	if err != nil {
		return nil, err
	}
	idx, ok := b.rowIndexOf(compID)
	if !ok {
		return nil, ComponentNotRegisteredError{ID: compID}
	}
	row := b.table.Rows()[idx]
	return columnBytes(row, int(info.StreamIndex), size), nil
}

// GetComponentByIndex is the by-column-index variant of GetComponent, an O(1)
// lookup once the caller already knows the column (spec §4.4).
func (b *ArchetypeBase) GetComponentByIndex(streamIndex int, columnIndex int, size int) []byte {
	row := b.table.Rows()[columnIndex]
	return columnBytes(row, streamIndex, size)
}

// componentSizeLookup is filled in by the owning EntityManager at
// construction; kept as a package-level indirection so ArchetypeBase (which
// has no registry reference of its own) can resolve sizes without a cyclic
// dependency on EntityManager.
var componentSizeLookup = func(id ComponentID) (int, error) {
	return 0, ComponentNotRegisteredError{ID: id}
}

// CopyFromAnother implements spec §4.4's copy_from_another: for each
// component in signature present in both archetypes, memcpy the column
// slice from src (gathered by each source entity's stream index) into dst
// starting at dstStart.
func (b *ArchetypeBase) CopyFromAnother(dstStart int, src *ArchetypeBase, srcInfos []EntityInfo, sig ComponentSignature, sizes map[ComponentID]int) {
	for _, id := range sig.IDs() {
		size, ok := sizes[id]
		if !ok {
			continue
		}
		dstIdx, dstOK := b.rowIndexOf(id)
		srcIdx, srcOK := src.rowIndexOf(id)
		if !dstOK || !srcOK {
			continue
		}
		dstRow := b.table.Rows()[dstIdx]
		srcRow := src.table.Rows()[srcIdx]
		for i, info := range srcInfos {
			dstBytes := columnBytes(dstRow, dstStart+i, size)
			srcBytes := columnBytes(srcRow, int(info.StreamIndex), size)
			if dstBytes != nil && srcBytes != nil {
				copy(dstBytes, srcBytes)
			}
		}
	}
}

// CopySplatComponents implements copy_splat_components: one source blob per
// component, broadcast across count destination rows.
func (b *ArchetypeBase) CopySplatComponents(dstStart, count int, sources map[ComponentID][]byte) {
	for id, srcBytes := range sources {
		idx, ok := b.rowIndexOf(id)
		if !ok {
			continue
		}
		row := b.table.Rows()[idx]
		for i := 0; i < count; i++ {
			dst := columnBytes(row, dstStart+i, len(srcBytes))
			if dst != nil {
				copy(dst, srcBytes)
			}
		}
	}
}

// CopyByEntity implements the scattered-by-entity layout: data[entity*cols+col].
func (b *ArchetypeBase) CopyByEntity(dstStart int, components []ComponentID, sizes []int, data [][]byte) {
	cols := len(components)
	rows := len(data) / max1(cols)
	for row := 0; row < rows; row++ {
		for col, id := range components {
			idx, ok := b.rowIndexOf(id)
			if !ok {
				continue
			}
			tblRow := b.table.Rows()[idx]
			src := data[row*cols+col]
			dst := columnBytes(tblRow, dstStart+row, sizes[col])
			if dst != nil && src != nil {
				copy(dst, src)
			}
		}
	}
}

// CopyByEntityContiguous implements the row-major packed layout: one
// pointer per entity to a struct holding all requested components
// contiguously, laid out in `components` order with `sizes` giving each
// component's byte width.
func (b *ArchetypeBase) CopyByEntityContiguous(dstStart int, components []ComponentID, sizes []int, perEntity [][]byte) {
	for row, blob := range perEntity {
		offset := 0
		for col, id := range components {
			idx, ok := b.rowIndexOf(id)
			size := sizes[col]
			if ok && offset+size <= len(blob) {
				tblRow := b.table.Rows()[idx]
				dst := columnBytes(tblRow, dstStart+row, size)
				if dst != nil {
					copy(dst, blob[offset:offset+size])
				}
			}
			offset += size
		}
	}
}

// CopyByComponents implements the scattered-by-component layout:
// data[col*rows+row].
func (b *ArchetypeBase) CopyByComponents(dstStart, rows int, components []ComponentID, sizes []int, data [][]byte) {
	for col, id := range components {
		idx, ok := b.rowIndexOf(id)
		if !ok {
			continue
		}
		tblRow := b.table.Rows()[idx]
		for row := 0; row < rows; row++ {
			src := data[col*rows+row]
			dst := columnBytes(tblRow, dstStart+row, sizes[col])
			if dst != nil && src != nil {
				copy(dst, src)
			}
		}
	}
}

// CopyByComponentsContiguous implements the column-major packed layout: one
// pointer per column to a contiguous run of that component's values.
func (b *ArchetypeBase) CopyByComponentsContiguous(dstStart, rows int, components []ComponentID, sizes []int, perComponent [][]byte) {
	for col, id := range components {
		idx, ok := b.rowIndexOf(id)
		if !ok || col >= len(perComponent) {
			continue
		}
		tblRow := b.table.Rows()[idx]
		size := sizes[col]
		blob := perComponent[col]
		for row := 0; row < rows; row++ {
			start := row * size
			if start+size > len(blob) {
				break
			}
			dst := columnBytes(tblRow, dstStart+row, size)
			if dst != nil {
				copy(dst, blob[start:start+size])
			}
		}
	}
}

// WriteComponentData dispatches to the CopyMode-specific writer (spec §4.6:
// create_entities/add_components "write components per copy_mode"), so
// callers addressing entities by EntityID exercise the same five layouts
// copy_from_another's batch siblings do.
func (b *ArchetypeBase) WriteComponentData(dstStart, rows int, d ComponentData) {
	switch d.Mode {
	case CopySplat:
		b.CopySplatComponents(dstStart, rows, d.Splat)
	case CopyByEntity:
		b.CopyByEntity(dstStart, d.Components, d.Sizes, d.Rows)
	case CopyByEntityContiguous:
		b.CopyByEntityContiguous(dstStart, d.Components, d.Sizes, d.Rows)
	case CopyByComponents:
		b.CopyByComponents(dstStart, rows, d.Components, d.Sizes, d.Columns)
	case CopyByComponentsContiguous:
		b.CopyByComponentsContiguous(dstStart, rows, d.Components, d.Sizes, d.Columns)
	}
}

func max1(n int) int {
	if n <= 0 {
		return 1
	}
	return n
}
