package warehouse

// CopyMode selects one of the four source-data layouts spec §4.6 requires
// add_components/create_entities to honor exactly.
type CopyMode uint8

const (
	// CopySplat broadcasts a single source value per component across every
	// destination row.
	CopySplat CopyMode = iota
	// CopyByEntity is row-major: data[entity*cols+col], one pointer per cell.
	CopyByEntity
	// CopyByEntityContiguous is row-major packed: one pointer per entity to
	// a struct holding all requested components contiguously.
	CopyByEntityContiguous
	// CopyByComponents is column-major: data[col*rows+row], one pointer per cell.
	CopyByComponents
	// CopyByComponentsContiguous is column-major packed: one pointer per
	// column to a contiguous run of that component's values.
	CopyByComponentsContiguous
)

// ComponentData is the caller-supplied payload for create_entities and
// add_components (spec §4.6): Mode selects which of the fields below is
// populated, Components/Sizes give the column order shared by all of them.
type ComponentData struct {
	Mode       CopyMode
	Components []ComponentID
	Sizes      []int

	// Splat holds one source blob per component, broadcast by CopySplat.
	Splat map[ComponentID][]byte
	// Rows holds row-major data for CopyByEntity (len == entities*len(Components))
	// or CopyByEntityContiguous (len == entities, one packed blob per entity).
	Rows [][]byte
	// Columns holds column-major data for CopyByComponents
	// (len == len(Components)*rows) or CopyByComponentsContiguous (len ==
	// len(Components), one packed blob per column).
	Columns [][]byte
}

func (m CopyMode) String() string {
	switch m {
	case CopySplat:
		return "Splat"
	case CopyByEntity:
		return "ByEntity"
	case CopyByEntityContiguous:
		return "ByEntityContiguous"
	case CopyByComponents:
		return "ByComponents"
	case CopyByComponentsContiguous:
		return "ByComponentsContiguous"
	default:
		return "Unknown"
	}
}
