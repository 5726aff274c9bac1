package warehouse

import "github.com/TheBitDrifter/mask"

// MaxUniqueComponents and MaxSharedComponents bound the component ids a
// single archetype may carry. Exceeding either is ArchetypeSignatureLimitExceeded.
const (
	MaxUniqueComponents = 15
	MaxSharedComponents = 8
)

// ComponentID is a stable 16-bit id in one of three disjoint spaces: unique,
// shared, or global.
type ComponentID uint16

// ComponentSignature is a small ordered set of component ids. Order is
// insignificant for equality; two signatures with the same ids compare equal
// through their derived mask regardless of construction order.
type ComponentSignature struct {
	ids []ComponentID
}

// NewComponentSignature builds a signature from a set of ids, de-duplicating.
func NewComponentSignature(ids ...ComponentID) ComponentSignature {
	seen := make(map[ComponentID]struct{}, len(ids))
	out := make([]ComponentID, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return ComponentSignature{ids: out}
}

// IDs returns the signature's component ids in storage order.
func (s ComponentSignature) IDs() []ComponentID { return s.ids }

// Len reports how many components this signature carries.
func (s ComponentSignature) Len() int { return len(s.ids) }

// Contains reports whether id is a member of the signature.
func (s ComponentSignature) Contains(id ComponentID) bool {
	for _, existing := range s.ids {
		if existing == id {
			return true
		}
	}
	return false
}

// Union returns a new signature holding the ids of both signatures.
func (s ComponentSignature) Union(other ComponentSignature) ComponentSignature {
	return NewComponentSignature(append(append([]ComponentID{}, s.ids...), other.ids...)...)
}

// Without returns a new signature with other's ids removed.
func (s ComponentSignature) Without(other ComponentSignature) ComponentSignature {
	out := make([]ComponentID, 0, len(s.ids))
	for _, id := range s.ids {
		if !other.Contains(id) {
			out = append(out, id)
		}
	}
	return ComponentSignature{ids: out}
}

// Mask converts the signature into its mask.Mask subset-test representation.
// A VectorComponentSignature holds one such mask per lane (unique, shared).
func (s ComponentSignature) Mask() mask.Mask {
	var m mask.Mask
	for _, id := range s.ids {
		m.Mark(uint32(id))
	}
	return m
}

// VectorComponentSignature is the precomputed subset-test representation of
// a ComponentSignature, stored once per archetype (MainArchetype.Vector,
// spec §3). Query evaluation does not read it: query.go tests the table's
// own mask and QueryCache tests signature membership.
type VectorComponentSignature struct {
	unique mask.Mask
	shared mask.Mask
}

// NewVectorComponentSignature precomputes the two mask lanes for a pair of
// unique/shared signatures.
func NewVectorComponentSignature(unique, shared ComponentSignature) VectorComponentSignature {
	return VectorComponentSignature{unique: unique.Mask(), shared: shared.Mask()}
}

// ContainsAll reports whether the archetype signature is a superset of query.
func (v VectorComponentSignature) ContainsAll(query VectorComponentSignature) bool {
	return v.unique.ContainsAll(query.unique) && v.shared.ContainsAll(query.shared)
}

// ContainsAny reports whether the archetype signature intersects query.
func (v VectorComponentSignature) ContainsAny(query VectorComponentSignature) bool {
	return v.unique.ContainsAny(query.unique) || v.shared.ContainsAny(query.shared)
}

// ContainsNone reports whether the archetype signature has no overlap with query.
func (v VectorComponentSignature) ContainsNone(query VectorComponentSignature) bool {
	return v.unique.ContainsNone(query.unique) && v.shared.ContainsNone(query.shared)
}
