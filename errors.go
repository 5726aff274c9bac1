package warehouse

import "fmt"

type LockedStorageError struct{}

func (e LockedStorageError) Error() string {
	return fmt.Sprintf("storage is currently locked")
}

type EntityRelationError struct {
	child, parent Entity
}

func (e EntityRelationError) Error() string {
	return fmt.Sprintf("child (%v) already has parent %v", e.child, e.parent)
}

type ComponentExistsError struct {
	Component Component
}

func (e ComponentExistsError) Error() string {
	return fmt.Sprintf("component already exists on entity: %T", e.Component)
}

type ComponentNotFoundError struct {
	Component Component
}

func (e ComponentNotFoundError) Error() string {
	return fmt.Sprintf("component does not exist on entity: %T", e.Component)
}

// InvalidEntityError is returned when a stale or out-of-range entity is
// passed to any lookup that is not an explicit try_* variant.
type InvalidEntityError struct {
	Entity any
}

func (e InvalidEntityError) Error() string {
	return fmt.Sprintf("invalid entity: %v", e.Entity)
}

// ComponentNotRegisteredError is returned when an id has no registry entry.
type ComponentNotRegisteredError struct {
	ID ComponentID
}

func (e ComponentNotRegisteredError) Error() string {
	return fmt.Sprintf("component %d is not registered", e.ID)
}

// ComponentAlreadyRegisteredError is returned by a duplicate register_* call.
type ComponentAlreadyRegisteredError struct {
	ID ComponentID
}

func (e ComponentAlreadyRegisteredError) Error() string {
	return fmt.Sprintf("component %d is already registered", e.ID)
}

// ComponentAllocatorMissingError is returned when buffer descriptors were
// supplied but the component's arena size is zero.
type ComponentAllocatorMissingError struct {
	ID ComponentID
}

func (e ComponentAllocatorMissingError) Error() string {
	return fmt.Sprintf("component %d declares buffer descriptors but has no allocator", e.ID)
}

// ComponentTooLargeError is returned when a component's declared byte size
// exceeds what a single archetype column can host.
type ComponentTooLargeError struct {
	ID   ComponentID
	Size int
}

func (e ComponentTooLargeError) Error() string {
	return fmt.Sprintf("component %d has size %d, which exceeds the maximum column size", e.ID, e.Size)
}

// SharedInstanceMissingError is returned when a handle has no registry blob.
type SharedInstanceMissingError struct {
	Component ComponentID
	Instance  SharedInstance
}

func (e SharedInstanceMissingError) Error() string {
	return fmt.Sprintf("shared instance %d of component %d does not exist", e.Instance, e.Component)
}

// NamedSharedInstanceMissingError is returned by get_named/bind_named misses.
type NamedSharedInstanceMissingError struct {
	Name string
}

func (e NamedSharedInstanceMissingError) Error() string {
	return fmt.Sprintf("named shared instance %q does not exist", e.Name)
}

// ArchetypeMissingError is returned when a main archetype index is stale.
type ArchetypeMissingError struct {
	Index uint32
}

func (e ArchetypeMissingError) Error() string {
	return fmt.Sprintf("archetype %d does not exist", e.Index)
}

// BaseArchetypeMissingError is returned when a base index is stale.
type BaseArchetypeMissingError struct {
	Archetype uint32
	Base      uint32
}

func (e BaseArchetypeMissingError) Error() string {
	return fmt.Sprintf("base %d of archetype %d does not exist", e.Base, e.Archetype)
}

// ArchetypeSignatureLimitExceededError is returned when a signature would
// exceed MaxUniqueComponents or MaxSharedComponents.
type ArchetypeSignatureLimitExceededError struct {
	Unique, Shared int
}

func (e ArchetypeSignatureLimitExceededError) Error() string {
	return fmt.Sprintf(
		"archetype signature limit exceeded: %d unique (max %d), %d shared (max %d)",
		e.Unique, MaxUniqueComponents, e.Shared, MaxSharedComponents,
	)
}

// IncompatibleCopyModeError is returned when a CopyMode doesn't match the
// shape of the data passed to a bulk-write operation.
type IncompatibleCopyModeError struct {
	Mode CopyMode
}

func (e IncompatibleCopyModeError) Error() string {
	return fmt.Sprintf("copy mode %v is incompatible with the supplied data layout", e.Mode)
}

// CommandStreamFullError is returned when a command stream cannot accept
// another record (its record capacity is reached).
type CommandStreamFullError struct{}

func (e CommandStreamFullError) Error() string {
	return "command stream is full"
}

// HierarchyCycleError is returned when an edge would make a child its own
// ancestor.
type HierarchyCycleError struct {
	Parent, Child Entity
}

func (e HierarchyCycleError) Error() string {
	return fmt.Sprintf("hierarchy edge %v -> %v would create a cycle", e.Parent, e.Child)
}

// HierarchyEntryMissingError is returned by a hierarchy lookup for an entity
// that has no parent/children entry.
type HierarchyEntryMissingError struct {
	Entity Entity
}

func (e HierarchyEntryMissingError) Error() string {
	return fmt.Sprintf("entity %v has no hierarchy entry", e.Entity)
}
