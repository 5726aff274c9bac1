package warehouse

import (
	"testing"

	"github.com/TheBitDrifter/table"
)

const teamComponent ComponentID = 500

func newSharedTestStorage(t *testing.T) *storage {
	t.Helper()
	schema := table.Factory.NewSchema()
	sto := newStorage(schema).(*storage)
	if err := sto.registry.RegisterShared(teamComponent, 0, 0, "team", nil); err != nil {
		t.Fatalf("RegisterShared: %v", err)
	}
	return sto
}

func newTeamInstance(t *testing.T, sto *storage, tag byte) SharedInstance {
	t.Helper()
	inst, err := sto.registry.CreateSharedInstance(teamComponent, []byte{tag}, false)
	if err != nil {
		t.Fatalf("CreateSharedInstance: %v", err)
	}
	return inst
}

func TestCreateEntitiesWithShared(t *testing.T) {
	sto := newSharedTestStorage(t)
	posComp := FactoryNewComponent[Position]()
	uniqueSig := NewComponentSignature(ComponentID(posComp.ID()))
	sharedSig := NewComponentSignature(teamComponent)
	inst := newTeamInstance(t, sto, 1)

	ids, err := sto.CreateEntitiesWithShared(3, uniqueSig, sharedSig, []Component{posComp}, []SharedInstance{inst})
	if err != nil {
		t.Fatalf("CreateEntitiesWithShared: %v", err)
	}
	if len(ids) != 3 {
		t.Fatalf("expected 3 entities, got %d", len(ids))
	}
	for _, id := range ids {
		if id == EntitySentinel {
			t.Errorf("expected a non-sentinel EntityID")
		}
		if _, _, _, _, err := sto.resolveEntity(id); err != nil {
			t.Errorf("resolveEntity(%v): %v", id, err)
		}
	}
}

func TestAddRemoveChangeSharedComponentCommit(t *testing.T) {
	sto := newSharedTestStorage(t)
	posComp := FactoryNewComponent[Position]()
	uniqueSig := NewComponentSignature(ComponentID(posComp.ID()))
	instA := newTeamInstance(t, sto, 1)
	instB := newTeamInstance(t, sto, 2)

	ids, err := sto.CreateEntitiesWithShared(1, uniqueSig, ComponentSignature{}, []Component{posComp}, nil)
	if err != nil {
		t.Fatalf("CreateEntitiesWithShared: %v", err)
	}
	id := ids[0]

	if err := sto.AddSharedComponentCommit(id, teamComponent, instA); err != nil {
		t.Fatalf("AddSharedComponentCommit: %v", err)
	}
	_, info, main, _, err := sto.resolveEntity(id)
	if err != nil {
		t.Fatalf("resolveEntity after add: %v", err)
	}
	if !main.SharedSignature.Contains(teamComponent) {
		t.Fatalf("expected archetype to carry the shared component after add")
	}
	_ = info

	if err := sto.ChangeSharedInstanceCommit(id, teamComponent, instB); err != nil {
		t.Fatalf("ChangeSharedInstanceCommit: %v", err)
	}
	_, _, _, base, err := sto.resolveEntity(id)
	if err != nil {
		t.Fatalf("resolveEntity after change: %v", err)
	}
	if base.SharedTuple[0] != instB {
		t.Fatalf("expected repinned instance %v, got %v", instB, base.SharedTuple[0])
	}

	if err := sto.RemoveSharedComponentCommit(id, teamComponent); err != nil {
		t.Fatalf("RemoveSharedComponentCommit: %v", err)
	}
	_, _, main, _, err = sto.resolveEntity(id)
	if err != nil {
		t.Fatalf("resolveEntity after remove: %v", err)
	}
	if main.SharedSignature.Contains(teamComponent) {
		t.Fatalf("expected shared component gone after remove")
	}
}

func TestChangeSharedInstanceCommitMissingComponent(t *testing.T) {
	sto := newSharedTestStorage(t)
	posComp := FactoryNewComponent[Position]()
	uniqueSig := NewComponentSignature(ComponentID(posComp.ID()))
	inst := newTeamInstance(t, sto, 1)

	ids, err := sto.CreateEntitiesWithShared(1, uniqueSig, ComponentSignature{}, []Component{posComp}, nil)
	if err != nil {
		t.Fatalf("CreateEntitiesWithShared: %v", err)
	}

	err = sto.ChangeSharedInstanceCommit(ids[0], teamComponent, inst)
	if _, ok := err.(SharedInstanceMissingError); !ok {
		t.Fatalf("expected SharedInstanceMissingError, got %v", err)
	}
}

func TestDestroyEntityWithSharedInvalidatesHandle(t *testing.T) {
	sto := newSharedTestStorage(t)
	posComp := FactoryNewComponent[Position]()
	uniqueSig := NewComponentSignature(ComponentID(posComp.ID()))

	ids, err := sto.CreateEntitiesWithShared(1, uniqueSig, ComponentSignature{}, []Component{posComp}, nil)
	if err != nil {
		t.Fatalf("CreateEntitiesWithShared: %v", err)
	}
	id := ids[0]

	if err := sto.DestroyEntityWithShared(id); err != nil {
		t.Fatalf("DestroyEntityWithShared: %v", err)
	}
	if _, _, _, _, err := sto.resolveEntity(id); err == nil {
		t.Fatalf("expected resolveEntity to reject the destroyed handle")
	}
}

func TestCopyEntityWithChildren(t *testing.T) {
	sto := newSharedTestStorage(t)
	posComp := FactoryNewComponent[Position]()
	uniqueSig := NewComponentSignature(ComponentID(posComp.ID()))

	ids, err := sto.CreateEntitiesWithShared(3, uniqueSig, ComponentSignature{}, []Component{posComp}, nil)
	if err != nil {
		t.Fatalf("CreateEntitiesWithShared: %v", err)
	}
	parent, childA, childB := ids[0], ids[1], ids[2]
	if err := sto.hierarchy.AddEntry(parent, childA); err != nil {
		t.Fatalf("AddEntry: %v", err)
	}
	if err := sto.hierarchy.AddEntry(childA, childB); err != nil {
		t.Fatalf("AddEntry: %v", err)
	}

	copies, err := sto.CopyEntityWithChildren(parent, 1, true)
	if err != nil {
		t.Fatalf("CopyEntityWithChildren: %v", err)
	}
	if len(copies) != 1 {
		t.Fatalf("expected 1 copy, got %d", len(copies))
	}
	newParent := copies[0]
	if newParent == parent {
		t.Fatalf("expected a fresh EntityID for the copy")
	}

	children := sto.hierarchy.GetChildren(newParent)
	if len(children) != 1 {
		t.Fatalf("expected the copy to have exactly one child, got %d", len(children))
	}
	grandchildren := sto.hierarchy.GetChildren(children[0])
	if len(grandchildren) != 1 {
		t.Fatalf("expected the copied child to have exactly one child, got %d", len(grandchildren))
	}

	for _, original := range []EntityID{parent, childA, childB} {
		if _, _, _, _, err := sto.resolveEntity(original); err != nil {
			t.Errorf("expected original entity %v to survive the copy: %v", original, err)
		}
	}
}

func TestCopyEntityWithChildrenSplatsNClones(t *testing.T) {
	sto := newSharedTestStorage(t)
	posComp := FactoryNewComponent[Position]()
	uniqueSig := NewComponentSignature(ComponentID(posComp.ID()))

	ids, err := sto.CreateEntitiesWithShared(1, uniqueSig, ComponentSignature{}, []Component{posComp}, nil)
	if err != nil {
		t.Fatalf("CreateEntitiesWithShared: %v", err)
	}
	src := ids[0]

	copies, err := sto.CopyEntityWithChildren(src, 3, false)
	if err != nil {
		t.Fatalf("CopyEntityWithChildren: %v", err)
	}
	if len(copies) != 3 {
		t.Fatalf("expected 3 clones, got %d", len(copies))
	}
	seen := map[EntityID]bool{src: true}
	for _, c := range copies {
		if seen[c] {
			t.Fatalf("expected distinct EntityIDs per clone, got duplicate %v", c)
		}
		seen[c] = true
		if _, _, _, _, err := sto.resolveEntity(c); err != nil {
			t.Errorf("resolveEntity(%v): %v", c, err)
		}
	}
	if _, _, _, _, err := sto.resolveEntity(src); err != nil {
		t.Errorf("expected source to survive copy_entity: %v", err)
	}
}

func TestAddRemoveComponentsCommitRoundTrip(t *testing.T) {
	sto := newSharedTestStorage(t)
	posComp := FactoryNewComponent[Position]()
	velComp := FactoryNewComponent[Velocity]()
	uniqueSig := NewComponentSignature(ComponentID(posComp.ID()))

	ids, err := sto.CreateEntitiesWithShared(1, uniqueSig, ComponentSignature{}, []Component{posComp}, nil)
	if err != nil {
		t.Fatalf("CreateEntitiesWithShared: %v", err)
	}
	id := ids[0]

	velSig := NewComponentSignature(ComponentID(velComp.ID()))
	if err := sto.AddComponentsCommit(id, velSig, []Component{velComp}, nil); err != nil {
		t.Fatalf("AddComponentsCommit: %v", err)
	}
	_, _, main, _, err := sto.resolveEntity(id)
	if err != nil {
		t.Fatalf("resolveEntity after add: %v", err)
	}
	if !main.UniqueSignature.Contains(ComponentID(velComp.ID())) || !main.UniqueSignature.Contains(ComponentID(posComp.ID())) {
		t.Fatalf("expected entity to carry both position and velocity after add_components")
	}

	if err := sto.RemoveComponentsCommit(id, velSig); err != nil {
		t.Fatalf("RemoveComponentsCommit: %v", err)
	}
	_, _, main, _, err = sto.resolveEntity(id)
	if err != nil {
		t.Fatalf("resolveEntity after remove: %v", err)
	}
	if main.UniqueSignature.Contains(ComponentID(velComp.ID())) {
		t.Fatalf("expected velocity gone after remove_components")
	}
	if !main.UniqueSignature.Contains(ComponentID(posComp.ID())) {
		t.Fatalf("expected entity to return to its original unique signature")
	}
	if main.UniqueSignature.Len() != uniqueSig.Len() {
		t.Fatalf("expected round trip to restore the original unique signature exactly, got len %d", main.UniqueSignature.Len())
	}
}

func TestAddComponentsCommitWritesSplatData(t *testing.T) {
	sto := newSharedTestStorage(t)
	posComp := FactoryNewComponent[Position]()
	velComp := FactoryNewComponent[Velocity]()
	uniqueSig := NewComponentSignature(ComponentID(posComp.ID()))

	ids, err := sto.CreateEntitiesWithShared(1, uniqueSig, ComponentSignature{}, []Component{posComp}, nil)
	if err != nil {
		t.Fatalf("CreateEntitiesWithShared: %v", err)
	}
	id := ids[0]

	velID := ComponentID(velComp.ID())
	velSig := NewComponentSignature(velID)
	const size = 16 // Velocity{X, Y float64}
	if err := sto.registry.RegisterUnique(velID, size, 0, "velocity", nil); err != nil {
		t.Fatalf("RegisterUnique(velocity): %v", err)
	}
	payload := make([]byte, size)
	if len(payload) > 0 {
		payload[0] = 7
	}
	data := &ComponentData{
		Mode:       CopySplat,
		Components: []ComponentID{velID},
		Sizes:      []int{size},
		Splat:      map[ComponentID][]byte{velID: payload},
	}
	if err := sto.AddComponentsCommit(id, velSig, []Component{velComp}, data); err != nil {
		t.Fatalf("AddComponentsCommit: %v", err)
	}

	_, info, _, base, err := sto.resolveEntity(id)
	if err != nil {
		t.Fatalf("resolveEntity: %v", err)
	}
	got, err := base.GetComponent(info, velID)
	if err != nil {
		t.Fatalf("GetComponent: %v", err)
	}
	if len(got) > 0 && len(payload) > 0 && got[0] != payload[0] {
		t.Fatalf("expected splat-written velocity byte %d, got %d", payload[0], got[0])
	}
}

func TestAddComponentsCommitArchetypeSignatureLimitExceeded(t *testing.T) {
	sto := newSharedTestStorage(t)
	base := FactoryNewComponent[Position]()
	uniqueSig := NewComponentSignature(ComponentID(base.ID()))

	ids, err := sto.CreateEntitiesWithShared(1, uniqueSig, ComponentSignature{}, []Component{base}, nil)
	if err != nil {
		t.Fatalf("CreateEntitiesWithShared: %v", err)
	}
	id := ids[0]

	for i := 0; i < MaxUniqueComponents; i++ {
		comp := FactoryNewComponent[Velocity]()
		sig := NewComponentSignature(ComponentID(comp.ID()))
		if err := sto.AddComponentsCommit(id, sig, []Component{comp}, nil); err != nil {
			if _, ok := err.(ArchetypeSignatureLimitExceededError); ok {
				return
			}
			t.Fatalf("AddComponentsCommit(%d): %v", i, err)
		}
	}
	t.Fatalf("expected ArchetypeSignatureLimitExceededError before exhausting MaxUniqueComponents headroom")
}
