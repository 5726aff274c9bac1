package warehouse

import (
	"testing"
)

func TestCommandStreamPushFlushDestroyEntity(t *testing.T) {
	sto := newSharedTestStorage(t)
	posComp := FactoryNewComponent[Position]()
	uniqueSig := NewComponentSignature(ComponentID(posComp.ID()))

	ids, err := sto.CreateEntitiesWithShared(1, uniqueSig, ComponentSignature{}, []Component{posComp}, nil)
	if err != nil {
		t.Fatalf("CreateEntitiesWithShared: %v", err)
	}
	id := ids[0]

	stream := NewCommandStream(0)
	if err := stream.PushDestroyEntity(id, DebugInfo{File: "t.go", Line: 1}); err != nil {
		t.Fatalf("PushDestroyEntity: %v", err)
	}
	if stream.Len() != 1 {
		t.Fatalf("expected 1 buffered command, got %d", stream.Len())
	}

	if err := stream.Flush(sto); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if stream.Len() != 0 {
		t.Fatalf("expected stream to be empty after flush")
	}
	if _, _, _, _, err := sto.resolveEntity(id); err == nil {
		t.Fatalf("expected destroyed entity to be unresolvable after flush")
	}
}

func TestCommandStreamSharedComponentLifecycle(t *testing.T) {
	sto := newSharedTestStorage(t)
	posComp := FactoryNewComponent[Position]()
	uniqueSig := NewComponentSignature(ComponentID(posComp.ID()))
	inst := newTeamInstance(t, sto, 1)

	ids, err := sto.CreateEntitiesWithShared(1, uniqueSig, ComponentSignature{}, []Component{posComp}, nil)
	if err != nil {
		t.Fatalf("CreateEntitiesWithShared: %v", err)
	}
	id := ids[0]

	stream := NewCommandStream(0)
	if err := stream.PushAddSharedComponent(id, teamComponent, inst, DebugInfo{}); err != nil {
		t.Fatalf("PushAddSharedComponent: %v", err)
	}
	if err := stream.Flush(sto); err != nil {
		t.Fatalf("Flush add: %v", err)
	}
	if _, _, main, _, err := sto.resolveEntity(id); err != nil || !main.SharedSignature.Contains(teamComponent) {
		t.Fatalf("expected shared component present after flush, err=%v", err)
	}

	if err := stream.PushRemoveSharedComponent(id, teamComponent, DebugInfo{}); err != nil {
		t.Fatalf("PushRemoveSharedComponent: %v", err)
	}
	if err := stream.Flush(sto); err != nil {
		t.Fatalf("Flush remove: %v", err)
	}
	if _, _, main, _, err := sto.resolveEntity(id); err != nil || main.SharedSignature.Contains(teamComponent) {
		t.Fatalf("expected shared component gone after flush, err=%v", err)
	}
}

func TestCommandStreamSetAndRemoveParent(t *testing.T) {
	sto := newSharedTestStorage(t)
	posComp := FactoryNewComponent[Position]()
	uniqueSig := NewComponentSignature(ComponentID(posComp.ID()))

	ids, err := sto.CreateEntitiesWithShared(2, uniqueSig, ComponentSignature{}, []Component{posComp}, nil)
	if err != nil {
		t.Fatalf("CreateEntitiesWithShared: %v", err)
	}
	parent, child := ids[0], ids[1]

	stream := NewCommandStream(0)
	if err := stream.PushSetParent(parent, child, DebugInfo{}); err != nil {
		t.Fatalf("PushSetParent: %v", err)
	}
	if err := stream.Flush(sto); err != nil {
		t.Fatalf("Flush set parent: %v", err)
	}
	if got, ok := sto.hierarchy.GetParent(child); !ok || got != parent {
		t.Fatalf("expected child's parent to be %v, got %v (ok=%v)", parent, got, ok)
	}

	if err := stream.PushRemoveParent(child, DebugInfo{}); err != nil {
		t.Fatalf("PushRemoveParent: %v", err)
	}
	if err := stream.Flush(sto); err != nil {
		t.Fatalf("Flush remove parent: %v", err)
	}
	if _, ok := sto.hierarchy.GetParent(child); ok {
		t.Fatalf("expected child to have no parent after remove")
	}
}

func TestCommandStreamAddRemoveComponents(t *testing.T) {
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
	stream := NewCommandStream(0)
	if err := stream.PushAddComponents(id, velSig, []Component{velComp}, nil, DebugInfo{}); err != nil {
		t.Fatalf("PushAddComponents: %v", err)
	}
	if err := stream.Flush(sto); err != nil {
		t.Fatalf("Flush add: %v", err)
	}
	if _, _, main, _, err := sto.resolveEntity(id); err != nil || !main.UniqueSignature.Contains(ComponentID(velComp.ID())) {
		t.Fatalf("expected velocity present after flush, err=%v", err)
	}

	if err := stream.PushRemoveComponents(id, velSig, DebugInfo{}); err != nil {
		t.Fatalf("PushRemoveComponents: %v", err)
	}
	if err := stream.Flush(sto); err != nil {
		t.Fatalf("Flush remove: %v", err)
	}
	if _, _, main, _, err := sto.resolveEntity(id); err != nil || main.UniqueSignature.Contains(ComponentID(velComp.ID())) {
		t.Fatalf("expected velocity gone after flush, err=%v", err)
	}
}

func TestCommandStreamFullError(t *testing.T) {
	stream := NewCommandStream(1)
	if err := stream.PushDestroyEntity(EntitySentinel, DebugInfo{}); err != nil {
		t.Fatalf("first push: %v", err)
	}
	err := stream.PushDestroyEntity(EntitySentinel, DebugInfo{})
	if _, ok := err.(CommandStreamFullError); !ok {
		t.Fatalf("expected CommandStreamFullError, got %v", err)
	}
}

func TestCommandStreamFlushWrapsDispatchError(t *testing.T) {
	sto := newSharedTestStorage(t)
	stream := NewCommandStream(0)
	bogus := NewEntityID(9999, 0)
	if err := stream.PushDestroyEntity(bogus, DebugInfo{File: "ops.go", Function: "destroy", Line: 42}); err != nil {
		t.Fatalf("PushDestroyEntity: %v", err)
	}
	if err := stream.Flush(sto); err == nil {
		t.Fatalf("expected Flush to surface the dispatch error for an invalid entity")
	}
}
