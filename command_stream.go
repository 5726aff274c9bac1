package warehouse

import (
	"fmt"
	"sync"
)

// CommandTag identifies one deferred record kind in a CommandStream (spec
// module I). Only the subset of the original engine's ~30 record kinds that
// this module actually exercises are represented; each tag is replayed by a
// case of the switch in dispatchCommand.
type CommandTag uint8

const (
	CmdDestroyEntity CommandTag = iota
	CmdAddSharedComponent
	CmdRemoveSharedComponent
	CmdChangeSharedInstance
	CmdSetParent
	CmdRemoveParent
	CmdAddComponents
	CmdRemoveComponents
)

// DebugInfo is crash-context metadata carried alongside a deferred command,
// mirroring the original engine's per-record source location so a panic
// during flush can report where the command was issued (spec module I).
type DebugInfo struct {
	File     string
	Function string
	Line     int
}

// Command is one tagged deferred record. Payload holds the tag-specific
// argument struct (e.g. addSharedPayload) boxed as any — the dispatch table
// knows how to type-assert it back.
type Command struct {
	Tag     CommandTag
	Debug   DebugInfo
	Payload any
}

type addSharedPayload struct {
	Entity   EntityID
	Comp     ComponentID
	Instance SharedInstance
}

type removeSharedPayload struct {
	Entity EntityID
	Comp   ComponentID
}

type changeSharedPayload struct {
	Entity   EntityID
	Comp     ComponentID
	Instance SharedInstance
}

type destroyPayload struct {
	Entity EntityID
}

type setParentPayload struct {
	Parent, Child EntityID
}

type removeParentPayload struct {
	Child EntityID
}

type addComponentsPayload struct {
	Entity     EntityID
	Sig        ComponentSignature
	Components []Component
	Data       *ComponentData
}

type removeComponentsPayload struct {
	Entity EntityID
	Sig    ComponentSignature
}

// CommandStream buffers structural mutations for out-of-order submission
// (e.g. from worker goroutines) and replays them in FIFO order at Flush,
// capped at capacity (spec §4.9 "command stream full" failure).
type CommandStream struct {
	mu       sync.Mutex
	capacity int
	commands []Command
}

// NewCommandStream returns an empty stream bounded at capacity records.
// capacity <= 0 means unbounded.
func NewCommandStream(capacity int) *CommandStream {
	return &CommandStream{capacity: capacity}
}

func (s *CommandStream) push(tag CommandTag, payload any, dbg DebugInfo) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.capacity > 0 && len(s.commands) >= s.capacity {
		return CommandStreamFullError{}
	}
	s.commands = append(s.commands, Command{Tag: tag, Debug: dbg, Payload: payload})
	return nil
}

// PushDestroyEntity enqueues a deferred entity destruction.
func (s *CommandStream) PushDestroyEntity(e EntityID, dbg DebugInfo) error {
	return s.push(CmdDestroyEntity, destroyPayload{Entity: e}, dbg)
}

// PushAddSharedComponent enqueues a deferred add_shared_components call.
func (s *CommandStream) PushAddSharedComponent(e EntityID, comp ComponentID, inst SharedInstance, dbg DebugInfo) error {
	return s.push(CmdAddSharedComponent, addSharedPayload{Entity: e, Comp: comp, Instance: inst}, dbg)
}

// PushRemoveSharedComponent enqueues a deferred remove_shared_components call.
func (s *CommandStream) PushRemoveSharedComponent(e EntityID, comp ComponentID, dbg DebugInfo) error {
	return s.push(CmdRemoveSharedComponent, removeSharedPayload{Entity: e, Comp: comp}, dbg)
}

// PushChangeSharedInstance enqueues a deferred change_shared_instance call.
func (s *CommandStream) PushChangeSharedInstance(e EntityID, comp ComponentID, inst SharedInstance, dbg DebugInfo) error {
	return s.push(CmdChangeSharedInstance, changeSharedPayload{Entity: e, Comp: comp, Instance: inst}, dbg)
}

// PushAddComponents enqueues a deferred add_components call.
func (s *CommandStream) PushAddComponents(e EntityID, sig ComponentSignature, components []Component, data *ComponentData, dbg DebugInfo) error {
	return s.push(CmdAddComponents, addComponentsPayload{Entity: e, Sig: sig, Components: components, Data: data}, dbg)
}

// PushRemoveComponents enqueues a deferred remove_components call.
func (s *CommandStream) PushRemoveComponents(e EntityID, sig ComponentSignature, dbg DebugInfo) error {
	return s.push(CmdRemoveComponents, removeComponentsPayload{Entity: e, Sig: sig}, dbg)
}

// PushSetParent enqueues a deferred hierarchy edge.
func (s *CommandStream) PushSetParent(parent, child EntityID, dbg DebugInfo) error {
	return s.push(CmdSetParent, setParentPayload{Parent: parent, Child: child}, dbg)
}

// PushRemoveParent enqueues a deferred hierarchy detach.
func (s *CommandStream) PushRemoveParent(child EntityID, dbg DebugInfo) error {
	return s.push(CmdRemoveParent, removeParentPayload{Child: child}, dbg)
}

// Len reports the number of buffered, unflushed commands.
func (s *CommandStream) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.commands)
}

// Flush drains the stream into sto in FIFO order, stopping at the first
// dispatch error (with its DebugInfo attached) so the caller can report
// where the failing command was issued. The stream is emptied regardless.
func (s *CommandStream) Flush(sto *storage) error {
	s.mu.Lock()
	pending := s.commands
	s.commands = nil
	s.mu.Unlock()

	for _, cmd := range pending {
		if err := dispatchCommand(sto, cmd); err != nil {
			return fmt.Errorf("command %d at %s:%d (%s): %w", cmd.Tag, cmd.Debug.File, cmd.Debug.Line, cmd.Debug.Function, err)
		}
	}
	return nil
}

func dispatchCommand(sto *storage, cmd Command) error {
	switch cmd.Tag {
	case CmdDestroyEntity:
		p := cmd.Payload.(destroyPayload)
		return sto.DestroyEntityWithShared(p.Entity)
	case CmdAddSharedComponent:
		p := cmd.Payload.(addSharedPayload)
		return sto.AddSharedComponentCommit(p.Entity, p.Comp, p.Instance)
	case CmdRemoveSharedComponent:
		p := cmd.Payload.(removeSharedPayload)
		return sto.RemoveSharedComponentCommit(p.Entity, p.Comp)
	case CmdChangeSharedInstance:
		p := cmd.Payload.(changeSharedPayload)
		return sto.ChangeSharedInstanceCommit(p.Entity, p.Comp, p.Instance)
	case CmdSetParent:
		p := cmd.Payload.(setParentPayload)
		return sto.hierarchy.AddEntry(p.Parent, p.Child)
	case CmdRemoveParent:
		p := cmd.Payload.(removeParentPayload)
		sto.hierarchy.RemoveEntry(p.Child)
		return nil
	case CmdAddComponents:
		p := cmd.Payload.(addComponentsPayload)
		return sto.AddComponentsCommit(p.Entity, p.Sig, p.Components, p.Data)
	case CmdRemoveComponents:
		p := cmd.Payload.(removeComponentsPayload)
		return sto.RemoveComponentsCommit(p.Entity, p.Sig)
	default:
		return fmt.Errorf("unknown command tag %d", cmd.Tag)
	}
}
