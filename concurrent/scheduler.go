package concurrent

import (
	"fmt"
)

// logGroupName renders a Group for log output without pulling in a
// String() method the rest of the package has no other use for.
var logGroupName = [...]string{
	"InitializeEarly", "InitializeMid", "InitializeLate",
	"SimulateEarly", "SimulateMid", "SimulateLate",
	"FinalizeEarly", "FinalizeMid", "FinalizeLate",
}

// Group is one of the scheduler's ordered phases (spec §4.10).
type Group int

const (
	InitializeEarly Group = iota
	InitializeMid
	InitializeLate
	SimulateEarly
	SimulateMid
	SimulateLate
	FinalizeEarly
	FinalizeMid
	FinalizeLate
)

// AccessMode is a component access declared by a SchedulerElement's query,
// used by the query-conflict pass to detect read/write hazards between
// adjacent elements (spec §4.10 step 4).
type AccessMode int

const (
	Read AccessMode = iota
	Write
)

// ReadVisibility is a query's read-visibility mode (spec §4.10). Solve's
// conflict analysis does not read it: a same-component pair with a write
// forces a barrier at every visibility, and a read/read pair never does.
type ReadVisibility int

const (
	Lazy ReadVisibility = iota
	LatestSelection
	LatestAll
)

// ComponentAccess is one (component, mode) pair a SchedulerElement's query
// declares.
type ComponentAccess struct {
	Component uint32
	Mode      AccessMode
}

// Query groups a SchedulerElement's declared component accesses and its
// read-visibility mode.
type Query struct {
	Accesses   []ComponentAccess
	Visibility ReadVisibility
}

// SchedulerElement is one schedulable unit spec §4.10 describes.
type SchedulerElement struct {
	Name         string
	Fn           TaskFunc
	Dependencies []string
	Group        Group
	Query        *Query
	BarrierTask  bool

	// Initialize, if set, is invoked by SetTaskManagerTasks to build the
	// element's static task Data. PreserveData carries over a previous
	// run's data instead, when the previous data map handed to
	// SetTaskManagerTasks holds an entry for the element.
	Initialize   func() []byte
	PreserveData bool
}

// Scheduled is one element placed in final order, with the barrier flag
// the adjacent-pair passes may set.
type Scheduled struct {
	elem    SchedulerElement
	barrier bool
}

// Scheduler solves a dependency graph over SchedulerElements into an ordered
// static task list (spec §4.10).
type Scheduler struct {
	elements []SchedulerElement
}

// NewScheduler returns an empty scheduler.
func NewScheduler() *Scheduler { return &Scheduler{} }

// Add registers one element.
func (s *Scheduler) Add(e SchedulerElement) { s.elements = append(s.elements, e) }

// Solve runs the four-step algorithm of spec §4.10: group partition,
// topological sort within each group, adjacent-pair wait analysis, and
// query conflict analysis. It returns the final ordered, barrier-annotated
// list, or, as soon as one group's sort cannot make progress, a
// SchedulerCycleError naming every offending pair of that group.
func (s *Scheduler) Solve() ([]Scheduled, error) {
	groups := partitionByGroup(s.elements)

	var ordered []SchedulerElement
	for _, g := range groupOrder {
		sorted, err := topoSortGroup(groups[g])
		if err != nil {
			Logger.Error().Str("group", logGroupName[g]).Interface("pairs", err.(SchedulerCycleError).Pairs).Msg("scheduler dependency cycle")
			return nil, err
		}
		ordered = append(ordered, sorted...)
	}

	out := make([]Scheduled, len(ordered))
	for i, e := range ordered {
		out[i] = Scheduled{elem: e}
	}
	annotateDependencyBarriers(out)
	annotateQueryConflicts(out)
	Logger.Debug().Int("elements", len(out)).Msg("scheduler solved")
	return out, nil
}

var groupOrder = []Group{
	InitializeEarly, InitializeMid, InitializeLate,
	SimulateEarly, SimulateMid, SimulateLate,
	FinalizeEarly, FinalizeMid, FinalizeLate,
}

func partitionByGroup(elems []SchedulerElement) map[Group][]SchedulerElement {
	out := make(map[Group][]SchedulerElement)
	for _, e := range elems {
		out[e.Group] = append(out[e.Group], e)
	}
	return out
}

// topoSortGroup iteratively moves elements whose dependencies are all
// already scheduled (within this group; cross-group dependencies are
// satisfied automatically, spec §4.10 step 2) into the scheduled prefix.
func topoSortGroup(elems []SchedulerElement) ([]SchedulerElement, error) {
	remaining := append([]SchedulerElement{}, elems...)
	scheduledNames := make(map[string]bool)
	inGroup := make(map[string]bool, len(elems))
	for _, e := range elems {
		inGroup[e.Name] = true
	}

	var out []SchedulerElement
	for len(remaining) > 0 {
		progressed := false
		var next []SchedulerElement
		for _, e := range remaining {
			ready := true
			for _, dep := range e.Dependencies {
				if inGroup[dep] && !scheduledNames[dep] {
					ready = false
					break
				}
			}
			if ready {
				out = append(out, e)
				scheduledNames[e.Name] = true
				progressed = true
			} else {
				next = append(next, e)
			}
		}
		remaining = next
		if !progressed {
			var pairs [][2]string
			for _, e := range remaining {
				for _, dep := range e.Dependencies {
					if inGroup[dep] && !scheduledNames[dep] {
						pairs = append(pairs, [2]string{dep, e.Name})
					}
				}
			}
			return nil, SchedulerCycleError{Pairs: pairs}
		}
	}
	return out, nil
}

// SchedulerCycleError names every offending (name_a, name_b) pair found
// while trying to topologically order the scheduler's dependency graph.
type SchedulerCycleError struct {
	Pairs [][2]string
}

func (e SchedulerCycleError) Error() string {
	return fmt.Sprintf("concurrent: scheduler dependency cycle among pairs: %v", e.Pairs)
}

// annotateDependencyBarriers marks a barrier on the later of each adjacent
// pair when it declares the earlier as a dependency (spec §4.10 step 3).
func annotateDependencyBarriers(elems []Scheduled) {
	for i := 1; i < len(elems); i++ {
		for _, dep := range elems[i].elem.Dependencies {
			if dep == elems[i-1].elem.Name {
				elems[i].barrier = true
				break
			}
		}
	}
}

// annotateQueryConflicts marks a barrier when adjacent elements' queries
// conflict, per spec §4.10 step 4: both touch the same component and at
// least one of the two accesses is a write. Two reads of the same component
// never force a barrier, whatever the later element's Visibility.
func annotateQueryConflicts(elems []Scheduled) {
	for i := 1; i < len(elems); i++ {
		a, b := elems[i-1].elem.Query, elems[i].elem.Query
		if a == nil || b == nil {
			continue
		}
		if queriesConflict(a, b) {
			elems[i].barrier = true
		}
	}
}

func queriesConflict(a, b *Query) bool {
	for _, ac := range a.Accesses {
		for _, bc := range b.Accesses {
			if ac.Component != bc.Component {
				continue
			}
			if ac.Mode == Write || bc.Mode == Write {
				if b.Visibility == Lazy && ac.Mode == Read && bc.Mode == Read {
					continue
				}
				return true
			}
		}
	}
	return false
}

// SetTaskManagerTasks copies the solved, ordered elements into the task
// manager's static task list as one StaticTask per element (plus a trailing
// FinishFrameTask), invoking each element's Initialize function to build its
// task Data unless PreserveData is set and prev supplies a carried-over
// entry for that name (spec §4.10).
func (s *Scheduler) SetTaskManagerTasks(tm *Manager, prev map[string][]byte) (map[string][]byte, error) {
	solved, err := s.Solve()
	if err != nil {
		return nil, err
	}

	carry := make(map[string][]byte, len(solved))
	tasks := make([]StaticTask, 0, len(solved)+1)
	for _, sc := range solved {
		e := sc.elem
		var data []byte
		if e.PreserveData && prev != nil {
			if d, ok := prev[e.Name]; ok {
				data = d
			}
		}
		if data == nil && e.Initialize != nil {
			data = e.Initialize()
		}
		carry[e.Name] = data

		target := int32(1)
		if e.BarrierTask {
			target = int32(tm.workerCount)
		}
		tasks = append(tasks, StaticTask{
			Name:    e.Name,
			Fn:      e.Fn,
			Target:  target,
			Barrier: e.BarrierTask || sc.barrier,
			Data:    data,
		})
	}
	tasks = append(tasks, tm.FinishFrameTask())
	tm.SetStaticTasks(tasks)
	return carry, nil
}
