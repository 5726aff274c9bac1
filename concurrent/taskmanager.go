// Package concurrent implements the task manager (spec §4.9) and task
// scheduler (spec §4.10): a fixed worker pool executing a totally ordered
// static task list interleaved with dynamic tasks, and the dependency-graph
// solver that builds that static list from named elements.
package concurrent

import (
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/forgelake/warehouse/ecsalloc"
)

// dynamicRingBytes is the per-thread ring buffer size spec §4.9 calls out
// ("~25 KiB") for staging dynamic task name/data payloads.
const dynamicRingBytes = 25 * 1024

// Logger is the task manager's package-level logger, left at a no-op level
// by default so the core stays silent unless a host wires output (mirrors
// the teacher's bark.AddTrace convention, generalized to zerolog for the
// subsystems with genuine runtime event streams).
var Logger = zerolog.New(io.Discard).Level(zerolog.Disabled)

// FrameFlusher is invoked by the terminal "finish frame" static task to
// replay the entity manager's deferred command streams (spec §4.9).
type FrameFlusher func() error

// Manager is the task manager of spec §4.9.
type Manager struct {
	workerCount int
	queues      []*ThreadQueue
	threadScratch []*ecsalloc.LinearAllocator
	dynamicRing   []*ecsalloc.LinearAllocator
	staticAlloc   *ecsalloc.LinearAllocator

	staticTasks []StaticTask
	onces       []*sync.Once
	frameGen    int32
	rrCursor    int32

	barrierMu    sync.Mutex
	barrierState map[int]*barrierState

	frameDone int32
	frameSem  chan struct{}
	wakeCond  []*sync.Cond
	wakeMu    []*sync.Mutex
	exiting   int32

	wait WaitPolicy

	flush FrameFlusher

	deltaTime     atomic.Value // float64
	frameStart    time.Time
	frameStartMu  sync.Mutex

	wg sync.WaitGroup
}

type barrierState struct {
	mu      sync.Mutex
	cond    *sync.Cond
	arrived int32
	phase   barrierPhase
}

// NewManager constructs a task manager with n workers, each given its own
// cache-line-padded queue, per-thread scratch allocator, and dynamic-task
// ring buffer (spec §4.9).
func NewManager(n int, wait WaitPolicy, queueCapacity int) *Manager {
	m := &Manager{
		workerCount:  n,
		queues:       make([]*ThreadQueue, n),
		threadScratch: make([]*ecsalloc.LinearAllocator, n),
		dynamicRing:   make([]*ecsalloc.LinearAllocator, n),
		staticAlloc:   ecsalloc.NewLinearAllocator(64 * 1024),
		barrierState:  make(map[int]*barrierState),
		frameSem:      make(chan struct{}, 1),
		wakeCond:      make([]*sync.Cond, n),
		wakeMu:        make([]*sync.Mutex, n),
		wait:          wait,
	}
	m.deltaTime.Store(float64(0))
	for i := 0; i < n; i++ {
		m.queues[i] = NewThreadQueue(queueCapacity)
		m.threadScratch[i] = ecsalloc.NewLinearAllocator(16 * 1024)
		m.dynamicRing[i] = ecsalloc.NewLinearAllocator(dynamicRingBytes)
		m.wakeMu[i] = &sync.Mutex{}
		m.wakeCond[i] = sync.NewCond(m.wakeMu[i])
	}
	return m
}

// SetStaticTasks installs the scheduler-ordered static task list.
func (m *Manager) SetStaticTasks(tasks []StaticTask) {
	m.staticTasks = tasks
	m.onces = make([]*sync.Once, len(tasks))
	for i := range m.onces {
		m.onces[i] = &sync.Once{}
	}
}

// SetFlusher installs the entity manager's deferred-command flush callback,
// invoked by the terminal "finish frame" static task.
func (m *Manager) SetFlusher(f FrameFlusher) { m.flush = f }

// DeltaTime returns the delta time recorded by the last frame's final
// dynamic task (spec §4.9).
func (m *Manager) DeltaTime() float64 { return m.deltaTime.Load().(float64) }

// CreateThreads spawns the worker goroutines and detaches them; they run
// until Terminate is called (spec §5 "Thread lifecycle").
func (m *Manager) CreateThreads() {
	Logger.Debug().Int("workers", m.workerCount).Msg("worker pool starting")
	for i := 0; i < m.workerCount; i++ {
		m.wg.Add(1)
		go m.workerLoop(i)
	}
}

// Terminate signals every worker to exit after its current task and waits
// for them to stop.
func (m *Manager) Terminate() {
	atomic.StoreInt32(&m.exiting, 1)
	for i := range m.wakeCond {
		m.wakeCond[i].Broadcast()
	}
	m.wg.Wait()
	Logger.Debug().Int("workers", m.workerCount).Msg("worker pool stopped")
}

func (m *Manager) workerLoop(id int) {
	defer m.wg.Done()
	Logger.Debug().Int("worker", id).Msg("worker started")
	defer Logger.Debug().Int("worker", id).Msg("worker stopped")
	even := id%2 == 0
	pos := -1 // no static tasks until the first DoFrame bumps frameGen
	lastGen := atomic.LoadInt32(&m.frameGen)
	for atomic.LoadInt32(&m.exiting) == 0 {
		if gen := atomic.LoadInt32(&m.frameGen); gen != lastGen {
			lastGen = gen
			pos = 0
		}
		if task, ok := m.queues[id].PopFront(); ok {
			task.invoke(id)
			continue
		}
		if m.wait.Has(Steal) {
			if task, ok := m.stealFrom(id, even); ok {
				task.invoke(id)
				continue
			}
		}
		if pos >= 0 && pos < len(m.staticTasks) {
			m.runStatic(id, pos)
			pos++
			continue
		}
		m.idle(id)
	}
}

func (m *Manager) stealFrom(self int, evenDirection bool) (DynamicTask, bool) {
	n := len(m.queues)
	for step := 1; step < n; step++ {
		var peer int
		if evenDirection {
			peer = (self + step) % n
		} else {
			peer = (self - step + n) % n
		}
		if task, ok := m.queues[peer].StealTail(); ok {
			Logger.Debug().Int("thief", self).Int("victim", peer).Str("task", task.Name).Msg("stole dynamic task")
			return task, true
		}
	}
	return DynamicTask{}, false
}

// runStatic dispatches static task idx. Every worker walks every index
// locally (spec §4.9 "the first worker that reaches them"): an ordinary
// task runs exactly once, via sync.Once, which also blocks every other
// worker reaching the same index until that run completes — preserving the
// "a barrier observes the effects of all preceding static tasks" guarantee
// (spec §5) even though tasks aren't claimed through a single shared
// cursor. A barrier task instead runs through the arrival-counting state
// machine in runBarrier, since all Target workers must be able to reach it.
func (m *Manager) runStatic(worker, idx int) {
	task := m.staticTasks[idx]
	if task.Barrier {
		m.runBarrier(worker, idx, task)
		return
	}
	m.onces[idx].Do(func() { task.invoke(worker) })
}

func (m *Manager) runBarrier(worker, idx int, task StaticTask) {
	m.barrierMu.Lock()
	st, ok := m.barrierState[idx]
	if !ok {
		st = &barrierState{phase: barrierEntering}
		st.cond = sync.NewCond(&st.mu)
		m.barrierState[idx] = st
	}
	m.barrierMu.Unlock()

	st.mu.Lock()
	st.arrived++
	if st.arrived == 1 {
		for st.arrived < int32(task.Target) {
			st.cond.Wait()
		}
		st.mu.Unlock()
		task.invoke(worker)
		st.mu.Lock()
		st.phase = barrierServed
		st.cond.Broadcast()
		st.mu.Unlock()
		return
	}
	if st.arrived == int32(task.Target) {
		st.cond.Broadcast()
	}
	for st.phase != barrierServed {
		st.cond.Wait()
	}
	st.mu.Unlock()
}

func (m *Manager) idle(id int) {
	if m.wait.Has(Spin) {
		return
	}
	if m.wait.Has(Sleep) {
		m.wakeMu[id].Lock()
		m.wakeCond[id].Wait()
		m.wakeMu[id].Unlock()
	}
}

// AddDynamicTask rotates through worker queues and pushes t onto the next
// one in round-robin order (spec §4.9).
func (m *Manager) AddDynamicTask(t DynamicTask) error {
	idx := int(atomic.AddInt32(&m.rrCursor, 1)-1) % len(m.queues)
	return m.AddDynamicTaskWithAffinity(t, idx)
}

// AddDynamicTaskWithAffinity pushes t onto queue tid specifically.
func (m *Manager) AddDynamicTaskWithAffinity(t DynamicTask, tid int) error {
	if tid < 0 || tid >= len(m.queues) {
		return fmt.Errorf("concurrent: worker %d out of range", tid)
	}
	if !m.queues[tid].Push(t) {
		return fmt.Errorf("concurrent: worker %d queue is full", tid)
	}
	return nil
}

// AddDynamicTaskAndWake is AddDynamicTask followed by waking the target
// worker's condition variable.
func (m *Manager) AddDynamicTaskAndWake(t DynamicTask) error {
	idx := int(atomic.AddInt32(&m.rrCursor, 1)-1) % len(m.queues)
	if err := m.AddDynamicTaskWithAffinity(t, idx); err != nil {
		return err
	}
	m.wakeCond[idx].Broadcast()
	return nil
}

// AddDynamicTaskGroup partitions n identical tasks evenly across workers
// (spec §4.9).
func (m *Manager) AddDynamicTaskGroup(n int, factory func(i int) DynamicTask) error {
	for i := 0; i < n; i++ {
		tid := i % len(m.queues)
		if err := m.AddDynamicTaskWithAffinity(factory(i), tid); err != nil {
			return err
		}
	}
	return nil
}

// DoFrame clears the static cursor and frame-done counter and wakes the
// worker pool created by CreateThreads. If wait is true it blocks on the
// frame-done semaphore, which the terminal FinishFrameTask's per-thread
// decrement signals once every worker has reported in (spec §4.9).
func (m *Manager) DoFrame(wait bool) {
	Logger.Debug().Int32("frame", atomic.LoadInt32(&m.frameGen)+1).Msg("frame starting")
	for i := range m.onces {
		m.onces[i] = &sync.Once{}
	}
	m.barrierMu.Lock()
	m.barrierState = make(map[int]*barrierState)
	m.barrierMu.Unlock()
	atomic.StoreInt32(&m.frameDone, int32(m.workerCount))
	m.frameStartMu.Lock()
	m.frameStart = time.Now()
	m.frameStartMu.Unlock()
	atomic.AddInt32(&m.frameGen, 1)

	for i := range m.wakeCond {
		m.wakeCond[i].Broadcast()
	}

	if !wait {
		return
	}
	<-m.frameSem
}

// finishFrame flushes the entity manager's deferred commands, the terminal
// static task's job per spec §4.9.
func (m *Manager) finishFrame() {
	if m.flush != nil {
		if err := m.flush(); err != nil {
			Logger.Error().Err(err).Msg("frame flush failed")
		}
	}
	Logger.Debug().Int32("frame", atomic.LoadInt32(&m.frameGen)).Msg("frame finished")
}

// FinishFrameTask returns the terminal barrier static task spec §4.9
// describes: the first worker to arrive runs it serially (flushing deferred
// commands), after which it fans out a per-thread dynamic task that
// decrements the frame-done counter; the last one out records delta time
// and signals DoFrame's waiter.
func (m *Manager) FinishFrameTask() StaticTask {
	return StaticTask{
		Name:    "finish_frame",
		Target:  int32(m.workerCount),
		Barrier: true,
		Fn: func(worker int, data []byte) {
			m.finishFrame()
			_ = m.AddDynamicTaskGroup(m.workerCount, func(i int) DynamicTask {
				return DynamicTask{
					Name: "frame_done",
					Fn: func(worker int, data []byte) {
						if atomic.AddInt32(&m.frameDone, -1) == 0 {
							m.frameStartMu.Lock()
							m.RecordDeltaTime(time.Since(m.frameStart).Seconds())
							m.frameStartMu.Unlock()
							select {
							case m.frameSem <- struct{}{}:
							default:
							}
						}
					},
				}
			})
		},
	}
}

// RecordDeltaTime stores the timer-computed delta for the frame just
// finished, the "last-out" dynamic task's responsibility in spec §4.9.
func (m *Manager) RecordDeltaTime(dt float64) { m.deltaTime.Store(dt) }

// ThreadScratch returns worker id's per-frame scoped scratch allocator.
func (m *Manager) ThreadScratch(id int) *ecsalloc.LinearAllocator { return m.threadScratch[id] }

// DynamicRing returns worker id's dynamic-task staging ring allocator.
func (m *Manager) DynamicRing(id int) *ecsalloc.LinearAllocator { return m.dynamicRing[id] }

// StaticAllocator returns the linear allocator backing static task
// name/data payloads.
func (m *Manager) StaticAllocator() *ecsalloc.LinearAllocator { return m.staticAlloc }
