// Package scheduler couples the multi-core process scheduler to the
// demand-paged memory manager behind the single mutex spec.md's
// concurrency model calls for. It owns process admission, the tick
// loop that drives dispatch and instruction execution, the background
// generator for scheduler-test, and the counters screen/report-util
// read back out.
package scheduler

import (
	"errors"
	"fmt"
	"math/rand"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/loscuervos/csopesy/internal/config"
	"github.com/loscuervos/csopesy/internal/instruction"
	"github.com/loscuervos/csopesy/internal/memory"
	"github.com/loscuervos/csopesy/internal/process"
)

// tickPeriod is the scheduler's heartbeat: one CPU tick every 18ms,
// carried over unchanged from the reference implementation.
const tickPeriod = 18 * time.Millisecond

// sleepTickDelay is how long SLEEP's handler blocks within the tick it
// executes on — short enough to stay inside one tick's budget.
const sleepTickDelay = 2 * time.Millisecond

// ErrAdmissionRejected is returned when a process cannot be admitted:
// its name is already in use, its memory size is not a power of two in
// [64, 65536], or it asks for more memory than the system could ever
// grant it. The shell also wraps instruction syntax errors in it.
var ErrAdmissionRejected = errors.New("scheduler: admission rejected")

// ErrNotInitialized is returned by operations that require Initialize
// to have run first.
var ErrNotInitialized = errors.New("scheduler: not initialized")

// core models one CPU slot: the process it is running, if any, and how
// many ticks it has consumed of that process's current quantum.
type core struct {
	id      int
	proc    *process.PCB
	quantum int
}

// Scheduler is the single owner of the ready queue, the PCB registry,
// the CPU cores, and the memory manager. Every exported method that
// touches this state takes mu; nothing in this package assumes any
// finer-grained locking.
type Scheduler struct {
	mu sync.Mutex

	cfg     *config.Config
	mem     *memory.Manager
	cores   []core
	ready   []*process.PCB
	byID    map[uint64]*process.PCB
	byName  map[string]*process.PCB
	nextPID uint64

	initialized bool
	running     bool
	generating  bool
	stopGen     chan struct{}

	rng *rand.Rand

	ticks        atomic.Uint64
	activeTicks  atomic.Uint64
	idleTicks    atomic.Uint64
	pagedIn      atomic.Uint64
	pagedOut     atomic.Uint64
	finishedSeen bool
}

// New builds a Scheduler bound to cfg and mem. Call Initialize before
// admitting any process.
func New(cfg *config.Config, mem *memory.Manager) *Scheduler {
	s := &Scheduler{
		cfg:    cfg,
		mem:    mem,
		byID:   make(map[uint64]*process.PCB),
		byName: make(map[string]*process.PCB),
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	mem.SetStatsSink(s)
	return s
}

// PagedIn/PagedOut implement memory.StatsSink with lock-free counters so
// the memory manager's callers (which already hold s.mu) never have to
// reacquire it.
func (s *Scheduler) PagedIn()  { s.pagedIn.Add(1) }
func (s *Scheduler) PagedOut() { s.pagedOut.Add(1) }

// Initialize builds the CPU core slots and starts the tick loop. It is
// idempotent: calling it twice is a no-op past the first time.
func (s *Scheduler) Initialize() {
	s.mu.Lock()
	if s.initialized {
		s.mu.Unlock()
		return
	}
	s.cores = make([]core, s.cfg.NumCPU)
	for i := range s.cores {
		s.cores[i].id = i
	}
	s.initialized = true
	s.running = true
	s.mu.Unlock()

	log.WithFields(log.Fields{
		"component": "scheduler",
		"cores":     s.cfg.NumCPU,
		"algorithm": s.cfg.Scheduler,
		"quantum":   s.cfg.QuantumCycles,
	}).Info("scheduler initialized")

	go s.tickLoop()
}

// Test starts the background process generator (scheduler-test). It is
// a no-op if generation is already running.
func (s *Scheduler) Test() error {
	s.mu.Lock()
	if !s.initialized {
		s.mu.Unlock()
		return ErrNotInitialized
	}
	if s.generating {
		s.mu.Unlock()
		return nil
	}
	s.generating = true
	s.finishedSeen = false
	s.stopGen = make(chan struct{})
	stop := s.stopGen
	s.mu.Unlock()

	log.WithField("component", "scheduler").Info("scheduler-test started")
	go s.generateLoop(stop)
	return nil
}

// Stop halts process generation without stopping the tick loop, per
// spec.md's design note: dispatch and execution keep running so
// already-admitted processes finish normally.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.generating {
		return
	}
	s.generating = false
	close(s.stopGen)
	log.WithField("component", "scheduler").Info("scheduler-test stopped")
}

// AddProcess admits a manually-created process (the shell's "screen
// -s") with a random instruction stream sized per cfg's min/max
// bounds and memory drawn uniformly from min/max-mem-per-proc.
func (s *Scheduler) AddProcess(name string) (*process.PCB, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	memRequired := randomMemSize(s.rng, s.cfg.MinMemPerProc, s.cfg.MaxMemPerProc)
	instrs := instruction.Generate(s.rng, s.cfg.MinIns, s.cfg.MaxIns, memRequired)
	return s.admitLocked(name, instrs, memRequired)
}

// AddProcessWithMemory admits a process with an explicit memory size,
// used by "screen -s <name> <mem>".
func (s *Scheduler) AddProcessWithMemory(name string, memRequired int) (*process.PCB, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	instrs := instruction.Generate(s.rng, s.cfg.MinIns, s.cfg.MaxIns, memRequired)
	return s.admitLocked(name, instrs, memRequired)
}

// AddProcessWithInstructions admits a process whose program came from
// the user instruction mini-language, used by "screen -c".
func (s *Scheduler) AddProcessWithInstructions(name string, memRequired int, instrs []instruction.Instruction) (*process.PCB, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.admitLocked(name, instrs, memRequired)
}

func (s *Scheduler) admitLocked(name string, instrs []instruction.Instruction, memRequired int) (*process.PCB, error) {
	if _, exists := s.byName[name]; exists {
		return nil, fmt.Errorf("%w: process name %q already in use", ErrAdmissionRejected, name)
	}
	if !config.IsPowerOfTwoInRange(memRequired) {
		return nil, fmt.Errorf("%w: process %q requires %d bytes, not a power of two in [64, 65536]", ErrAdmissionRejected, name, memRequired)
	}
	if memRequired > s.mem.TotalMem() {
		return nil, fmt.Errorf("%w: process %q requires %d bytes, only %d available", ErrAdmissionRejected, name, memRequired, s.mem.TotalMem())
	}

	pid := s.nextPID
	s.nextPID++
	p := process.New(pid, name, instrs, memRequired)
	s.mem.Allocate(p)

	s.byID[pid] = p
	s.byName[name] = p
	s.ready = append(s.ready, p)

	log.WithFields(log.Fields{
		"component": "scheduler",
		"process":   name,
		"pid":       pid,
		"mem":       memRequired,
		"ins":       len(instrs),
	}).Info("process admitted")

	return p, nil
}

// Lookup returns the PCB registered under name, if any.
func (s *Scheduler) Lookup(name string) (*process.PCB, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.byName[name]
	return p, ok
}

// Snapshot captures the scheduler's state for screen -ls / process-smi.
type Snapshot struct {
	Running  []*process.PCB
	Waiting  []*process.PCB // admitted, ready, not yet resident
	Finished []*process.PCB
	Cores    int
	Active   int
}

// Snapshot returns a point-in-time view of every process the scheduler
// knows about, sorted the way the reference CLI prints them: running
// processes by core order, finished processes by finish time.
func (s *Scheduler) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := Snapshot{Cores: len(s.cores)}
	for _, c := range s.cores {
		if c.proc != nil {
			out.Running = append(out.Running, c.proc)
			out.Active++
		}
	}

	running := make(map[uint64]bool, len(out.Running))
	for _, p := range out.Running {
		running[p.ID] = true
	}

	var finished []*process.PCB
	for _, p := range s.byID {
		if running[p.ID] {
			continue
		}
		if p.Done() {
			finished = append(finished, p)
		} else if !p.HasResidency {
			out.Waiting = append(out.Waiting, p)
		}
	}
	sortByFinishTime(finished)
	out.Finished = finished

	return out
}

// CPUStats reports the counters vmstat and process-smi surface.
type CPUStats struct {
	TotalTicks  uint64
	ActiveTicks uint64
	IdleTicks   uint64
	PagedIn     uint64
	PagedOut    uint64
	TotalFrames int
	FreeFrames  int
}

func (s *Scheduler) Stats() CPUStats {
	s.mu.Lock()
	free := s.mem.FreeFrames()
	total := s.mem.TotalFrames()
	s.mu.Unlock()

	return CPUStats{
		TotalTicks:  s.ticks.Load(),
		ActiveTicks: s.activeTicks.Load(),
		IdleTicks:   s.idleTicks.Load(),
		PagedIn:     s.pagedIn.Load(),
		PagedOut:    s.pagedOut.Load(),
		TotalFrames: total,
		FreeFrames:  free,
	}
}

// CPUUtilization is active cores over total cores, as a percentage.
func (s *Scheduler) CPUUtilization() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.cores) == 0 {
		return 0
	}
	active := 0
	for _, c := range s.cores {
		if c.proc != nil {
			active++
		}
	}
	return float64(active) / float64(len(s.cores)) * 100.0
}

func randomMemSize(rng *rand.Rand, min, max int) int {
	if max <= min {
		return min
	}
	// Sizes are powers of two per spec.md's data model; pick uniformly
	// among the valid doublings rather than an arbitrary integer.
	var sizes []int
	for v := min; v <= max; v *= 2 {
		sizes = append(sizes, v)
	}
	return sizes[rng.Intn(len(sizes))]
}

func sortByFinishTime(procs []*process.PCB) {
	sort.Slice(procs, func(i, j int) bool {
		return procs[i].FinishedAt.Before(procs[j].FinishedAt)
	})
}
