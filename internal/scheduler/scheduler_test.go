package scheduler

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/loscuervos/csopesy/internal/config"
	"github.com/loscuervos/csopesy/internal/instruction"
	"github.com/loscuervos/csopesy/internal/memory"
)

func newTestScheduler(t *testing.T, cfg *config.Config) *Scheduler {
	t.Helper()
	path := filepath.Join(t.TempDir(), "backing.bin")
	mem, err := memory.New(cfg.TotalMem, cfg.FrameSize, path)
	if err != nil {
		t.Fatalf("memory.New: %v", err)
	}
	t.Cleanup(func() { mem.Close() })
	return New(cfg, mem)
}

func baseConfig() *config.Config {
	cfg := config.Default()
	cfg.NumCPU = 1
	cfg.Scheduler = "fcfs"
	cfg.TotalMem = 1024
	cfg.FrameSize = 16
	cfg.MinMemPerProc = 64
	cfg.MaxMemPerProc = 64
	cfg.MinIns = 1
	cfg.MaxIns = 1
	return cfg
}

func TestAdmissionRejectsOversizedProcess(t *testing.T) {
	cfg := baseConfig()
	s := newTestScheduler(t, cfg)

	_, err := s.AddProcessWithMemory("too-big", cfg.TotalMem*2)
	if err == nil {
		t.Fatal("expected admission to be rejected")
	}
}

func TestAdmissionRejectsDuplicateName(t *testing.T) {
	cfg := baseConfig()
	s := newTestScheduler(t, cfg)

	if _, err := s.AddProcessWithMemory("p1", 64); err != nil {
		t.Fatalf("first admission failed: %v", err)
	}
	if _, err := s.AddProcessWithMemory("p1", 64); err == nil {
		t.Fatal("expected duplicate name to be rejected")
	}
}

func TestFCFSDispatchRunsToCompletion(t *testing.T) {
	cfg := baseConfig()
	s := newTestScheduler(t, cfg)

	instrs := []instruction.Instruction{
		{Op: instruction.Declare, Var: "x", Value: 1},
		{Op: instruction.Print, Msg: "done"},
	}
	p, err := s.AddProcessWithInstructions("p1", 64, instrs)
	if err != nil {
		t.Fatalf("admission: %v", err)
	}

	s.mu.Lock()
	s.cores = make([]core, 1)
	deadline := time.Now().Add(2 * time.Second)
	for !p.Done() && time.Now().Before(deadline) {
		s.runTick()
	}
	s.mu.Unlock()

	if !p.Done() {
		t.Fatal("expected process to finish")
	}
	if p.GetVar("x") != 1 {
		t.Fatalf("expected x==1, got %d", p.GetVar("x"))
	}
	if len(p.Log) != 1 || p.Log[0] != "done" {
		t.Fatalf("unexpected log: %v", p.Log)
	}
}

func TestRoundRobinPreemptsAtQuantum(t *testing.T) {
	cfg := baseConfig()
	cfg.Scheduler = "rr"
	cfg.QuantumCycles = 1
	cfg.MinIns = 5
	cfg.MaxIns = 5
	s := newTestScheduler(t, cfg)

	instrs := []instruction.Instruction{
		{Op: instruction.Declare, Var: "x", Value: 0},
		{Op: instruction.Declare, Var: "x", Value: 1},
		{Op: instruction.Declare, Var: "x", Value: 2},
	}
	p1, err := s.AddProcessWithInstructions("p1", 64, instrs)
	if err != nil {
		t.Fatalf("admission p1: %v", err)
	}
	p2, err := s.AddProcessWithInstructions("p2", 64, instrs)
	if err != nil {
		t.Fatalf("admission p2: %v", err)
	}

	s.mu.Lock()
	s.cores = make([]core, 1)
	s.runTick() // admits memory + dispatches p1, executes instr 0, quantum now 1
	s.runTick() // quantum expired: p1 preempted to back of ready queue, p2 dispatched
	s.mu.Unlock()

	if p1.State.String() != "Ready" {
		t.Fatalf("expected p1 preempted back to Ready, got %s", p1.State)
	}
	if p2.CoreID != 0 {
		t.Fatalf("expected p2 dispatched to core 0, got core %d", p2.CoreID)
	}
}

func TestRoundRobinNeverRebindsPreemptedPCBSameTick(t *testing.T) {
	cfg := baseConfig()
	cfg.Scheduler = "rr"
	cfg.QuantumCycles = 1
	cfg.MinIns = 5
	cfg.MaxIns = 5
	s := newTestScheduler(t, cfg)

	instrs := []instruction.Instruction{
		{Op: instruction.Declare, Var: "x", Value: 0},
		{Op: instruction.Declare, Var: "x", Value: 1},
		{Op: instruction.Declare, Var: "x", Value: 2},
	}
	p1, err := s.AddProcessWithInstructions("p1", 64, instrs)
	if err != nil {
		t.Fatalf("admission p1: %v", err)
	}

	s.mu.Lock()
	s.cores = make([]core, 1)
	s.runTick() // admits memory + dispatches p1, quantum now 1
	s.runTick() // quantum expired: p1 preempted; it's the only ready PCB, so
	// it must not be rebound to the core it was just evicted from.
	s.mu.Unlock()

	if s.cores[0].proc != nil {
		t.Fatalf("expected core 0 idle after preempting the only ready PCB, got %q bound", s.cores[0].proc.Name)
	}
	if p1.State.String() != "Ready" {
		t.Fatalf("expected p1 back in Ready, got %s", p1.State)
	}

	s.mu.Lock()
	s.runTick() // next tick: p1 is free to be dispatched again
	s.mu.Unlock()

	if s.cores[0].proc != p1 {
		t.Fatal("expected p1 dispatched to core 0 on the following tick")
	}
}

func TestStatsCountPagingTraffic(t *testing.T) {
	cfg := baseConfig()
	s := newTestScheduler(t, cfg)
	s.PagedIn()
	s.PagedIn()
	s.PagedOut()

	stats := s.Stats()
	if stats.PagedIn != 2 || stats.PagedOut != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}

func TestTickCountsPerCoreNotPerTick(t *testing.T) {
	cfg := baseConfig()
	cfg.NumCPU = 4
	cfg.MinIns = 3
	cfg.MaxIns = 3
	s := newTestScheduler(t, cfg)

	instrs := []instruction.Instruction{
		{Op: instruction.Declare, Var: "x", Value: 1},
		{Op: instruction.Declare, Var: "x", Value: 2},
		{Op: instruction.Declare, Var: "x", Value: 3},
	}
	for i := 0; i < 4; i++ {
		if _, err := s.AddProcessWithInstructions("p"+string(rune('0'+i)), 64, instrs); err != nil {
			t.Fatalf("admission: %v", err)
		}
	}

	s.mu.Lock()
	s.cores = make([]core, 4)
	s.runTick() // all 4 processes admitted + dispatched across 4 cores
	s.mu.Unlock()

	stats := s.Stats()
	if stats.ActiveTicks != 4 {
		t.Fatalf("expected 4 active ticks (one per busy core), got %d", stats.ActiveTicks)
	}
	if stats.IdleTicks != 0 {
		t.Fatalf("expected 0 idle ticks with all cores busy, got %d", stats.IdleTicks)
	}
}

func TestSaturatingArithmetic(t *testing.T) {
	if got := saturatingAdd(65000, 1000); got != 65535 {
		t.Fatalf("expected saturating add to clamp at 65535, got %d", got)
	}
	if got := saturatingSub(5, 10); got != 0 {
		t.Fatalf("expected saturating sub to clamp at 0, got %d", got)
	}
}
