// Package process holds the Process Control Block: identity, the
// instruction pointer, the variable file, the for-loop stack, and the
// timestamps a PCB carries through Ready -> Running -> Finished.
package process

import (
	"time"

	"github.com/loscuervos/csopesy/internal/instruction"
)

type State int

const (
	Ready State = iota
	Running
	Finished
)

func (s State) String() string {
	switch s {
	case Ready:
		return "Ready"
	case Running:
		return "Running"
	case Finished:
		return "Finished"
	default:
		return "Unknown"
	}
}

const maxVariables = 32

// LoopFrame is one entry of a PCB's nested-FOR stack: the index of the
// matching FOR_START and how many times the body has run so far.
type LoopFrame struct {
	StartIP int
	Counter int
}

// PCB is owned exclusively by the scheduler's registry once created;
// every field below is mutated only while the scheduler mutex is held.
type PCB struct {
	ID   uint64
	Name string

	State        State
	Instructions []instruction.Instruction
	IP           int
	Variables    map[string]uint16
	LoopStack    []LoopFrame

	CoreID       int // -1 when not assigned
	MemRequired  int
	HasResidency bool

	CreatedAt  time.Time
	FinishedAt time.Time

	// Log is the accumulated PRINT output, oldest first, kept for
	// screen -r / process-smi inspection.
	Log []string
}

// New builds a Ready PCB with an empty variable file and no core
// assignment. The caller (scheduler admission) is responsible for
// registering it and reserving memory.
func New(id uint64, name string, instrs []instruction.Instruction, memRequired int) *PCB {
	return &PCB{
		ID:           id,
		Name:         name,
		State:        Ready,
		Instructions: instrs,
		Variables:    make(map[string]uint16, maxVariables),
		CoreID:       -1,
		MemRequired:  memRequired,
		CreatedAt:    time.Now(),
	}
}

// Done reports whether the PCB has executed its last instruction.
func (p *PCB) Done() bool {
	return p.State == Finished
}

// GetVar returns a variable's value, treating an unset name as 0 - the
// spec's substitution and arithmetic rules never distinguish "unset"
// from "zero".
func (p *PCB) GetVar(name string) uint16 {
	return p.Variables[name]
}

// SetVar applies the 32-entry symbol table cap: writes to an existing
// name always succeed, writes that would add a 33rd distinct name are
// silently ignored.
func (p *PCB) SetVar(name string, val uint16) {
	if _, exists := p.Variables[name]; !exists && len(p.Variables) >= maxVariables {
		return
	}
	p.Variables[name] = val
}
