package scheduler

import "github.com/loscuervos/csopesy/internal/process"

// fcfsLocked assigns the head of the ready queue to any free core,
// with no preemption and no quantum bookkeeping, per spec.md §4.3.2.
func (s *Scheduler) fcfsLocked() {
	for i := range s.cores {
		c := &s.cores[i]
		if c.proc != nil {
			continue
		}
		p := s.popReadyLocked()
		if p == nil {
			return
		}
		s.dispatchLocked(c, p)
	}
}

// roundRobinLocked preempts any core whose quantum has expired before
// handing out free cores, matching the reference implementation's two
// passes folded into one per-core pass. A PCB just preempted off a core
// is never rebound to that same core within the same tick — if it is
// the only ready, resident process, the core sits idle for this tick
// instead, so preempt and rebind never collapse into a no-op swap.
func (s *Scheduler) roundRobinLocked() {
	for i := range s.cores {
		c := &s.cores[i]

		var justPreempted *process.PCB
		if c.proc != nil && c.quantum >= s.cfg.QuantumCycles {
			justPreempted = c.proc
			s.preemptLocked(c)
		}

		if c.proc == nil {
			p := s.popReadyLocked()
			if p != nil {
				if p == justPreempted {
					s.ready = append(s.ready, p)
				} else {
					s.dispatchLocked(c, p)
				}
			}
		}

		if c.proc != nil {
			c.quantum++
		}
	}
}

// popReadyLocked pops the first ready, memory-resident process. A
// process admitted but still waiting on a page table is left in the
// queue — it cannot usefully run yet — preserving FIFO order among the
// processes that are actually eligible.
func (s *Scheduler) popReadyLocked() *process.PCB {
	for i, p := range s.ready {
		if p.HasResidency {
			s.ready = append(s.ready[:i:i], s.ready[i+1:]...)
			return p
		}
	}
	return nil
}

func (s *Scheduler) dispatchLocked(c *core, p *process.PCB) {
	p.State = process.Running
	p.CoreID = c.id
	c.proc = p
	c.quantum = 0
}

// preemptLocked returns a still-running process to the back of the
// ready queue and frees its core slot.
func (s *Scheduler) preemptLocked(c *core) {
	if c.proc.Done() {
		return
	}
	c.proc.State = process.Ready
	c.proc.CoreID = -1
	s.ready = append(s.ready, c.proc)
	c.proc = nil
	c.quantum = 0
}
