package scheduler

import (
	"strconv"
	"time"

	log "github.com/sirupsen/logrus"
)

// tickLoop is the scheduler's heartbeat, grounded on the reference
// implementation's schedulingLoop: reap finished work, try to give
// memory to whoever is waiting on it, dispatch, execute one
// instruction per running core, then update the counters the rest of
// the CLI reads back out. It runs for the lifetime of the process —
// scheduler-stop only silences the generator, never this loop.
func (s *Scheduler) tickLoop() {
	ticker := time.NewTicker(tickPeriod)
	defer ticker.Stop()

	for range ticker.C {
		s.mu.Lock()
		s.runTick()
		s.mu.Unlock()
	}
}

func (s *Scheduler) runTick() {
	s.ticks.Add(1)

	s.reapFinishedLocked()
	s.admitMemoryLocked()

	switch s.cfg.Scheduler {
	case "rr":
		s.roundRobinLocked()
	default:
		s.fcfsLocked()
	}

	active := 0
	for i := range s.cores {
		if p := s.cores[i].proc; p != nil {
			// Synthetic access into the process's own address space,
			// to induce page-fault traffic before its instruction runs.
			if p.MemRequired > 0 {
				s.mem.AccessMemory(p, s.rng.Intn(p.MemRequired))
			}
			s.executeOneLocked(&s.cores[i])
			active++
		}
	}
	s.activeTicks.Add(uint64(active))
	s.idleTicks.Add(uint64(len(s.cores) - active))

	s.logAllFinishedLocked()
}

// reapFinishedLocked frees the memory and core slot of any process that
// finished during the last instruction it executed.
func (s *Scheduler) reapFinishedLocked() {
	for i := range s.cores {
		c := &s.cores[i]
		if c.proc != nil && c.proc.Done() {
			if c.proc.HasResidency {
				s.mem.Deallocate(c.proc)
			}
			log.WithFields(log.Fields{
				"component": "scheduler",
				"process":   c.proc.Name,
				"core":      c.id,
			}).Info("process finished")
			c.proc.CoreID = -1
			c.proc = nil
			c.quantum = 0
		}
	}
}

// admitMemoryLocked re-grants a page table to any ready process that
// lost full residency to eviction (admission itself already allocates
// one); mirrors the reference loop's pass over readyQueue before each
// dispatch round.
func (s *Scheduler) admitMemoryLocked() {
	for _, p := range s.ready {
		if !p.HasResidency && !p.Done() {
			s.mem.Allocate(p)
		}
	}
}

// logAllFinishedLocked emits the one-time "all processes finished"
// notice the reference CLI prints once the ready queue and every core
// have drained, without repeating it on every subsequent tick.
func (s *Scheduler) logAllFinishedLocked() {
	if s.finishedSeen || len(s.byID) == 0 {
		return
	}
	if len(s.ready) != 0 {
		return
	}
	for i := range s.cores {
		if s.cores[i].proc != nil {
			return
		}
	}
	for _, p := range s.byID {
		if !p.Done() {
			return
		}
	}
	s.finishedSeen = true
	log.WithField("component", "scheduler").Info("all processes have finished execution")
}

// generateLoop admits one synthetic process every batch-process-freq
// seconds until Stop closes the channel it was handed.
func (s *Scheduler) generateLoop(stop <-chan struct{}) {
	counter := 0
	period := time.Duration(s.cfg.BatchFreqSec) * time.Second
	if period <= 0 {
		period = time.Second
	}
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			name := generatedName(counter)
			counter++
			if _, err := s.AddProcess(name); err != nil {
				log.WithFields(log.Fields{
					"component": "scheduler",
					"process":   name,
				}).WithError(err).Warn("auto-generated process rejected")
			}
		}
	}
}

func generatedName(n int) string {
	return "process" + strconv.Itoa(n)
}
