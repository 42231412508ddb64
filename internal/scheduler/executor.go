package scheduler

import (
	"strconv"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/loscuervos/csopesy/internal/instruction"
	"github.com/loscuervos/csopesy/internal/process"
)

// executeOneLocked runs exactly one instruction on behalf of c's
// current process, advancing its instruction pointer and, on the last
// instruction, marking it Finished. Mirrors the reference
// executeInstruction, generalized to the full nine-opcode set and to
// memory-backed READ/WRITE.
func (s *Scheduler) executeOneLocked(c *core) {
	p := c.proc
	if p == nil || p.Done() {
		return
	}

	if p.IP >= len(p.Instructions) {
		s.finishLocked(p)
		return
	}

	instr := &p.Instructions[p.IP]
	instr.ExecutedAt = time.Now()

	switch instr.Op {
	case instruction.Print:
		p.Log = append(p.Log, substituteVars(p, instr.Msg))

	case instruction.Declare:
		p.SetVar(instr.Var, instr.Value)

	case instruction.Add:
		p.SetVar(instr.Var, saturatingAdd(resolveOperand(p, instr.A), resolveOperand(p, instr.B)))

	case instruction.Subtract:
		p.SetVar(instr.Var, saturatingSub(resolveOperand(p, instr.A), resolveOperand(p, instr.B)))

	case instruction.Sleep:
		// Held under s.mu, same as the reference implementation's
		// schedulingLoop: a tick's SLEEP cost is paid before the next
		// core gets its turn, not concurrently with it.
		time.Sleep(sleepTickDelay)

	case instruction.ForStart:
		p.LoopStack = append(p.LoopStack, process.LoopFrame{StartIP: p.IP})

	case instruction.ForEnd:
		s.runForEndLocked(p)
		// ForEnd manages p.IP itself (loop back or fall through); skip
		// the generic increment below.
		s.afterStep(c, p)
		return

	case instruction.Read:
		s.execMemLocked(p, instr.Addr, func(pAddr int) {
			v, err := s.mem.ReadWord(pAddr)
			if err != nil {
				log.WithField("component", "scheduler").WithError(err).Warn("READ failed")
				return
			}
			p.SetVar(instr.Var, v)
		})

	case instruction.Write:
		s.execMemLocked(p, instr.Addr, func(pAddr int) {
			if err := s.mem.WriteWord(pAddr, p.GetVar(instr.Var)); err != nil {
				log.WithField("component", "scheduler").WithError(err).Warn("WRITE failed")
			}
		})
	}

	p.IP++
	s.afterStep(c, p)
}

// afterStep finishes a process whose IP has walked off the end of its
// program and applies the configured per-instruction delay.
func (s *Scheduler) afterStep(c *core, p *process.PCB) {
	if p.IP >= len(p.Instructions) {
		s.finishLocked(p)
	}
	if s.cfg.DelayPerExecMs > 0 {
		log.WithFields(log.Fields{
			"component": "scheduler",
			"process":   p.Name,
			"ms":        s.cfg.DelayPerExecMs,
		}).Debug("applying delay-per-exec")
		time.Sleep(time.Duration(s.cfg.DelayPerExecMs) * time.Millisecond)
	}
}

func (s *Scheduler) finishLocked(p *process.PCB) {
	p.State = process.Finished
	p.FinishedAt = time.Now()
}

// runForEndLocked pops the innermost loop frame once its body has run
// the FOR_START's configured number of times, otherwise rewinds IP to
// just after the matching FOR_START.
func (s *Scheduler) runForEndLocked(p *process.PCB) {
	if len(p.LoopStack) == 0 {
		p.IP++
		return
	}
	top := &p.LoopStack[len(p.LoopStack)-1]
	top.Counter++

	iters := int(p.Instructions[top.StartIP].Value)
	if top.Counter < iters {
		p.IP = top.StartIP + 1
		return
	}
	p.LoopStack = p.LoopStack[:len(p.LoopStack)-1]
	p.IP++
}

// execMemLocked translates vAddr and runs fn with the scheduler mutex
// held throughout. A failed translation is logged and fn is not run;
// the access itself adds nothing to the tick counters.
func (s *Scheduler) execMemLocked(p *process.PCB, vAddr int, fn func(pAddr int)) {
	pAddr, err := s.mem.Translate(p, vAddr)
	if err != nil {
		log.WithFields(log.Fields{
			"component": "scheduler",
			"process":   p.Name,
			"addr":      vAddr,
		}).WithError(err).Warn("memory access out of range")
		return
	}
	fn(pAddr)
}

// substituteVars replaces every "$name" token in msg with that
// variable's current decimal value.
func substituteVars(p *process.PCB, msg string) string {
	var b strings.Builder
	i := 0
	for i < len(msg) {
		if msg[i] != '$' {
			b.WriteByte(msg[i])
			i++
			continue
		}
		j := i + 1
		for j < len(msg) && isIdentByte(msg[j]) {
			j++
		}
		if j == i+1 {
			b.WriteByte(msg[i])
			i++
			continue
		}
		name := msg[i+1 : j]
		b.WriteString(strconv.Itoa(int(p.GetVar(name))))
		i = j
	}
	return b.String()
}

func isIdentByte(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}

// resolveOperand accepts either a decimal literal or a variable name,
// since the user instruction mini-language allows ADD/SUBTRACT to take
// either for their second and third operands.
func resolveOperand(p *process.PCB, operand string) uint16 {
	if v, err := strconv.ParseUint(operand, 10, 16); err == nil {
		return uint16(v)
	}
	return p.GetVar(operand)
}

// saturatingAdd/saturatingSub clamp to uint16's range instead of
// wrapping, per spec.md's arithmetic rules.
func saturatingAdd(a, b uint16) uint16 {
	sum := uint32(a) + uint32(b)
	if sum > 65535 {
		return 65535
	}
	return uint16(sum)
}

func saturatingSub(a, b uint16) uint16 {
	if b > a {
		return 0
	}
	return a - b
}
