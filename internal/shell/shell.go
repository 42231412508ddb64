// Package shell implements the interactive command-line front end:
// initialize, screen, scheduler-test/-stop, report-util, vmstat,
// process-smi, clear, and exit, over a liner-backed REPL.
package shell

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/peterh/liner"
	log "github.com/sirupsen/logrus"

	"github.com/loscuervos/csopesy/internal/config"
	"github.com/loscuervos/csopesy/internal/instruction"
	"github.com/loscuervos/csopesy/internal/memory"
	"github.com/loscuervos/csopesy/internal/process"
	"github.com/loscuervos/csopesy/internal/scheduler"
)

// Shell owns the liner REPL and the not-yet-initialized state the
// reference CLI guards every command but "initialize" and "exit" with.
type Shell struct {
	configPath string
	cfg        *config.Config
	mem        *memory.Manager
	sched      *scheduler.Scheduler

	activeScreen string // empty when at the main prompt
}

// New builds a Shell that will load its configuration from
// configPath the first time "initialize" runs.
func New(configPath string) *Shell {
	return &Shell{configPath: configPath}
}

// Run drives the REPL until the user types "exit" or aborts with
// Ctrl-D, grounded on the reference implementation's liner.ConsoleReader.
func (sh *Shell) Run() error {
	line := liner.NewLiner()
	defer line.Close()

	line.SetCtrlCAborts(true)
	line.SetCompleter(sh.complete)

	fmt.Println("CSOPESY emulator. Type 'initialize' to begin, 'exit' to quit.")

	for {
		prompt := "csopesy> "
		if sh.activeScreen != "" {
			prompt = fmt.Sprintf("csopesy[%s]> ", sh.activeScreen)
		}

		cmd, err := line.Prompt(prompt)
		if err != nil {
			if errors.Is(err, liner.ErrPromptAborted) || errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("shell: reading line: %w", err)
		}
		cmd = strings.TrimSpace(cmd)
		if cmd == "" {
			continue
		}
		line.AppendHistory(cmd)

		quit, err := sh.dispatch(cmd)
		if err != nil {
			fmt.Println("Error: " + err.Error())
		}
		if quit {
			return nil
		}
	}
}

// complete offers completions for the fixed top-level command set.
func (sh *Shell) complete(line string) []string {
	commands := []string{
		"initialize", "screen", "scheduler-test", "scheduler-stop",
		"report-util", "vmstat", "process-smi", "clear", "exit",
	}
	var out []string
	for _, c := range commands {
		if strings.HasPrefix(c, line) {
			out = append(out, c)
		}
	}
	return out
}

func (sh *Shell) dispatch(line string) (quit bool, err error) {
	fields := strings.Fields(line)
	cmd := fields[0]
	args := fields[1:]

	if cmd == "exit" {
		if sh.activeScreen != "" {
			sh.activeScreen = ""
			return false, nil
		}
		return true, nil
	}
	if cmd == "clear" {
		clearScreen()
		return false, nil
	}
	if cmd == "initialize" {
		return false, sh.initialize()
	}

	if sh.sched == nil {
		return false, errors.New("scheduler not initialized; run 'initialize' first")
	}

	switch cmd {
	case "screen":
		return false, sh.screen(args)
	case "scheduler-test":
		return false, sh.sched.Test()
	case "scheduler-stop":
		sh.sched.Stop()
		return false, nil
	case "report-util":
		return false, sh.reportUtil()
	case "vmstat":
		return false, sh.vmstat()
	case "process-smi":
		return false, sh.processSMI()
	default:
		return false, fmt.Errorf("unrecognized command %q", cmd)
	}
}

func (sh *Shell) initialize() error {
	if sh.sched != nil {
		fmt.Println("Already initialized.")
		return nil
	}

	cfg, err := config.Load(sh.configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	mem, err := memory.New(cfg.TotalMem, cfg.FrameSize, "csopesy-backing-store.bin")
	if err != nil {
		return fmt.Errorf("starting memory manager: %w", err)
	}

	sh.cfg = cfg
	sh.mem = mem
	sh.sched = scheduler.New(cfg, mem)
	sh.sched.Initialize()

	log.WithField("component", "shell").Info("system initialized")
	fmt.Println("Initialized.")
	return nil
}

// screen implements -s (start), -c (start with program), -r (resume
// into the named process's view), and -ls (list, used for process-smi
// style summaries).
func (sh *Shell) screen(args []string) error {
	if len(args) == 0 {
		return errors.New("usage: screen -s|-c|-r|-ls ...")
	}

	switch args[0] {
	case "-s":
		if len(args) < 2 {
			return errors.New("usage: screen -s <name> [mem]")
		}
		name := args[1]
		var p *process.PCB
		var err error
		if len(args) >= 3 {
			mem, perr := strconv.Atoi(args[2])
			if perr != nil {
				return fmt.Errorf("bad memory size %q: %w", args[2], perr)
			}
			p, err = sh.sched.AddProcessWithMemory(name, mem)
		} else {
			p, err = sh.sched.AddProcess(name)
		}
		if err != nil {
			return err
		}
		sh.activeScreen = p.Name
		fmt.Printf("Process %s created.\n", p.Name)
		return nil

	case "-c":
		if len(args) < 3 {
			return errors.New("usage: screen -c <name> <mem> \"<instructions>\"")
		}
		name := args[1]
		memSize, err := strconv.Atoi(args[2])
		if err != nil {
			return fmt.Errorf("bad memory size %q: %w", args[2], err)
		}
		program := strings.Join(args[3:], " ")
		program = strings.Trim(program, "\"")
		instrs, err := instruction.Parse(program)
		if err != nil {
			return fmt.Errorf("%w: parsing instructions: %v", scheduler.ErrAdmissionRejected, err)
		}
		p, err := sh.sched.AddProcessWithInstructions(name, memSize, instrs)
		if err != nil {
			return err
		}
		sh.activeScreen = p.Name
		fmt.Printf("Process %s created.\n", p.Name)
		return nil

	case "-r":
		if len(args) < 2 {
			return errors.New("usage: screen -r <name>")
		}
		p, ok := sh.sched.Lookup(args[1])
		if !ok {
			return fmt.Errorf("no such process %q", args[1])
		}
		printProcessView(p)
		sh.activeScreen = p.Name
		return nil

	case "-ls":
		printSnapshot(sh.sched.Snapshot(), sh.sched.CPUUtilization())
		return nil

	default:
		return fmt.Errorf("unrecognized screen option %q", args[0])
	}
}

func (sh *Shell) reportUtil() error {
	f, err := os.Create("csopesy-log.txt")
	if err != nil {
		return fmt.Errorf("creating report: %w", err)
	}
	defer f.Close()

	writeSnapshot(f, sh.sched.Snapshot(), sh.sched.CPUUtilization())

	abs, _ := os.Getwd()
	fmt.Printf("Report generated at: %s/csopesy-log.txt\n", abs)
	return nil
}

func (sh *Shell) vmstat() error {
	stats := sh.sched.Stats()
	fmt.Printf("Total CPU ticks:   %d\n", stats.TotalTicks)
	fmt.Printf("Active CPU ticks:  %d\n", stats.ActiveTicks)
	fmt.Printf("Idle CPU ticks:    %d\n", stats.IdleTicks)
	fmt.Printf("Pages paged in:    %d\n", stats.PagedIn)
	fmt.Printf("Pages paged out:   %d\n", stats.PagedOut)
	fmt.Printf("Free frames:       %d / %d\n", stats.FreeFrames, stats.TotalFrames)
	return nil
}

func (sh *Shell) processSMI() error {
	stats := sh.sched.Stats()
	fmt.Printf("CPU utilization: %.0f%%\n", sh.sched.CPUUtilization())
	fmt.Printf("Memory used: %d / %d bytes\n",
		(stats.TotalFrames-stats.FreeFrames)*sh.mem.FrameSize(), sh.mem.TotalMem())

	snap := sh.sched.Snapshot()
	fmt.Println("Running processes:")
	for _, p := range snap.Running {
		fmt.Printf("  %-12s core %d  %d/%d\n", p.Name, p.CoreID, p.IP, len(p.Instructions))
	}
	return nil
}

func clearScreen() {
	fmt.Print("\033[H\033[2J")
}
