// Package config loads and validates the csopesy.txt configuration file.
// Parsing is a thin collaborator by design (spec.md treats it as an
// external concern) but still has to produce a real Config the rest of
// the emulator can trust, so it is validated the same way the core is.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"text/scanner"
	"unicode"

	log "github.com/sirupsen/logrus"
)

// Algorithm selects the short-term dispatch policy.
type Algorithm string

const (
	RoundRobin Algorithm = "rr"
	FCFS       Algorithm = "fcfs"
)

// ErrConfigParse flags a recognized key with an unparseable value.
var ErrConfigParse = errors.New("config: parse error")

// ErrInvalidConfig flags a syntactically fine config that violates the
// data model's invariants.
var ErrInvalidConfig = errors.New("config: invalid configuration")

// Config mirrors spec.md's Data Model table exactly.
type Config struct {
	NumCPU           int
	Scheduler        Algorithm
	QuantumCycles    int
	BatchFreqSec     int
	MinIns           int
	MaxIns           int
	DelayPerExecMs   int
	TotalMem         int
	FrameSize        int
	MinMemPerProc    int
	MaxMemPerProc    int
}

// Default matches the conservative single-core FCFS starting point used
// by the seed scenarios in spec.md §8.
func Default() *Config {
	return &Config{
		NumCPU:         1,
		Scheduler:      FCFS,
		QuantumCycles:  5,
		BatchFreqSec:   1,
		MinIns:         1,
		MaxIns:         10,
		DelayPerExecMs: 0,
		TotalMem:       16384,
		FrameSize:      16,
		MinMemPerProc:  64,
		MaxMemPerProc:  65536,
	}
}

// Load reads whitespace-delimited "key value" pairs, one per line;
// string values may be double-quoted. Unknown keys are logged and
// skipped rather than treated as fatal, per spec.md §6.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: opening %s: %w", path, err)
	}
	defer f.Close()
	return parse(f)
}

func parse(r io.Reader) (*Config, error) {
	cfg := Default()

	var s scanner.Scanner
	s.Init(r)
	s.Mode = scanner.ScanIdents | scanner.ScanInts | scanner.ScanStrings | scanner.ScanComments | scanner.SkipComments
	// Keys like "num-cpu" are hyphenated; the default identifier rune
	// set doesn't include '-', so widen it rather than split each key
	// into multiple tokens.
	s.IsIdentRune = func(ch rune, i int) bool {
		return ch == '_' || ch == '-' || unicode.IsLetter(ch) || unicode.IsDigit(ch)
	}
	s.Error = func(_ *scanner.Scanner, msg string) {
		log.WithField("component", "config").Warnf("tokenizer: %s", msg)
	}

	for {
		tok := s.Scan()
		if tok == scanner.EOF {
			break
		}
		key := s.TokenText()

		valTok := s.Scan()
		if valTok == scanner.EOF {
			return nil, fmt.Errorf("%w: key %q has no value", ErrConfigParse, key)
		}
		raw := s.TokenText()
		if valTok == scanner.String {
			var err error
			raw, err = unquote(raw)
			if err != nil {
				return nil, fmt.Errorf("%w: key %q: %v", ErrConfigParse, key, err)
			}
		}

		if err := assign(cfg, key, raw); err != nil {
			return nil, err
		}
	}

	return cfg, nil
}

func assign(cfg *Config, key, val string) error {
	switch key {
	case "num-cpu":
		return assignInt(&cfg.NumCPU, key, val)
	case "scheduler":
		switch val {
		case "rr", "fcfs":
			cfg.Scheduler = Algorithm(val)
		default:
			return fmt.Errorf("%w: scheduler must be rr or fcfs, got %q", ErrConfigParse, val)
		}
	case "quantum-cycles":
		return assignInt(&cfg.QuantumCycles, key, val)
	case "batch-process-freq":
		return assignInt(&cfg.BatchFreqSec, key, val)
	case "min-ins":
		return assignInt(&cfg.MinIns, key, val)
	case "max-ins":
		return assignInt(&cfg.MaxIns, key, val)
	case "delay-per-exec":
		return assignInt(&cfg.DelayPerExecMs, key, val)
	case "max-overall-mem":
		return assignInt(&cfg.TotalMem, key, val)
	case "mem-per-frame":
		return assignInt(&cfg.FrameSize, key, val)
	case "min-mem-per-proc":
		return assignInt(&cfg.MinMemPerProc, key, val)
	case "max-mem-per-proc":
		return assignInt(&cfg.MaxMemPerProc, key, val)
	default:
		log.WithField("component", "config").Warnf("unknown config key: %s", key)
	}
	return nil
}

func assignInt(dst *int, key, val string) error {
	var v int
	_, err := fmt.Sscanf(val, "%d", &v)
	if err != nil {
		return fmt.Errorf("%w: key %q value %q: %v", ErrConfigParse, key, val, err)
	}
	*dst = v
	return nil
}

func unquote(s string) (string, error) {
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		return s[1 : len(s)-1], nil
	}
	return s, nil
}

// Validate checks the Data Model invariants of spec.md §3, collecting
// every violation instead of stopping at the first.
func (c *Config) Validate() error {
	var problems []string

	if c.NumCPU < 1 {
		problems = append(problems, "num-cpu must be >= 1")
	}
	if c.FrameSize <= 0 || c.TotalMem%c.FrameSize != 0 {
		problems = append(problems, "mem-per-frame must evenly divide max-overall-mem")
	}
	if !IsPowerOfTwoInRange(c.MinMemPerProc) {
		problems = append(problems, "min-mem-per-proc must be a power of two in [64, 65536]")
	}
	if !IsPowerOfTwoInRange(c.MaxMemPerProc) {
		problems = append(problems, "max-mem-per-proc must be a power of two in [64, 65536]")
	}
	if c.MinMemPerProc > c.MaxMemPerProc {
		problems = append(problems, "min-mem-per-proc must be <= max-mem-per-proc")
	}
	if c.QuantumCycles < 1 {
		problems = append(problems, "quantum-cycles must be >= 1")
	}
	if c.MinIns < 1 || c.MaxIns < c.MinIns {
		problems = append(problems, "min-ins/max-ins must satisfy 1 <= min-ins <= max-ins")
	}

	if len(problems) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %v", ErrInvalidConfig, problems)
}

// IsPowerOfTwoInRange reports whether v is a power of two in [64, 65536],
// the bound spec.md's data model places on any single process's memory
// size. Exported so admission (internal/scheduler) can apply the exact
// same check to explicit-size requests, instead of only validating the
// config-file defaults.
func IsPowerOfTwoInRange(v int) bool {
	if v < 64 || v > 65536 {
		return false
	}
	return v&(v-1) == 0
}
