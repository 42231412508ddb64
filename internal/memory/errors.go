package memory

import "errors"

// ErrInvalidAddress covers a virtual address past a process's memRequired,
// a physical address past totalMem, or a backing-store I/O failure —
// the latter is surfaced conservatively as this error rather than
// silently ignored, per the spec's error handling design.
var ErrInvalidAddress = errors.New("memory: invalid address")
