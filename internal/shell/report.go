package shell

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/loscuervos/csopesy/internal/process"
	"github.com/loscuervos/csopesy/internal/scheduler"
)

// writeSnapshot renders the same report printScreen/reportUtil both
// produced in the reference implementation, parameterized over the
// destination so the shell and report-util share one formatter.
func writeSnapshot(w io.Writer, snap scheduler.Snapshot, utilization float64) {
	fmt.Fprintf(w, "CPU utilization: %.0f%%\n", utilization)
	fmt.Fprintf(w, "Cores used: %d\n", snap.Active)
	fmt.Fprintf(w, "Cores available: %d\n\n", snap.Cores-snap.Active)

	fmt.Fprintln(w, "----------------------------------------")
	fmt.Fprintln(w, "Running processes:")
	for _, p := range snap.Running {
		fmt.Fprintf(w, "%-12s %-28s Core: %-6d %d / %d\n",
			p.Name, formatTime(p.CreatedAt), p.CoreID, p.IP, len(p.Instructions))
	}

	for _, p := range snap.Waiting {
		fmt.Fprintf(w, "%-12s %-28s\n", p.Name, "(waiting for memory)")
	}

	fmt.Fprintln(w, "\nFinished processes:")
	for _, p := range snap.Finished {
		fmt.Fprintf(w, "%-12s %-28s %-12s %d / %d\n",
			p.Name, formatTime(p.FinishedAt), "Finished", len(p.Instructions), len(p.Instructions))
	}
	fmt.Fprintln(w, "----------------------------------------")
}

func printSnapshot(snap scheduler.Snapshot, utilization float64) {
	fmt.Println()
	writeSnapshot(os.Stdout, snap, utilization)
}

func printProcessView(p *process.PCB) {
	fmt.Printf("Process name: %s\n", p.Name)
	fmt.Printf("ID: %d\n", p.ID)
	fmt.Printf("Instruction: %d / %d\n", p.IP, len(p.Instructions))
	if p.Done() {
		fmt.Println("Finished!")
	}
	fmt.Println("Logs:")
	for _, l := range p.Log {
		fmt.Println("  " + l)
	}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return "(" + t.Format("01/02/2006 03:04:05 PM") + ")"
}
