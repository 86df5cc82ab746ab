package ptybridge

// minCols and nonTTYCapCols implement the winsize rule in spec.md §4.9:
// the child PTY is sized to the host terminal, with a floor of 20
// columns and, when the host has no TTY of its own to measure, a cap
// of 80 columns.
const (
	minCols       = 20
	nonTTYCapCols = 80
)

// computeWinsize applies the column floor/cap and passes rows through
// from the host (spec.md §4.9: "... and the host's row count"),
// defaulting to 24 rows when the host reports none.
func computeWinsize(hostCols, hostRows int, hostIsTTY bool) (cols, rows int) {
	cols = hostCols
	if !hostIsTTY {
		if cols <= 0 || cols > nonTTYCapCols {
			cols = nonTTYCapCols
		}
	}
	if cols < minCols {
		cols = minCols
	}
	rows = hostRows
	if rows <= 0 {
		rows = 24
	}
	return cols, rows
}
