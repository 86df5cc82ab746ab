package ptybridge

import "testing"

func TestComputeWinsizeTTYPassesColsThrough(t *testing.T) {
	cols, rows := computeWinsize(132, 40, true)
	if cols != 132 || rows != 40 {
		t.Errorf("computeWinsize() = (%d, %d), want (132, 40)", cols, rows)
	}
}

func TestComputeWinsizeNonTTYCapsAt80(t *testing.T) {
	cols, _ := computeWinsize(200, 40, false)
	if cols != nonTTYCapCols {
		t.Errorf("cols = %d, want %d cap", cols, nonTTYCapCols)
	}
}

func TestComputeWinsizeFloorsAt20Cols(t *testing.T) {
	cols, _ := computeWinsize(5, 40, true)
	if cols != minCols {
		t.Errorf("cols = %d, want %d floor", cols, minCols)
	}
}

func TestComputeWinsizeZeroRowsDefaultsTo24(t *testing.T) {
	_, rows := computeWinsize(80, 0, true)
	if rows != 24 {
		t.Errorf("rows = %d, want 24 default", rows)
	}
}
