package analysis

import (
	"fmt"
	"math"

	"niftyscan/internal/domain"
)

// Status strings shown by the rendering sink.
const (
	StatusStarting = "Starting analysis..."
	StatusComplete = "Analysis complete!"
	StatusFailed   = "Error during analysis!"
)

// StartProgress is the state published before the first row arrives.
func StartProgress() domain.ProgressState {
	return domain.ProgressState{Status: StatusStarting}
}

// Progress derives the state for the row at zero-based index out of total.
// A zero total reports 0% instead of dividing by zero.
func Progress(index, total int) domain.ProgressState {
	return progressFor(index+1, total)
}

// CompleteProgress is the terminal state. It is always exactly 100%, hiding
// any rounding drift from the per-row values.
func CompleteProgress(processed, total int) domain.ProgressState {
	return domain.ProgressState{
		Processed: processed,
		Total:     total,
		Percent:   100,
		Status:    StatusComplete,
	}
}

func progressFor(processed, total int) domain.ProgressState {
	return progressAtLeast(processed, total, 0)
}

// progressAtLeast is progressFor with the percent raised to floor.
func progressAtLeast(processed, total, floor int) domain.ProgressState {
	pct := 0
	if total > 0 {
		pct = int(math.Round(float64(processed) / float64(total) * 100))
	}
	pct = min(max(pct, floor, 0), 100)
	return domain.ProgressState{
		Processed: processed,
		Total:     total,
		Percent:   pct,
		Status:    fmt.Sprintf("Processing: %d/%d stocks (%d%%)", processed, total, pct),
	}
}
