package transfer

import (
	"fmt"

	"github.com/andresuchdata/batchsync/internal/domain"
)

type stateTransition struct {
	From domain.RunState
	To   domain.RunState
}

var validTransitions = map[stateTransition]bool{
	{domain.StateIdle, domain.StateResolvingWatermark}:            true,
	{domain.StateResolvingWatermark, domain.StateComputingWindow}: true,

	{domain.StateComputingWindow, domain.StateWindowEmpty}: true,
	{domain.StateComputingWindow, domain.StateListing}:     true,
	{domain.StateWindowEmpty, domain.StateDone}:            true,

	{domain.StateListing, domain.StateSelecting}:         true,
	{domain.StateSelecting, domain.StateFetchDecompress}: true,
	{domain.StateFetchDecompress, domain.StateUploading}: true,
	{domain.StateUploading, domain.StateDone}:            true,

	// Nothing matched the window.
	{domain.StateSelecting, domain.StateDone}: true,
}

// ValidateTransition checks a step of the run state machine. Failed is
// reachable from every non-terminal state.
func ValidateTransition(from, to domain.RunState) error {
	if to == domain.StateFailed && !IsTerminal(from) {
		return nil
	}
	if !validTransitions[stateTransition{From: from, To: to}] {
		return fmt.Errorf("invalid state transition from %s to %s", from, to)
	}
	return nil
}

func IsTerminal(s domain.RunState) bool {
	return s == domain.StateDone || s == domain.StateFailed
}
