package engine

import (
	"errors"
	"fmt"
)

// SetupStage names the step of session setup that failed.
type SetupStage string

const (
	// StageChain: the project's processors could not be configured.
	StageChain SetupStage = "chain"

	// StageWatch: the watch root could not be resolved or observed.
	StageWatch SetupStage = "watch"

	// StageServe: the artifact server could not bind.
	StageServe SetupStage = "serve"

	// StageJournal: the session could not be recorded.
	StageJournal SetupStage = "journal"
)

// SetupError is fatal for the project it names. Other projects of the same
// session keep running unless none is left.
type SetupError struct {
	Project string
	Root    string
	Stage   SetupStage
	Err     error
}

// Error implements the error interface.
func (e *SetupError) Error() string {
	switch {
	case e.Project != "" && e.Root != "":
		return fmt.Sprintf("setup %s: project %s (%s): %v", e.Stage, e.Project, e.Root, e.Err)
	case e.Project != "":
		return fmt.Sprintf("setup %s: project %s: %v", e.Stage, e.Project, e.Err)
	default:
		return fmt.Sprintf("setup %s: %v", e.Stage, e.Err)
	}
}

func (e *SetupError) Unwrap() error {
	return e.Err
}

// IsSetupError returns true if err is or wraps a SetupError.
func IsSetupError(err error) bool {
	var se *SetupError
	return errors.As(err, &se)
}
