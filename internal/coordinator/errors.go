package coordinator

import "fmt"

// Stage names the step of an operation that failed
type Stage string

const (
	StageValidation   Stage = "validation"
	StageEncryption   Stage = "encryption"
	StageStorage      Stage = "storage"
	StageLedger       Stage = "ledger"
	StageDecryption   Stage = "decryption"
	StageVerification Stage = "verification"
)

// StageError reports which step of an operation failed. The wrapped error keeps its
// taxonomy sentinel for errors.Is.
type StageError struct {
	Op    string
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

func stageError(op string, stage Stage, err error) error {
	return &StageError{Op: op, Stage: stage, Err: err}
}
