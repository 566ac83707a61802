package ml

import (
	"errors"
	"fmt"
)

// Stage names the lifecycle step an error came from.
type Stage string

const (
	StageLoad    Stage = "load"
	StageAcquire Stage = "acquire"
	StageSchema  Stage = "schema"
	StageFit     Stage = "fit"
	StagePersist Stage = "persist"

	StageAssemble Stage = "assemble"
	StageInvoke   Stage = "invoke"
)

var (
	ErrNotFitted       = errors.New("model not fitted")
	ErrEmptyDataset    = errors.New("no usable training rows")
	ErrShapeMismatch   = errors.New("features and targets size mismatch")
	ErrNonFinite       = errors.New("non-finite value")
	ErrUnknownVersion  = errors.New("unsupported artifact version")
	ErrFeatureMismatch = errors.New("feature vector length does not match model")
)

// InitializationError is terminal: no model is available for the process.
type InitializationError struct {
	Stage Stage
	Err   error
}

func (e *InitializationError) Error() string {
	return fmt.Sprintf("initialization failed at %s: %v", e.Stage, e.Err)
}

func (e *InitializationError) Unwrap() error { return e.Err }

// CalculationError is scoped to one prediction request.
type CalculationError struct {
	Stage Stage
	Err   error
}

func (e *CalculationError) Error() string {
	return fmt.Sprintf("calculation failed at %s: %v", e.Stage, e.Err)
}

func (e *CalculationError) Unwrap() error { return e.Err }

// InitError wraps err as an InitializationError for stage unless it already is one.
func InitError(stage Stage, err error) error {
	if err == nil {
		return nil
	}
	var ie *InitializationError
	if errors.As(err, &ie) {
		return err
	}
	return &InitializationError{Stage: stage, Err: err}
}
