package detections

import (
	"fmt"

	"github.com/pkg/errors"
)

// ErrorKind tags which stage of the pipeline failed.
type ErrorKind int

const (
	KindUnknown ErrorKind = iota
	// KindSessionBuild: the engine could not construct a session.
	KindSessionBuild
	// KindSessionLoad: the engine could not load the model artifact.
	KindSessionLoad
	// KindInputPreparation: the engine rejected the prepared input.
	KindInputPreparation
	// KindInferenceExecution: the engine failed while running the model.
	KindInferenceExecution
	// KindOutputExtraction: the engine result is not the expected tensor.
	KindOutputExtraction
	// KindConfigMismatch: the label table does not fit the output layout.
	KindConfigMismatch
)

func (k ErrorKind) String() string {
	switch k {
	case KindSessionBuild:
		return "session_build"
	case KindSessionLoad:
		return "session_load"
	case KindInputPreparation:
		return "input_preparation"
	case KindInferenceExecution:
		return "inference_execution"
	case KindOutputExtraction:
		return "output_extraction"
	case KindConfigMismatch:
		return "config_mismatch"
	default:
		return "unknown"
	}
}

// Error is returned by every failing operation of this package.
type Error struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return e.Op
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(kind ErrorKind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

func configMismatch(format string, args ...interface{}) *Error {
	return newError(KindConfigMismatch, "decode output", errors.Errorf(format, args...))
}

// KindOf reports the kind of the first *Error in err's chain.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// IsRetryable reports whether the same input may be submitted again. Only
// execution failures qualify; a failed run leaves no state behind.
func IsRetryable(err error) bool {
	return KindOf(err) == KindInferenceExecution
}
