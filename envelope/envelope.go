// Package envelope defines the uniform Result Envelope shape emitted by
// every solver (micro, meso, macro, rl, mock): time-indexed tensors,
// scalar time series, and run metadata.
package envelope

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a solver failure for the Result Envelope's
// error_kind slot (spec.md §7).
type ErrorKind string

const (
	KindNone              ErrorKind = ""
	KindInvalidScenario   ErrorKind = "InvalidScenario"
	KindInvalidParameters ErrorKind = "InvalidParameters"
	KindResourceExceeded  ErrorKind = "ResourceExceeded"
	KindNotFound          ErrorKind = "NotFound"
	KindInternalNumerical ErrorKind = "InternalNumerical"
	KindCancelled         ErrorKind = "Cancelled"
)

// SolverError pairs an ErrorKind with the causal error, so callers can
// `errors.Unwrap` down to the root cause while the envelope only needs the
// stable Kind string.
type SolverError struct {
	Kind ErrorKind
	Err  error
}

func (e *SolverError) Error() string {
	if e.Err == nil {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *SolverError) Unwrap() error { return e.Err }

// NewSolverError wraps err under kind.
func NewSolverError(kind ErrorKind, err error) *SolverError {
	return &SolverError{Kind: kind, Err: err}
}

// Tensor is a dense, row-major N-dimensional array. Shape[0] is
// conventionally the time axis when the tensor is time-indexed.
type Tensor struct {
	Shape []int
	Data  []float64
}

// NewTensor allocates a zeroed Tensor with the given shape.
func NewTensor(shape ...int) Tensor {
	n := 1
	for _, d := range shape {
		n *= d
	}
	return Tensor{Shape: append([]int(nil), shape...), Data: make([]float64, n)}
}

// At returns the value stored at the given multi-dimensional indices.
// Panics if len(idx) != len(t.Shape).
func (t Tensor) At(idx ...int) float64 {
	return t.Data[t.flatIndex(idx)]
}

// Set stores v at the given multi-dimensional indices.
func (t Tensor) Set(v float64, idx ...int) {
	t.Data[t.flatIndex(idx)] = v
}

func (t Tensor) flatIndex(idx []int) int {
	if len(idx) != len(t.Shape) {
		panic(fmt.Sprintf("envelope: index rank %d does not match shape rank %d", len(idx), len(t.Shape)))
	}
	flat := 0
	for i, d := range idx {
		flat = flat*t.Shape[i] + d
	}
	return flat
}

// Envelope is the uniform in-memory result shape returned by every solver.
type Envelope struct {
	Success   bool
	Error     string
	ErrorKind ErrorKind

	// Fields holds spatial tensors keyed by name: "density", "velocity_x",
	// "velocity_y", "fire", "positions", "velocities". Absent keys are
	// implicitly zero per spec.md §4.7.
	Fields map[string]Tensor

	// Series holds scalar time series keyed by name: "evacuated_count",
	// "total_occupancy", "safe_agents".
	Series map[string][]float64

	GridResolution int
	TimeSteps      int
	DT             float64
	MockData       bool
	Truncated      bool
	Warnings       []string
}

// New creates a successful, empty Envelope ready to be populated by a
// solver's stepping loop.
func New(gridResolution, timeSteps int, dt float64) *Envelope {
	return &Envelope{
		Success:        true,
		Fields:         make(map[string]Tensor),
		Series:         make(map[string][]float64),
		GridResolution: gridResolution,
		TimeSteps:      timeSteps,
		DT:             dt,
	}
}

// FromError builds a {success:false, error, error_kind} envelope per
// spec.md §7's user-visible failure contract.
func FromError(err error) *Envelope {
	kind := KindInternalNumerical
	msg := err.Error()
	var se *SolverError
	if errors.As(err, &se) {
		kind = se.Kind
		msg = se.Error()
	}
	return &Envelope{
		Success:   false,
		Error:     msg,
		ErrorKind: kind,
	}
}

// Warn appends a warning message to the envelope.
func (e *Envelope) Warn(msg string) {
	e.Warnings = append(e.Warnings, msg)
}
