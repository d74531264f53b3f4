package envelope

import (
	"errors"
	"testing"
)

func TestTensorAtSet(t *testing.T) {
	tens := NewTensor(2, 3, 3)
	tens.Set(1.5, 1, 2, 0)
	if got := tens.At(1, 2, 0); got != 1.5 {
		t.Fatalf("got %v, want 1.5", got)
	}
	if got := tens.At(0, 0, 0); got != 0 {
		t.Fatalf("expected zero value, got %v", got)
	}
}

func TestFromErrorUnwrapsSolverError(t *testing.T) {
	cause := errors.New("no exits")
	se := NewSolverError(KindInvalidScenario, cause)

	env := FromError(se)
	if env.Success {
		t.Fatal("expected Success=false")
	}
	if env.ErrorKind != KindInvalidScenario {
		t.Fatalf("got kind %v", env.ErrorKind)
	}
}

func TestFromErrorDefaultsToInternalNumerical(t *testing.T) {
	env := FromError(errors.New("boom"))
	if env.ErrorKind != KindInternalNumerical {
		t.Fatalf("got kind %v", env.ErrorKind)
	}
}

func TestNewEnvelopeDefaults(t *testing.T) {
	env := New(50, 100, 0.1)
	if !env.Success {
		t.Fatal("expected Success=true")
	}
	if env.Fields == nil || env.Series == nil {
		t.Fatal("expected initialized maps")
	}
}
