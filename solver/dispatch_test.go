package solver

import (
	"context"
	"testing"

	"github.com/pthm-cable/evacsim/config"
	"github.com/pthm-cable/evacsim/envelope"
	"github.com/pthm-cable/evacsim/scenario"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.Load("")
	if err != nil {
		t.Fatalf("loading embedded defaults: %v", err)
	}
	return cfg
}

func openRoomScenario() *scenario.Scenario {
	return &scenario.Scenario{
		ID:        "solver-open-room",
		NumAgents: 10,
		TimeSteps: 50,
		Layout: scenario.BuildingLayout{
			Exits: []scenario.Point{{X: 19, Y: 19}},
			InitialPositions: []scenario.InitialCluster{
				{X: 5, Y: 5, Count: 10},
			},
		},
	}
}

func TestRunRejectsScenarioWithoutExits(t *testing.T) {
	cfg := testConfig(t)
	s := &scenario.Scenario{ID: "no-exits"}
	env := Run(context.Background(), cfg, s, ScaleMicro, RequestOptions{GridResolution: 20, TimeSteps: 10})
	if env.Success {
		t.Fatal("expected failure for a scenario with no exits")
	}
	if env.ErrorKind != envelope.KindInvalidScenario {
		t.Errorf("expected KindInvalidScenario, got %v", env.ErrorKind)
	}
}

func TestRunForcesMockOnDevMode(t *testing.T) {
	cfg := testConfig(t)
	s := openRoomScenario()
	env := Run(context.Background(), cfg, s, ScaleMacro, RequestOptions{
		GridResolution: 20, TimeSteps: 10, DevMode: "mock",
	})
	if !env.Success {
		t.Fatalf("expected success, got %q", env.Error)
	}
	if !env.MockData {
		t.Error("expected MockData=true when DEV_MODE=mock")
	}
}

func TestRunDownshiftsOnOversizedGrid(t *testing.T) {
	cfg := testConfig(t)
	s := openRoomScenario()
	env := Run(context.Background(), cfg, s, ScaleMacro, RequestOptions{
		GridResolution: 500, TimeSteps: 10,
	})
	if !env.Success {
		t.Fatalf("expected success, got %q", env.Error)
	}
	if !env.MockData {
		t.Error("expected MockData=true for a grid resolution above the cap")
	}
}

func TestRunMicroProducesPositionsAndVelocities(t *testing.T) {
	cfg := testConfig(t)
	s := openRoomScenario()
	env := Run(context.Background(), cfg, s, ScaleMicro, RequestOptions{
		GridResolution: 20, TimeSteps: 10, NumAgents: 10,
	})
	if !env.Success {
		t.Fatalf("expected success, got %q", env.Error)
	}
	if _, ok := env.Fields["positions"]; !ok {
		t.Error("expected a positions field from the micro solver")
	}
}

func TestRunMesoProducesDensityField(t *testing.T) {
	cfg := testConfig(t)
	s := openRoomScenario()
	env := Run(context.Background(), cfg, s, ScaleMeso, RequestOptions{
		GridResolution: 20, TimeSteps: 10,
	})
	if !env.Success {
		t.Fatalf("expected success, got %q", env.Error)
	}
	if _, ok := env.Fields["density"]; !ok {
		t.Error("expected a density field from the meso solver")
	}
}

func TestRunMacroProducesFireField(t *testing.T) {
	cfg := testConfig(t)
	s := openRoomScenario()
	env := Run(context.Background(), cfg, s, ScaleMacro, RequestOptions{
		GridResolution: 20, TimeSteps: 10,
	})
	if !env.Success {
		t.Fatalf("expected success, got %q", env.Error)
	}
	if _, ok := env.Fields["fire"]; !ok {
		t.Error("expected a fire field from the macro solver")
	}
}

func TestRunRLProducesEvacuatedSeries(t *testing.T) {
	cfg := testConfig(t)
	s := openRoomScenario()
	env := Run(context.Background(), cfg, s, ScaleRL, RequestOptions{
		GridResolution: 20, TimeSteps: 20, NumAgents: 5,
	})
	if !env.Success {
		t.Fatalf("expected success, got %q", env.Error)
	}
	if _, ok := env.Series["evacuated_count"]; !ok {
		t.Error("expected an evacuated_count series from the RL scale")
	}
}

// TestE6MockEnvelopeMatchesNativeShapes pins spec.md §8's E6 acceptance
// scenario literally: a mock-oracle run and a native macro run over the
// same scenario and grid/step parameters must produce envelopes whose
// tensor shapes agree field-for-field.
func TestE6MockEnvelopeMatchesNativeShapes(t *testing.T) {
	cfg := testConfig(t)
	s := openRoomScenario()
	opts := RequestOptions{GridResolution: 20, TimeSteps: 10}

	native := Run(context.Background(), cfg, s, ScaleMacro, opts)
	if !native.Success {
		t.Fatalf("native run: expected success, got %q", native.Error)
	}

	mockOpts := opts
	mockOpts.DevMode = "mock"
	mocked := Run(context.Background(), cfg, s, ScaleMacro, mockOpts)
	if !mocked.Success {
		t.Fatalf("mock run: expected success, got %q", mocked.Error)
	}
	if !mocked.MockData {
		t.Fatal("expected MockData=true for the DEV_MODE=mock run")
	}

	for name, nativeField := range native.Fields {
		mockField, ok := mocked.Fields[name]
		if !ok {
			t.Errorf("mock envelope missing field %q present in native envelope", name)
			continue
		}
		if len(nativeField.Shape) != len(mockField.Shape) {
			t.Errorf("field %q: shape rank mismatch native=%v mock=%v", name, nativeField.Shape, mockField.Shape)
			continue
		}
		for i := range nativeField.Shape {
			if nativeField.Shape[i] != mockField.Shape[i] {
				t.Errorf("field %q: shape mismatch native=%v mock=%v", name, nativeField.Shape, mockField.Shape)
				break
			}
		}
	}
}

func TestRunRespectsCancellationForMicro(t *testing.T) {
	cfg := testConfig(t)
	s := openRoomScenario()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	env := Run(ctx, cfg, s, ScaleMicro, RequestOptions{GridResolution: 20, TimeSteps: 50, NumAgents: 10})
	if !env.Success {
		t.Fatalf("expected success envelope even when truncated, got %q", env.Error)
	}
	if !env.Truncated {
		t.Error("expected Truncated=true for a pre-cancelled context")
	}
}

func TestScenarioWithAgentCountPreservesTotal(t *testing.T) {
	s := &scenario.Scenario{
		Layout: scenario.BuildingLayout{
			InitialPositions: []scenario.InitialCluster{
				{X: 1, Y: 1, Count: 10},
				{X: 2, Y: 2, Count: 30},
			},
		},
	}
	scaled := scenarioWithAgentCount(s, 20)
	total := 0
	for _, c := range scaled.Layout.InitialPositions {
		total += c.Count
	}
	if total != 20 {
		t.Errorf("expected scaled cluster counts to total 20, got %d", total)
	}
}

func TestNumericalGuardTripsOnPersistentNaN(t *testing.T) {
	tensor := envelope.NewTensor(5, 2, 2)
	for t := 2; t < 5; t++ {
		for i := 0; i < 4; i++ {
			tensor.Data[t*4+i] = nan()
		}
	}
	env := &envelope.Envelope{Success: true, Fields: map[string]envelope.Tensor{"density": tensor}}
	if !numericalGuardTripped(env) {
		t.Fatal("expected the numerical guard to trip on 3 consecutive NaN-filled steps")
	}
}

func TestNumericalGuardIgnoresTransientNaN(t *testing.T) {
	tensor := envelope.NewTensor(5, 2, 2)
	tensor.Data[1*4] = nan()
	env := &envelope.Envelope{Success: true, Fields: map[string]envelope.Tensor{"density": tensor}}
	if numericalGuardTripped(env) {
		t.Fatal("expected the numerical guard not to trip on a single transient NaN step")
	}
}

func nan() float64 {
	var zero float64
	return zero / zero
}
