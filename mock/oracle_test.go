package mock

import (
	"math"
	"testing"

	"github.com/pthm-cable/evacsim/raster"
	"github.com/pthm-cable/evacsim/scenario"
)

func fireScenario() *scenario.Scenario {
	return &scenario.Scenario{
		ID:        "mock-fire",
		NumAgents: 20,
		TimeSteps: 100,
		Layout: scenario.BuildingLayout{
			Exits: []scenario.Point{{X: 10, Y: 0}},
			InitialPositions: []scenario.InitialCluster{
				{X: 5, Y: 5, Count: 20},
			},
		},
		Hazards: []scenario.Hazard{
			{Position: scenario.Point{X: 5, Y: 5}, Type: scenario.HazardFire, Radius: 2, Intensity: 0.9},
		},
	}
}

func TestTriggerOnDevMode(t *testing.T) {
	use, grid, steps := Trigger("mock", 50, 100)
	if !use || grid != 50 || steps != 100 {
		t.Fatalf("expected DEV_MODE=mock to trigger without capping, got use=%v grid=%d steps=%d", use, grid, steps)
	}
}

func TestTriggerOnResourceCaps(t *testing.T) {
	use, grid, steps := Trigger("", 300, 400)
	if !use {
		t.Fatal("expected resource caps to trigger the mock oracle")
	}
	if grid != MaxGridResolution || steps != MaxTimeSteps {
		t.Fatalf("expected capped grid=%d steps=%d, got grid=%d steps=%d", MaxGridResolution, MaxTimeSteps, grid, steps)
	}
}

func TestTriggerOffUnderCaps(t *testing.T) {
	use, grid, steps := Trigger("", 50, 100)
	if use {
		t.Fatal("expected no trigger for a request within the resource caps")
	}
	if grid != 50 || steps != 100 {
		t.Fatal("expected unmodified grid/steps when not triggered")
	}
}

func TestRunMarksMockData(t *testing.T) {
	s := fireScenario()
	r, err := raster.Rasterize(s, 30, 20)
	if err != nil {
		t.Fatalf("rasterize: %v", err)
	}
	env := Run(s, r, 40)
	if !env.Success {
		t.Fatalf("expected success, got %q", env.Error)
	}
	if !env.MockData {
		t.Error("expected MockData=true")
	}
}

func TestRunMatchesNativeTensorShapes(t *testing.T) {
	s := fireScenario()
	r, err := raster.Rasterize(s, 30, 20)
	if err != nil {
		t.Fatalf("rasterize: %v", err)
	}
	const steps = 40
	env := Run(s, r, steps)

	for _, name := range []string{"density", "velocity_x", "velocity_y", "fire"} {
		tensor, ok := env.Fields[name]
		if !ok {
			t.Fatalf("expected field %q to be present", name)
		}
		if len(tensor.Shape) != 3 || tensor.Shape[0] != steps || tensor.Shape[1] != r.N || tensor.Shape[2] != r.N {
			t.Fatalf("field %q has unexpected shape %v", name, tensor.Shape)
		}
	}
	if len(env.Series["evacuated_count"]) != steps {
		t.Fatalf("expected evacuated_count length %d, got %d", steps, len(env.Series["evacuated_count"]))
	}
}

func TestDensityDecaysMonotonically(t *testing.T) {
	s := fireScenario()
	r, err := raster.Rasterize(s, 30, 20)
	if err != nil {
		t.Fatalf("rasterize: %v", err)
	}
	env := Run(s, r, 40)
	density := env.Fields["density"]

	gx, gy := r.WorldToGrid(5, 5)
	prev := math.Inf(1)
	for t := 0; t < 40; t++ {
		v := density.At(t, gy, gx)
		if v > prev+1e-9 {
			t.Fatalf("density increased at step %d: prev=%v cur=%v", t, prev, v)
		}
		prev = v
	}
}

func TestEvacuatedCountMonotonicAndSaturates(t *testing.T) {
	s := fireScenario()
	r, err := raster.Rasterize(s, 30, 20)
	if err != nil {
		t.Fatalf("rasterize: %v", err)
	}
	initialMass := r.InitialDensity(s)
	var totalInitial float64
	for _, v := range initialMass {
		totalInitial += v
	}

	env := Run(s, r, 100)
	series := env.Series["evacuated_count"]

	prev := -1.0
	for _, v := range series {
		if v < prev {
			t.Fatalf("evacuated_count decreased: prev=%v cur=%v", prev, v)
		}
		prev = v
	}

	last := series[len(series)-1]
	if last > 0.9*totalInitial+1e-6 {
		t.Errorf("evacuated_count[T-1]=%v exceeds 0.9*initial_mass=%v", last, 0.9*totalInitial)
	}
}

func TestFireFreezesAfterMidpoint(t *testing.T) {
	s := fireScenario()
	r, err := raster.Rasterize(s, 30, 20)
	if err != nil {
		t.Fatalf("rasterize: %v", err)
	}
	env := Run(s, r, 20)
	fire := env.Fields["fire"]

	gx, gy := r.WorldToGrid(5, 5)
	mid := fire.At(10, gy, gx)
	late := fire.At(19, gy, gx)
	if late != mid {
		t.Errorf("expected fire to freeze past the midpoint: mid=%v late=%v", mid, late)
	}
}

func TestVelocityFieldIsUnitLengthOffWalls(t *testing.T) {
	s := fireScenario()
	r, err := raster.Rasterize(s, 30, 20)
	if err != nil {
		t.Fatalf("rasterize: %v", err)
	}
	env := Run(s, r, 5)
	velX, velY := env.Fields["velocity_x"], env.Fields["velocity_y"]

	for gy := 0; gy < r.N; gy++ {
		for gx := 0; gx < r.N; gx++ {
			idx := r.Idx(gx, gy)
			if r.WallMask[idx] || math.IsInf(r.ExitDistance[idx], 1) {
				continue
			}
			mag := math.Hypot(velX.At(0, gy, gx), velY.At(0, gy, gx))
			if math.Abs(mag-1) > 1e-6 {
				t.Fatalf("expected unit-length velocity at (%d,%d), got %v", gx, gy, mag)
			}
		}
	}
}

// walledRoomScenario is a 20x20 box with a wall spanning the room at
// y=10, used to exercise the wall-adjacent ExitDistance/Gradient path
// that fireScenario (no walls at all) never touches.
func walledRoomScenario() *scenario.Scenario {
	return &scenario.Scenario{
		ID:        "mock-walled",
		NumAgents: 10,
		TimeSteps: 30,
		Layout: scenario.BuildingLayout{
			Walls: []scenario.Wall{
				{P: scenario.Point{X: 0, Y: 10}, Q: scenario.Point{X: 20, Y: 10}},
			},
			Exits: []scenario.Point{{X: 19, Y: 19}},
			InitialPositions: []scenario.InitialCluster{
				{X: 2, Y: 2, Count: 10},
			},
		},
	}
}

func TestWallCellsStayZero(t *testing.T) {
	s := walledRoomScenario()
	r, err := raster.Rasterize(s, 30, 20)
	if err != nil {
		t.Fatalf("rasterize: %v", err)
	}
	env := Run(s, r, 10)
	density := env.Fields["density"]
	for i, wall := range r.WallMask {
		if !wall {
			continue
		}
		gy, gx := i/r.N, i%r.N
		for t := 0; t < 10; t++ {
			if density.At(t, gy, gx) != 0 {
				t.Fatalf("wall cell (%d,%d) has nonzero density at step %d", gx, gy, t)
			}
		}
	}
}

// TestVelocityFieldHasNoNaNOrInfNearWalls exercises the cells
// TestVelocityFieldIsUnitLengthOffWalls never reaches (it uses the
// wall-free fireScenario): non-wall cells 4-adjacent to a wall, whose
// ExitDistance neighbor reads include the +Inf sentinel stored on wall
// cells. Gradient must treat that as "no data" rather than differencing
// against it, or exitPointingField produces NaN at every such cell.
func TestVelocityFieldHasNoNaNOrInfNearWalls(t *testing.T) {
	s := walledRoomScenario()
	r, err := raster.Rasterize(s, 30, 20)
	if err != nil {
		t.Fatalf("rasterize: %v", err)
	}
	env := Run(s, r, 10)

	for _, name := range []string{"velocity_x", "velocity_y"} {
		field := env.Fields[name]
		for i, v := range field.Data {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				t.Fatalf("%s contains a non-finite value %v at flat index %d", name, v, i)
			}
		}
	}
}
