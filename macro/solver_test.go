package macro

import (
	"context"
	"math"
	"testing"

	"github.com/pthm-cable/evacsim/config"
	"github.com/pthm-cable/evacsim/raster"
	"github.com/pthm-cable/evacsim/scenario"
)

func testConfig() config.MacroConfig {
	return config.MacroConfig{
		DT:                        0.1,
		Diffusion:                 0.5,
		ExitSinkRate:              1.5,
		FireReactionRate:          0.2,
		VelocityRecomputeInterval: 10,
		FireHazardFeedback:        0.5,
	}
}

// fireScenario mirrors the acceptance scenario: a 20x20 box with one exit
// at (10,0) and a fire hazard at (5,5), radius 2, intensity 0.9.
func fireScenario() *scenario.Scenario {
	return &scenario.Scenario{
		ID:        "e4-macro-fire",
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

func TestDensityDropsNearFire(t *testing.T) {
	s := fireScenario()
	r, err := raster.Rasterize(s, 40, 20)
	if err != nil {
		t.Fatalf("rasterize: %v", err)
	}
	sv, err := NewSolver(s, r, testConfig())
	if err != nil {
		t.Fatalf("NewSolver: %v", err)
	}

	gx, gy := r.WorldToGrid(5, 5)
	idx := r.Idx(gx, gy)
	initial := sv.rho[idx]
	if initial <= 0 {
		t.Fatal("expected positive initial density at the fire cell")
	}

	env := sv.Run(context.Background(), 100)
	if !env.Success {
		t.Fatalf("expected success, got %q", env.Error)
	}

	density := env.Fields["density"]
	final := density.At(99, gy, gx)
	if final >= initial {
		t.Errorf("expected density near fire to decrease from its initial value: initial=%v final=%v", initial, final)
	}
	if final < 0 {
		t.Errorf("density must never go negative, got %v", final)
	}
}

// TestE4FireDensityDropsBelowTenPercentOfInitial pins spec.md §8's E4
// acceptance threshold literally: in cells where the fire field exceeds
// 0.5, density must fall below 10% of its initial value by T=100.
func TestE4FireDensityDropsBelowTenPercentOfInitial(t *testing.T) {
	s := fireScenario()
	r, err := raster.Rasterize(s, 40, 20)
	if err != nil {
		t.Fatalf("rasterize: %v", err)
	}
	sv, err := NewSolver(s, r, testConfig())
	if err != nil {
		t.Fatalf("NewSolver: %v", err)
	}

	initial := make([]float64, len(sv.rho))
	copy(initial, sv.rho)

	env := sv.Run(context.Background(), 100)
	if !env.Success {
		t.Fatalf("expected success, got %q", env.Error)
	}

	density := env.Fields["density"]
	fire := env.Fields["fire"]
	checked := 0
	for i := range initial {
		if initial[i] <= 0 {
			continue
		}
		gy, gx := i/r.N, i%r.N
		if fire.At(99, gy, gx) <= 0.5 {
			continue
		}
		checked++
		final := density.At(99, gy, gx)
		if final >= 0.1*initial[i] {
			t.Errorf("expected density at (%d,%d) below 10%% of initial %v by T=100, got %v", gx, gy, initial[i], final)
		}
	}
	if checked == 0 {
		t.Fatal("expected at least one cell with fire > 0.5 and positive initial density")
	}
}

func TestFireFreezesAfterMidpoint(t *testing.T) {
	s := fireScenario()
	r, err := raster.Rasterize(s, 40, 20)
	if err != nil {
		t.Fatalf("rasterize: %v", err)
	}
	sv, err := NewSolver(s, r, testConfig())
	if err != nil {
		t.Fatalf("NewSolver: %v", err)
	}

	env := sv.Run(context.Background(), 20)
	if !env.Success {
		t.Fatalf("expected success, got %q", env.Error)
	}

	fire := env.Fields["fire"]
	n := r.N
	for gy := 0; gy < n; gy++ {
		for gx := 0; gx < n; gx++ {
			late := fire.At(19, gy, gx)
			frozen := fire.At(18, gy, gx)
			if late != frozen {
				t.Fatalf("expected fire to be frozen past the midpoint at (%d,%d): step18=%v step19=%v", gx, gy, frozen, late)
			}
		}
	}
}

func TestFireFieldStaysWithinUnitRange(t *testing.T) {
	s := fireScenario()
	r, err := raster.Rasterize(s, 40, 20)
	if err != nil {
		t.Fatalf("rasterize: %v", err)
	}
	sv, err := NewSolver(s, r, testConfig())
	if err != nil {
		t.Fatalf("NewSolver: %v", err)
	}

	env := sv.Run(context.Background(), 50)
	if !env.Success {
		t.Fatalf("expected success, got %q", env.Error)
	}
	fire := env.Fields["fire"]
	for _, v := range fire.Data {
		if v < 0 || v > 1 {
			t.Fatalf("fire value out of [0,1] range: %v", v)
		}
	}
}

// walledRoomScenario is a 20x20 box with a wall spanning the room at
// y=10, used to exercise the wall-adjacent ExitDistance/Gradient path
// that fireScenario (no walls at all) never touches.
func walledRoomScenario() *scenario.Scenario {
	return &scenario.Scenario{
		ID:        "walled-room",
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

func TestWallCellsStayZeroDensityAndFire(t *testing.T) {
	s := walledRoomScenario()
	r, err := raster.Rasterize(s, 30, 20)
	if err != nil {
		t.Fatalf("rasterize: %v", err)
	}
	sv, err := NewSolver(s, r, testConfig())
	if err != nil {
		t.Fatalf("NewSolver: %v", err)
	}

	env := sv.Run(context.Background(), 30)
	if !env.Success {
		t.Fatalf("expected success, got %q", env.Error)
	}
	density := env.Fields["density"]
	for i, wall := range r.WallMask {
		if !wall {
			continue
		}
		gy, gx := i/r.N, i%r.N
		for step := 0; step < 30; step++ {
			if density.At(step, gy, gx) != 0 {
				t.Fatalf("wall cell (%d,%d) has nonzero density at step %d", gx, gy, step)
			}
		}
	}
}

func TestRunRespectsCancellation(t *testing.T) {
	s := fireScenario()
	r, err := raster.Rasterize(s, 40, 20)
	if err != nil {
		t.Fatalf("rasterize: %v", err)
	}
	sv, err := NewSolver(s, r, testConfig())
	if err != nil {
		t.Fatalf("NewSolver: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	env := sv.Run(ctx, 50)
	if !env.Truncated {
		t.Error("expected Truncated=true for a pre-cancelled context")
	}
}

func TestRecomputeVelocityProducesUnitVectorsAwayFromWalls(t *testing.T) {
	s := fireScenario()
	r, err := raster.Rasterize(s, 40, 20)
	if err != nil {
		t.Fatalf("rasterize: %v", err)
	}
	sv, err := NewSolver(s, r, testConfig())
	if err != nil {
		t.Fatalf("NewSolver: %v", err)
	}

	for i := range sv.velX {
		if r.WallMask[i] {
			continue
		}
		mag := math.Hypot(sv.velX[i], sv.velY[i])
		if mag > 1e-9 && math.Abs(mag-1) > 1e-6 {
			t.Fatalf("expected unit-magnitude velocity or zero, got %v at cell %d", mag, i)
		}
	}
}

// TestVelocityFieldHasNoNaNOrInfNearWalls exercises the cells the other
// macro tests never reach: non-wall cells 4-adjacent to a wall, whose
// ExitDistance neighbor reads include the +Inf sentinel stored on wall
// cells. Gradient must treat that as "no data" rather than differencing
// against it, or this produces NaN in the recomputed velocity field.
func TestVelocityFieldHasNoNaNOrInfNearWalls(t *testing.T) {
	s := walledRoomScenario()
	r, err := raster.Rasterize(s, 30, 20)
	if err != nil {
		t.Fatalf("rasterize: %v", err)
	}
	sv, err := NewSolver(s, r, testConfig())
	if err != nil {
		t.Fatalf("NewSolver: %v", err)
	}

	env := sv.Run(context.Background(), 30)
	if !env.Success {
		t.Fatalf("expected success, got %q", env.Error)
	}

	for _, name := range []string{"velocity_x", "velocity_y"} {
		field := env.Fields[name]
		for i, v := range field.Data {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				t.Fatalf("%s contains a non-finite value %v at flat index %d", name, v, i)
			}
		}
	}
}
