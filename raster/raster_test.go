package raster

import (
	"math"
	"testing"

	"github.com/pthm-cable/evacsim/scenario"
)

func simpleScenario() *scenario.Scenario {
	return &scenario.Scenario{
		ID:        "s1",
		NumAgents: 1,
		TimeSteps: 10,
		Layout: scenario.BuildingLayout{
			Walls: []scenario.Wall{
				{P: scenario.Point{X: 0, Y: 5}, Q: scenario.Point{X: 15, Y: 5}},
			},
			Exits: []scenario.Point{{X: 19, Y: 19}},
			InitialPositions: []scenario.InitialCluster{
				{X: 2, Y: 2, Count: 1},
			},
		},
		Hazards: []scenario.Hazard{
			{Position: scenario.Point{X: 10, Y: 10}, Type: scenario.HazardFire, Radius: 3, Intensity: 5},
		},
	}
}

func TestRasterizeWallExitDisjoint(t *testing.T) {
	r, err := Rasterize(simpleScenario(), 50, 20)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for i := range r.WallMask {
		if r.WallMask[i] && r.ExitMask[i] {
			t.Fatalf("cell %d is both wall and exit", i)
		}
	}
}

func TestRasterizeNoExitsFails(t *testing.T) {
	s := simpleScenario()
	s.Layout.Exits = nil
	if _, err := Rasterize(s, 50, 20); err == nil {
		t.Fatal("expected error for scenario with no exits")
	}
}

func TestRasterizeRejectsNonPositiveN(t *testing.T) {
	if _, err := Rasterize(simpleScenario(), 0, 20); err == nil {
		t.Fatal("expected error for non-positive grid resolution")
	}
}

func TestRasterizeIsIdempotent(t *testing.T) {
	s := simpleScenario()
	r1, err := Rasterize(s, 40, 20)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	r2, err := Rasterize(s, 40, 20)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	for i := range r1.WallMask {
		if r1.WallMask[i] != r2.WallMask[i] {
			t.Fatalf("wall mask diverged at cell %d", i)
		}
		if r1.ExitMask[i] != r2.ExitMask[i] {
			t.Fatalf("exit mask diverged at cell %d", i)
		}
		if r1.AggregateHazard[i] != r2.AggregateHazard[i] {
			t.Fatalf("hazard field diverged at cell %d", i)
		}
		d1, d2 := r1.ExitDistance[i], r2.ExitDistance[i]
		if math.IsInf(d1, 1) != math.IsInf(d2, 1) {
			t.Fatalf("exit distance infinity diverged at cell %d", i)
		}
		if !math.IsInf(d1, 1) && d1 != d2 {
			t.Fatalf("exit distance diverged at cell %d: %v vs %v", i, d1, d2)
		}
	}
}

func TestExitDistanceZeroAtExit(t *testing.T) {
	r, err := Rasterize(simpleScenario(), 50, 20)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	gx, gy := r.WorldToGrid(19, 19)
	d := r.ExitDistance[r.Idx(gx, gy)]
	if d != 0 {
		t.Fatalf("expected zero distance at exit cell, got %v", d)
	}
}

func TestExitDistanceInfiniteOnSealedWall(t *testing.T) {
	r, err := Rasterize(simpleScenario(), 50, 20)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for i, isWall := range r.WallMask {
		if isWall && !math.IsInf(r.ExitDistance[i], 1) {
			t.Fatalf("expected +Inf distance on wall cell %d, got %v", i, r.ExitDistance[i])
		}
	}
}

func TestHazardFieldNonNegative(t *testing.T) {
	r, err := Rasterize(simpleScenario(), 50, 20)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for i, v := range r.AggregateHazard {
		if v < 0 {
			t.Fatalf("negative hazard value at cell %d: %v", i, v)
		}
	}
}

func TestInitialDensitySumsClusters(t *testing.T) {
	s := simpleScenario()
	r, err := Rasterize(s, 50, 20)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	rho := r.InitialDensity(s)
	gx, gy := r.WorldToGrid(2, 2)
	want := 1.0 / (r.DX * r.DY)
	got := rho[r.Idx(gx, gy)]
	if math.Abs(got-want) > 1e-9 {
		t.Fatalf("InitialDensity at cluster cell = %v, want %v", got, want)
	}
}

func TestInitialDensityRadialHumpFallback(t *testing.T) {
	s := simpleScenario()
	s.Layout.InitialPositions = nil
	r, err := Rasterize(s, 50, 20)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	rho := r.InitialDensity(s)
	total := 0.0
	for _, v := range rho {
		total += v
	}
	if total <= 0 {
		t.Fatal("expected positive total density from the radial-hump fallback")
	}
}

func TestWorldToGridClampsOutOfBounds(t *testing.T) {
	r, err := Rasterize(simpleScenario(), 10, 20)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	gx, gy := r.WorldToGrid(1000, -1000)
	if gx < 0 || gx >= r.N || gy < 0 || gy >= r.N {
		t.Fatalf("expected clamped grid coords, got (%d, %d)", gx, gy)
	}
}
