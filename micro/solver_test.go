package micro

import (
	"context"
	"testing"

	"github.com/pthm-cable/evacsim/config"
	"github.com/pthm-cable/evacsim/raster"
	"github.com/pthm-cable/evacsim/scenario"
)

func testConfig() config.MicroConfig {
	return config.MicroConfig{
		DT:                       0.1,
		Tau:                      0.5,
		DesiredSpeed:             1.4,
		PanicFactor:              0.2,
		AgentInteractionRange:    2.0,
		AgentInteractionStrength: 2.0,
		AgentInteractionFalloff:  0.8,
		WallRange:                1.0,
		WallStrength:             3.0,
		WallFalloff:              0.2,
		HazardStrength:           5.0,
		EvacRadius:               1.0,
	}
}

func openRoomScenario() *scenario.Scenario {
	return &scenario.Scenario{
		ID:        "open-room",
		NumAgents: 3,
		TimeSteps: 200,
		Layout: scenario.BuildingLayout{
			Exits: []scenario.Point{{X: 19, Y: 19}},
			InitialPositions: []scenario.InitialCluster{
				{X: 1, Y: 1, Count: 3},
			},
		},
	}
}

// emptyRoomScenario is spec.md §8's E1: a 10x10 m box with a single 1 m
// exit at (5,0), 20 agents seeded at (5,8), no hazards.
func emptyRoomScenario() *scenario.Scenario {
	return &scenario.Scenario{
		ID:        "e1-empty-room",
		NumAgents: 20,
		TimeSteps: 300,
		Layout: scenario.BuildingLayout{
			Walls: []scenario.Wall{
				{P: scenario.Point{X: 0, Y: 0}, Q: scenario.Point{X: 0, Y: 10}},
				{P: scenario.Point{X: 10, Y: 0}, Q: scenario.Point{X: 10, Y: 10}},
				{P: scenario.Point{X: 0, Y: 10}, Q: scenario.Point{X: 10, Y: 10}},
				{P: scenario.Point{X: 0, Y: 0}, Q: scenario.Point{X: 4.5, Y: 0}},
				{P: scenario.Point{X: 5.5, Y: 0}, Q: scenario.Point{X: 10, Y: 0}},
			},
			Exits:            []scenario.Point{{X: 5, Y: 0}},
			InitialPositions: []scenario.InitialCluster{{X: 5, Y: 8, Count: 20}},
		},
	}
}

// deadlockScenario is spec.md §8's E2: E1's box with an additional 4 m
// wall in front of the exit at y=1, open only at 0.5 m gaps at either end.
func deadlockScenario() *scenario.Scenario {
	s := emptyRoomScenario()
	s.ID = "e2-deadlock"
	s.TimeSteps = 500
	s.Layout.Walls = append(s.Layout.Walls, scenario.Wall{
		P: scenario.Point{X: 0.5, Y: 1}, Q: scenario.Point{X: 9.5, Y: 1},
	})
	return s
}

// TestE1EmptyRoomEvacuatesAllWithinBudget pins spec.md §8's E1
// acceptance scenario literally: all 20 agents must reach safety within
// T=300 steps under panic=1.0.
func TestE1EmptyRoomEvacuatesAllWithinBudget(t *testing.T) {
	s := emptyRoomScenario()
	r, err := raster.Rasterize(s, 40, 10)
	if err != nil {
		t.Fatalf("rasterize: %v", err)
	}
	cfg := testConfig()
	cfg.PanicFactor = 1.0

	sv, err := NewSolver(s, r, cfg, 1)
	if err != nil {
		t.Fatalf("NewSolver: %v", err)
	}

	env := sv.Run(context.Background(), 300)
	if !env.Success {
		t.Fatalf("expected success, got error %q", env.Error)
	}

	safe := env.Series["safe_agents"]
	if len(safe) != 300 {
		t.Fatalf("expected a 300-step safe_agents series, got %d", len(safe))
	}
	if got := safe[299]; got != 20 {
		t.Errorf("expected safe_agents[299] = 20, got %v", got)
	}
}

// TestE2DeadlockEvacuatesMostWithinBudget pins spec.md §8's E2
// acceptance scenario literally: at least 18/20 agents must reach safety
// within T=500 steps under panic=1.2, funneling through the two 0.5 m
// gaps in the wall that blocks the direct path to the exit.
func TestE2DeadlockEvacuatesMostWithinBudget(t *testing.T) {
	s := deadlockScenario()
	r, err := raster.Rasterize(s, 40, 10)
	if err != nil {
		t.Fatalf("rasterize: %v", err)
	}
	cfg := testConfig()
	cfg.PanicFactor = 1.2

	sv, err := NewSolver(s, r, cfg, 1)
	if err != nil {
		t.Fatalf("NewSolver: %v", err)
	}

	env := sv.Run(context.Background(), 500)
	if !env.Success {
		t.Fatalf("expected success, got error %q", env.Error)
	}

	safe := env.Series["safe_agents"]
	if len(safe) != 500 {
		t.Fatalf("expected a 500-step safe_agents series, got %d", len(safe))
	}
	if got := safe[499]; got < 18 {
		t.Errorf("expected at least 18/20 agents evacuated by step 500, got %v", got)
	}
}

func TestAgentsEventuallyEvacuate(t *testing.T) {
	s := openRoomScenario()
	r, err := raster.Rasterize(s, 20, 20)
	if err != nil {
		t.Fatalf("rasterize: %v", err)
	}

	sv, err := NewSolver(s, r, testConfig(), 1)
	if err != nil {
		t.Fatalf("NewSolver: %v", err)
	}

	env := sv.Run(context.Background(), 400)
	if !env.Success {
		t.Fatalf("expected success, got error %q", env.Error)
	}

	safe := env.Series["safe_agents"]
	if len(safe) == 0 {
		t.Fatal("expected non-empty safe_agents series")
	}
	if safe[len(safe)-1] == 0 {
		t.Errorf("expected at least one agent evacuated by step %d, got 0", len(safe))
	}
}

func TestRunRespectsCancellation(t *testing.T) {
	s := openRoomScenario()
	r, err := raster.Rasterize(s, 20, 20)
	if err != nil {
		t.Fatalf("rasterize: %v", err)
	}
	sv, err := NewSolver(s, r, testConfig(), 1)
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

func TestProjectToSegmentDegenerateWall(t *testing.T) {
	if _, _, ok := projectToSegment(0, 0, 5, 5, 5, 5); ok {
		t.Error("expected ok=false for a zero-length wall segment")
	}
}

func TestProjectToSegmentClampsToEndpoints(t *testing.T) {
	x, y, ok := projectToSegment(-5, 0, 0, 0, 10, 0)
	if !ok {
		t.Fatal("expected ok=true")
	}
	if x != 0 || y != 0 {
		t.Errorf("expected projection clamped to (0,0), got (%v,%v)", x, y)
	}
}

func TestSolverHandlesNoExitsGracefully(t *testing.T) {
	s := openRoomScenario()
	r, err := raster.Rasterize(s, 20, 20)
	if err != nil {
		t.Fatalf("rasterize: %v", err)
	}
	s.Layout.Exits = nil // agents cannot find an exit after rasterization

	sv, err := NewSolver(s, r, testConfig(), 1)
	if err != nil {
		t.Fatalf("NewSolver: %v", err)
	}

	env := sv.Run(context.Background(), 10)
	if !env.Success {
		t.Fatalf("expected success even with no exits assigned, got error %q", env.Error)
	}
}

func TestManyAgentsTriggersParallelPath(t *testing.T) {
	s := &scenario.Scenario{
		ID:        "crowd",
		NumAgents: 100,
		TimeSteps: 50,
		Layout: scenario.BuildingLayout{
			Exits: []scenario.Point{{X: 19, Y: 19}},
			InitialPositions: []scenario.InitialCluster{
				{X: 2, Y: 2, Count: 100},
			},
		},
	}
	r, err := raster.Rasterize(s, 20, 20)
	if err != nil {
		t.Fatalf("rasterize: %v", err)
	}
	sv, err := NewSolver(s, r, testConfig(), 7)
	if err != nil {
		t.Fatalf("NewSolver: %v", err)
	}

	env := sv.Run(context.Background(), 20)
	if !env.Success {
		t.Fatalf("expected success, got error %q", env.Error)
	}
}
