package micro

import (
	"context"
	"math"
	"math/rand"
	"runtime"
	"sync"

	"github.com/mlange-42/ark/ecs"

	"github.com/pthm-cable/evacsim/config"
	"github.com/pthm-cable/evacsim/envelope"
	"github.com/pthm-cable/evacsim/raster"
	"github.com/pthm-cable/evacsim/scenario"
	"github.com/pthm-cable/evacsim/telemetry"
)

// Solver simulates individual agents under social forces, generalizing
// the teacher's ecs.Filter3[Position,Velocity,Organism]-driven
// PhysicsSystem from organisms to evacuating pedestrians.
type Solver struct {
	world  *ecs.World
	mapper *ecs.Map3[Position, Velocity, Agent]
	filter ecs.Filter3[Position, Velocity, Agent]

	scen *scenario.Scenario
	rast *raster.Raster
	cfg  config.MicroConfig

	tracker *telemetry.AgentTracker
	rng     *rand.Rand

	safeAgents  int
	currentStep int
}

// NewSolver builds a Solver for scenario s over raster r, spawning agents
// from the scenario's initial clusters and assigning each to its closest
// exit (spec.md §4.2: "closest exit at initialization, re-assignment not
// required").
func NewSolver(s *scenario.Scenario, r *raster.Raster, cfg config.MicroConfig, seed int64) (*Solver, error) {
	world := ecs.NewWorld()
	mapper := ecs.NewMap3[Position, Velocity, Agent](&world)
	filter := *ecs.NewFilter3[Position, Velocity, Agent](&world)

	sv := &Solver{
		world:   &world,
		mapper:  mapper,
		filter:  filter,
		scen:    s,
		rast:    r,
		cfg:     cfg,
		tracker: telemetry.NewAgentTracker(),
		rng:     rand.New(rand.NewSource(seed)),
	}

	for _, cluster := range s.Layout.InitialPositions {
		for i := 0; i < cluster.Count; i++ {
			sv.spawn(cluster.X, cluster.Y)
		}
	}

	return sv, nil
}

func (s *Solver) spawn(x, y float64) {
	exitIdx := s.scen.ClosestExit(x, y)
	pos := Position{X: x, Y: y}
	vel := Velocity{X: 0, Y: 0}
	agent := Agent{ExitIdx: exitIdx}
	entity := s.mapper.NewEntity(&pos, &vel, &agent)
	s.tracker.Register(uint32(entity.ID()), 0)
}

// agentTask is a per-agent snapshot used for the parallel force-computation
// phase, mirroring the teacher's organismTask: read-only inputs gathered
// sequentially, forces computed concurrently, results applied sequentially.
type agentTask struct {
	entity  ecs.Entity
	x, y    float64
	vx, vy  float64
	exitIdx int

	fx, fy float64 // computed force, written during parallel phase
}

// Run advances the simulation for steps iterations, returning a Result
// Envelope with positions, velocities and cumulative safe_agents, or a
// truncated envelope if ctx is cancelled mid-run.
func (s *Solver) Run(ctx context.Context, steps int) *envelope.Envelope {
	env := envelope.New(s.rast.N, steps, s.cfg.DT)
	nAgents := s.countAgents()

	positions := envelope.NewTensor(steps, nAgents, 2)
	velocities := envelope.NewTensor(steps, nAgents, 2)
	safeAgents := make([]float64, steps)

	for t := 0; t < steps; t++ {
		if err := ctx.Err(); err != nil {
			env.Truncated = true
			env.Warn("cancelled at step " + itoa(t))
			break
		}

		s.currentStep = t
		s.step()

		idx := 0
		query := s.filter.Query()
		for query.Next() {
			pos, vel, _ := query.Get()
			if idx < nAgents {
				positions.Set(pos.X, t, idx, 0)
				positions.Set(pos.Y, t, idx, 1)
				velocities.Set(vel.X, t, idx, 0)
				velocities.Set(vel.Y, t, idx, 1)
			}
			idx++
		}
		safeAgents[t] = float64(s.safeAgents)
	}

	env.Fields["positions"] = positions
	env.Fields["velocities"] = velocities
	env.Series["safe_agents"] = safeAgents
	return env
}

func (s *Solver) countAgents() int {
	n := 0
	query := s.filter.Query()
	for query.Next() {
		n++
	}
	return n
}

// step runs one explicit-Euler update: gather tasks, compute forces in
// parallel, integrate and apply sequentially, then remove evacuated
// agents in a second pass (ark forbids structural changes during Query
// iteration, per the teacher's cleanupDead two-pass pattern).
func (s *Solver) step() {
	tasks := s.gatherTasks()
	s.computeForcesParallel(tasks)
	s.integrateAndEvacuate(tasks)
}

func (s *Solver) gatherTasks() []agentTask {
	var tasks []agentTask
	query := s.filter.Query()
	for query.Next() {
		entity := query.Entity()
		pos, vel, agent := query.Get()
		tasks = append(tasks, agentTask{
			entity:  entity,
			x:       pos.X,
			y:       pos.Y,
			vx:      vel.X,
			vy:      vel.Y,
			exitIdx: agent.ExitIdx,
		})
	}
	return tasks
}

const minParallelAgents = 64

func (s *Solver) computeForcesParallel(tasks []agentTask) {
	if len(tasks) < minParallelAgents {
		for i := range tasks {
			s.computeForce(tasks, i)
		}
		return
	}

	workers := runtime.NumCPU()
	chunk := (len(tasks) + workers - 1) / workers
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		start := w * chunk
		end := start + chunk
		if start >= len(tasks) {
			break
		}
		if end > len(tasks) {
			end = len(tasks)
		}
		wg.Add(1)
		go func(lo, hi int) {
			defer wg.Done()
			for i := lo; i < hi; i++ {
				s.computeForce(tasks, i)
			}
		}(start, end)
	}
	wg.Wait()
}

func (s *Solver) computeForce(tasks []agentTask, i int) {
	t := &tasks[i]
	var fx, fy float64

	// Driving force toward the assigned exit.
	if t.exitIdx >= 0 {
		exit := s.scen.Layout.Exits[t.exitIdx]
		dx, dy := exit.X-t.x, exit.Y-t.y
		d := math.Hypot(dx, dy)
		var nx, ny float64
		if d > 1e-9 {
			nx, ny = dx/d, dy/d
		}
		fx += (1.0 / s.cfg.Tau) * (s.cfg.DesiredSpeed*nx - t.vx)
		fy += (1.0 / s.cfg.Tau) * (s.cfg.DesiredSpeed*ny - t.vy)
	}

	var repX, repY float64
	for j := range tasks {
		if j == i {
			continue
		}
		o := &tasks[j]
		dx, dy := t.x-o.x, t.y-o.y
		d := math.Hypot(dx, dy)
		if d >= s.cfg.AgentInteractionRange || d < 1e-9 {
			continue
		}
		nx, ny := dx/d, dy/d
		mag := s.cfg.AgentInteractionStrength * math.Exp(-d/s.cfg.AgentInteractionFalloff)
		repX += nx * mag
		repY += ny * mag
	}
	fx += repX * s.cfg.PanicFactor
	fy += repY * s.cfg.PanicFactor

	var wallX, wallY float64
	for _, w := range s.scen.Layout.Walls {
		px, py, ok := projectToSegment(t.x, t.y, w.P.X, w.P.Y, w.Q.X, w.Q.Y)
		if !ok {
			continue
		}
		dx, dy := t.x-px, t.y-py
		d := math.Hypot(dx, dy)
		if d >= s.cfg.WallRange || d < 1e-9 {
			continue
		}
		nx, ny := dx/d, dy/d
		mag := s.cfg.WallStrength * math.Exp(-d/s.cfg.WallFalloff)
		wallX += nx * mag
		wallY += ny * mag
	}
	fx += wallX
	fy += wallY

	var hazX, hazY float64
	for _, h := range s.scen.Hazards {
		dx, dy := t.x-h.Position.X, t.y-h.Position.Y
		d := math.Hypot(dx, dy)
		if d >= 2*h.Radius || d < 1e-9 {
			continue
		}
		nx, ny := dx/d, dy/d
		mag := s.cfg.HazardStrength * h.Intensity * math.Exp(-d/h.Radius)
		hazX += nx * mag
		hazY += ny * mag
	}
	fx += hazX * s.cfg.PanicFactor
	fy += hazY * s.cfg.PanicFactor

	t.fx, t.fy = fx, fy
}

// projectToSegment projects (px,py) onto segment (ax,ay)-(bx,by), clamped
// to the endpoints. Returns ok=false for a zero-length segment.
func projectToSegment(px, py, ax, ay, bx, by float64) (x, y float64, ok bool) {
	dx, dy := bx-ax, by-ay
	lenSq := dx*dx + dy*dy
	if lenSq < 1e-12 {
		return 0, 0, false
	}
	tt := ((px-ax)*dx + (py-ay)*dy) / lenSq
	if tt < 0 {
		tt = 0
	} else if tt > 1 {
		tt = 1
	}
	return ax + tt*dx, ay + tt*dy, true
}

func (s *Solver) integrateAndEvacuate(tasks []agentTask) {
	vMax := s.cfg.DesiredSpeed * (1 + 0.5*s.cfg.PanicFactor)

	type evacuee struct {
		entity  ecs.Entity
		exitIdx int
	}
	var toRemove []evacuee
	for i := range tasks {
		t := &tasks[i]

		vx := t.vx + t.fx*s.cfg.DT
		vy := t.vy + t.fy*s.cfg.DT
		speed := math.Hypot(vx, vy)
		if speed > vMax && speed > 0 {
			scale := vMax / speed
			vx *= scale
			vy *= scale
		}
		x := t.x + vx*s.cfg.DT
		y := t.y + vy*s.cfg.DT

		pos, vel, _ := s.mapper.Get(t.entity)
		pos.X, pos.Y = x, y
		vel.X, vel.Y = vx, vy

		entityID := uint32(t.entity.ID())
		s.tracker.RecordMovement(entityID, math.Hypot(x-t.x, y-t.y))
		for _, h := range s.scen.Hazards {
			if math.Hypot(x-h.Position.X, y-h.Position.Y) <= h.Radius {
				s.tracker.RecordHazardExposure(entityID, h.Intensity)
			}
		}

		if t.exitIdx >= 0 {
			exit := s.scen.Layout.Exits[t.exitIdx]
			if math.Hypot(x-exit.X, y-exit.Y) <= s.cfg.EvacRadius {
				toRemove = append(toRemove, evacuee{entity: t.entity, exitIdx: t.exitIdx})
			}
		}
	}

	for _, e := range toRemove {
		s.safeAgents++
		entityID := uint32(e.entity.ID())
		s.tracker.MarkEvacuated(entityID, s.currentStep, s.cfg.DT, e.exitIdx)
		s.mapper.Remove(e.entity)
	}
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}
