// Package micro implements the microscopic social-force solver: each
// pedestrian is an ECS entity under driving, inter-agent repulsion, wall
// repulsion, and hazard-avoidance forces, integrated with explicit Euler.
// Generalized from the teacher's PhysicsSystem (ecs.Filter3[Position,
// Velocity, Organism]) to evacuating pedestrians instead of organisms.
package micro

// Position is an agent's world-space location in meters.
type Position struct {
	X, Y float64
}

// Velocity is an agent's current velocity in meters/second.
type Velocity struct {
	X, Y float64
}

// Agent holds the per-pedestrian state not covered by Position/Velocity.
type Agent struct {
	ExitIdx int // index into scenario.Layout.Exits assigned at spawn
}
