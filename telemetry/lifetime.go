package telemetry

// AgentStats tracks per-agent statistics over an agent's time in a
// simulation run, keyed by entity ID. Adapted from the teacher's
// LifetimeTracker: same register/update/remove-on-exit shape, applied to
// evacuation outcomes instead of organism lifespans.
type AgentStats struct {
	SpawnStep       int
	ExitTimeSec     float64
	DistanceWalked  float64
	HazardExposure  float64 // integral of hazard intensity encountered
	ExitUsed        int
	Evacuated       bool
}

// AgentTracker manages per-agent statistics for a single simulation run.
type AgentTracker struct {
	stats map[uint32]*AgentStats
}

// NewAgentTracker creates a new agent tracker.
func NewAgentTracker() *AgentTracker {
	return &AgentTracker{stats: make(map[uint32]*AgentStats)}
}

// Register begins tracking a newly spawned agent.
func (at *AgentTracker) Register(entityID uint32, spawnStep int) {
	at.stats[entityID] = &AgentStats{SpawnStep: spawnStep}
}

// Get returns the stats for an agent, or nil if not tracked.
func (at *AgentTracker) Get(entityID uint32) *AgentStats {
	return at.stats[entityID]
}

// RecordMovement accumulates distance walked this step.
func (at *AgentTracker) RecordMovement(entityID uint32, dist float64) {
	if s := at.stats[entityID]; s != nil {
		s.DistanceWalked += dist
	}
}

// RecordHazardExposure accumulates hazard intensity encountered this step.
func (at *AgentTracker) RecordHazardExposure(entityID uint32, intensity float64) {
	if s := at.stats[entityID]; s != nil {
		s.HazardExposure += intensity
	}
}

// MarkEvacuated finalizes an agent's stats at the step it reached an exit.
func (at *AgentTracker) MarkEvacuated(entityID uint32, step int, dt float64, exitIdx int) {
	s := at.stats[entityID]
	if s == nil {
		return
	}
	s.Evacuated = true
	s.ExitUsed = exitIdx
	s.ExitTimeSec = float64(step-s.SpawnStep) * dt
}

// Remove stops tracking an agent and returns its final stats.
func (at *AgentTracker) Remove(entityID uint32) *AgentStats {
	s := at.stats[entityID]
	delete(at.stats, entityID)
	return s
}

// All returns all currently tracked agents.
func (at *AgentTracker) All() map[uint32]*AgentStats {
	return at.stats
}

// Count returns the number of agents currently tracked.
func (at *AgentTracker) Count() int {
	return len(at.stats)
}
