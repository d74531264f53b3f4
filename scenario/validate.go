package scenario

import (
	"fmt"
	"log/slog"
	"math"
)

// Validate checks a Scenario against the invariants in spec.md §4.1/§7.
// It rejects scenarios with zero exits; a scenario with zero walls is
// accepted but logs a warning, since an unobstructed room is a legal (if
// unusual) input.
func (s *Scenario) Validate() error {
	if len(s.Layout.Exits) == 0 {
		return fmt.Errorf("%w: scenario %q has no exits", ErrNoExits, s.ID)
	}

	if len(s.Layout.Walls) == 0 {
		slog.Warn("scenario has no walls", "scenario_id", s.ID)
	}

	for i, w := range s.Layout.Walls {
		if !finitePoint(w.P) || !finitePoint(w.Q) {
			return fmt.Errorf("%w: wall %d has non-finite coordinates", ErrMalformedWall, i)
		}
	}

	if s.NumAgents < 0 {
		return fmt.Errorf("%w: num_agents must be >= 0, got %d", ErrInvalidParameters, s.NumAgents)
	}
	if s.TimeSteps < 0 {
		return fmt.Errorf("%w: time_steps must be >= 0, got %d", ErrInvalidParameters, s.TimeSteps)
	}
	for i, c := range s.Layout.InitialPositions {
		if c.Count < 0 {
			return fmt.Errorf("%w: initial cluster %d has negative count %d", ErrInvalidParameters, i, c.Count)
		}
	}

	return nil
}

func finitePoint(p Point) bool {
	return !math.IsNaN(p.X) && !math.IsNaN(p.Y) && !math.IsInf(p.X, 0) && !math.IsInf(p.Y, 0)
}
