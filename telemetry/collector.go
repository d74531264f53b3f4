package telemetry

// Collector accumulates evacuation events within a time window and
// produces a WindowStats on Flush. Adapted from the teacher's ecosystem
// Collector: same window-then-flush shape, counting evacuations and
// casualties instead of births and kills.
type Collector struct {
	windowDurationSec float64
	windowDurationSteps int
	dt                  float64

	windowStartStep int

	evacuations int
	casualties  int
}

// NewCollector creates a new stats collector.
// windowDurationSec: how long each stats window lasts in simulation seconds.
// dt: seconds per step (used for step-to-time conversion).
func NewCollector(windowDurationSec float64, dt float64) *Collector {
	stepsPerWindow := int(windowDurationSec / dt)
	if stepsPerWindow < 1 {
		stepsPerWindow = 1
	}
	return &Collector{
		windowDurationSec:   windowDurationSec,
		windowDurationSteps: stepsPerWindow,
		dt:                  dt,
	}
}

// RecordEvacuation records an agent reaching an exit.
func (c *Collector) RecordEvacuation() { c.evacuations++ }

// RecordCasualty records an agent lost to a hazard.
func (c *Collector) RecordCasualty() { c.casualties++ }

// ShouldFlush returns true if enough steps have passed to flush the window.
func (c *Collector) ShouldFlush(currentStep int) bool {
	return currentStep-c.windowStartStep >= c.windowDurationSteps
}

// Flush produces a WindowStats and resets counters for the next window.
// The caller supplies the instantaneous quantities (population, speed,
// hazard and fairness fields) that the collector itself has no visibility
// into.
func (c *Collector) Flush(
	currentStep int,
	agentsRemaining, agentsEvacuated, totalCasualties int,
	meanSpeed, meanDensity, meanHazard, maxHazard float64,
	exitTimes []float64,
) WindowStats {
	exitMean, exitP10, exitP50, exitP90 := ComputeExitTimeStats(exitTimes)

	stats := WindowStats{
		WindowStartStep: c.windowStartStep,
		WindowEndStep:   currentStep,
		SimTimeSec:      float64(currentStep) * c.dt,

		AgentsRemaining: agentsRemaining,
		AgentsEvacuated: agentsEvacuated,
		Casualties:      totalCasualties,

		EvacuationsInWindow: c.evacuations,
		CasualtiesInWindow:  c.casualties,

		MeanSpeed:   meanSpeed,
		MeanDensity: meanDensity,
		MeanHazard:  meanHazard,
		MaxHazard:   maxHazard,

		ExitTimeMean: exitMean,
		ExitTimeP10:  exitP10,
		ExitTimeP50:  exitP50,
		ExitTimeP90:  exitP90,

		FairnessGini: Gini(exitTimes),
	}

	c.windowStartStep = currentStep
	c.evacuations = 0
	c.casualties = 0

	return stats
}

// WindowDurationSteps returns the number of steps per window.
func (c *Collector) WindowDurationSteps() int {
	return c.windowDurationSteps
}
