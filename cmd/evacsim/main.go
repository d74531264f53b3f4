// Command evacsim runs a single evacuation scenario through one of the
// engine's solvers and writes the resulting Result Envelope as JSON
// (spatial tensors and time series) plus, when enabled, a CSV of the
// scalar series via the telemetry output manager.
//
// Usage: evacsim -scenario scenario.json -scale macro -grid 100 -steps 100
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"

	"github.com/pthm-cable/evacsim/config"
	"github.com/pthm-cable/evacsim/scenario"
	"github.com/pthm-cable/evacsim/solver"
	"github.com/pthm-cable/evacsim/telemetry"
)

func main() {
	scenarioPath := flag.String("scenario", "", "Path to a scenario JSON file (required)")
	configPath := flag.String("config", "", "Config YAML file (empty = embedded defaults)")
	scaleFlag := flag.String("scale", "macro", "Solver scale: micro|meso|macro|rl")
	gridRes := flag.Int("grid", 0, "Grid resolution (0 = scale default)")
	timeSteps := flag.Int("steps", 100, "Number of time steps")
	numAgents := flag.Int("agents", 100, "Number of agents (micro/rl only)")
	preset := flag.Float64("panic-factor", 0, "Panic factor override (0 = use preset)")
	presetName := flag.String("preset", "standard", "Parameter preset: standard|cautious|panic")
	seed := flag.Int64("seed", 1, "RNG seed for RL agent placement (micro runs do not depend on it)")
	outPath := flag.String("out", "", "Output JSON path (empty = stdout)")
	csvDir := flag.String("csv-dir", "", "Directory to write scalar series as CSV (empty = skip)")
	flag.Parse()

	if *scenarioPath == "" {
		log.Fatal("-scenario is required")
	}

	if err := config.Init(*configPath); err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	cfg := config.Cfg()

	s, err := loadScenario(*scenarioPath)
	if err != nil {
		log.Fatalf("failed to load scenario: %v", err)
	}

	opts := solver.RequestOptions{
		GridResolution: *gridRes,
		TimeSteps:      *timeSteps,
		NumAgents:      *numAgents,
		PanicFactor:    *preset,
		Preset:         *presetName,
		Seed:           *seed,
	}

	env := solver.Run(context.Background(), cfg, s, solver.Scale(*scaleFlag), opts)
	if !env.Success {
		slog.Error("solver run failed", "error_kind", env.ErrorKind, "error", env.Error)
		os.Exit(1)
	}
	for _, w := range env.Warnings {
		slog.Warn("solver warning", "message", w)
	}

	if *csvDir != "" {
		mgr, err := telemetry.NewOutputManager(*csvDir)
		if err != nil {
			slog.Error("failed to open CSV output directory", "error", err)
		} else {
			defer mgr.Close()
			if err := mgr.WriteEnvelopeSeries(env.Series); err != nil {
				slog.Error("failed to write CSV series", "error", err)
			}
		}
	}

	data, err := json.MarshalIndent(env, "", "  ")
	if err != nil {
		log.Fatalf("failed to marshal envelope: %v", err)
	}

	if *outPath == "" {
		fmt.Println(string(data))
		return
	}
	if err := os.WriteFile(*outPath, data, 0644); err != nil {
		log.Fatalf("failed to write output: %v", err)
	}
}

func loadScenario(path string) (*scenario.Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading scenario file: %w", err)
	}
	var s scenario.Scenario
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parsing scenario JSON: %w", err)
	}
	return &s, nil
}
