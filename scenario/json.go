package scenario

import "encoding/json"

// MarshalJSON encodes a Point as the normative [x, y] pair.
func (p Point) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]float64{p.X, p.Y})
}

// UnmarshalJSON decodes a Point from an [x, y] pair.
func (p *Point) UnmarshalJSON(data []byte) error {
	var pair [2]float64
	if err := json.Unmarshal(data, &pair); err != nil {
		return err
	}
	p.X, p.Y = pair[0], pair[1]
	return nil
}

// MarshalJSON encodes a Wall as the normative [[x1,y1],[x2,y2]] pair.
func (w Wall) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]Point{w.P, w.Q})
}

// UnmarshalJSON decodes a Wall from an [[x1,y1],[x2,y2]] pair.
func (w *Wall) UnmarshalJSON(data []byte) error {
	var pair [2]Point
	if err := json.Unmarshal(data, &pair); err != nil {
		return err
	}
	w.P, w.Q = pair[0], pair[1]
	return nil
}

type initialClusterWire struct {
	X     float64 `json:"x"`
	Y     float64 `json:"y"`
	Count int     `json:"count"`
}

func (c InitialCluster) MarshalJSON() ([]byte, error) {
	return json.Marshal(initialClusterWire{X: c.X, Y: c.Y, Count: c.Count})
}

func (c *InitialCluster) UnmarshalJSON(data []byte) error {
	var w initialClusterWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	c.X, c.Y, c.Count = w.X, w.Y, w.Count
	return nil
}

type buildingLayoutWire struct {
	Walls            []Wall           `json:"walls"`
	Exits            []Point          `json:"exits"`
	InitialPositions []InitialCluster `json:"initial_positions"`
}

func (l BuildingLayout) MarshalJSON() ([]byte, error) {
	return json.Marshal(buildingLayoutWire{
		Walls:            l.Walls,
		Exits:            l.Exits,
		InitialPositions: l.InitialPositions,
	})
}

func (l *BuildingLayout) UnmarshalJSON(data []byte) error {
	var w buildingLayoutWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	l.Walls, l.Exits, l.InitialPositions = w.Walls, w.Exits, w.InitialPositions
	return nil
}

type hazardWire struct {
	Position  Point      `json:"position"`
	Type      HazardType `json:"type"`
	Radius    float64    `json:"radius"`
	Intensity float64    `json:"intensity"`
}

func (h Hazard) MarshalJSON() ([]byte, error) {
	return json.Marshal(hazardWire{
		Position:  h.Position,
		Type:      h.Type,
		Radius:    h.Radius,
		Intensity: h.Intensity,
	})
}

func (h *Hazard) UnmarshalJSON(data []byte) error {
	var w hazardWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	h.Position, h.Type, h.Radius, h.Intensity = w.Position, w.Type, w.Radius, w.Intensity
	return nil
}

type scenarioWire struct {
	ID          string         `json:"id"`
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Type        string         `json:"type"`
	NumAgents   int            `json:"num_agents"`
	PanicFactor float64        `json:"panic_factor"`
	TimeSteps   int            `json:"time_steps"`
	Layout      BuildingLayout `json:"building_layout"`
	Hazards     []Hazard       `json:"hazards"`
}

func (s Scenario) MarshalJSON() ([]byte, error) {
	return json.Marshal(scenarioWire{
		ID:          s.ID,
		Name:        s.Name,
		Description: s.Description,
		Type:        s.Type,
		NumAgents:   s.NumAgents,
		PanicFactor: s.PanicFactor,
		TimeSteps:   s.TimeSteps,
		Layout:      s.Layout,
		Hazards:     s.Hazards,
	})
}

func (s *Scenario) UnmarshalJSON(data []byte) error {
	var w scenarioWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	s.ID, s.Name, s.Description, s.Type = w.ID, w.Name, w.Description, w.Type
	s.NumAgents, s.PanicFactor, s.TimeSteps = w.NumAgents, w.PanicFactor, w.TimeSteps
	s.Layout, s.Hazards = w.Layout, w.Hazards
	return nil
}
