// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package background

// Stage is a group of services started together. A stage starts only after
// every earlier stage is up.
type Stage struct {
	Name     string
	Services []string
	Required bool
}

// Plan is the ordered startup sequence.
type Plan struct {
	Stages []Stage
}

// DefaultPlan starts credential upkeep first, then the cache warm-up that
// depends on live sessions, then auxiliary reporting.
func DefaultPlan() Plan {
	return Plan{Stages: []Stage{
		{Name: "core", Services: []string{NameTokenRefresh, NameSessionCleanup}, Required: true},
		{Name: "warmup", Services: []string{NameCacheWarming}, Required: true},
		{Name: "auxiliary", Services: []string{NameTelemetry}, Required: true},
	}}
}

// stageOf returns the stage name a service belongs to, or "".
func (p Plan) stageOf(name string) string {
	for _, st := range p.Stages {
		for _, s := range st.Services {
			if s == name {
				return st.Name
			}
		}
	}
	return ""
}
