package orchestrator

// Phase is the lifecycle position of one test run.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseCoordinatorStarting
	PhaseCoordinatorWarmup
	PhaseRunning
	PhaseDraining
	PhaseStopped
	PhaseReported
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseCoordinatorStarting:
		return "coordinator_starting"
	case PhaseCoordinatorWarmup:
		return "coordinator_warmup"
	case PhaseRunning:
		return "running"
	case PhaseDraining:
		return "draining"
	case PhaseStopped:
		return "stopped"
	case PhaseReported:
		return "reported"
	default:
		return "unknown"
	}
}

// PhaseNames lists every phase name in lifecycle order.
func PhaseNames() []string {
	names := make([]string, 0, int(PhaseReported)+1)
	for p := PhaseIdle; p <= PhaseReported; p++ {
		names = append(names, p.String())
	}
	return names
}
