package maintainer

// Phase is the state of the update state machine.
type Phase int32

const (
	Idle Phase = iota
	DecidingStrategy
	IncrementalUpdate
	FromScratchRebuild
	ExecutingScripts
	ExecutingPostprocessing
	PostSteps
	// Failed is kept until the next operation starts.
	Failed
)

var phaseNames = [...]string{
	Idle:                    "idle",
	DecidingStrategy:        "deciding_strategy",
	IncrementalUpdate:       "incremental_update",
	FromScratchRebuild:      "from_scratch_rebuild",
	ExecutingScripts:        "executing_scripts",
	ExecutingPostprocessing: "executing_postprocessing",
	PostSteps:               "post_steps",
	Failed:                  "failed",
}

func (p Phase) String() string {
	if p < 0 || int(p) >= len(phaseNames) {
		return "unknown"
	}
	return phaseNames[p]
}

func (p Phase) MarshalText() ([]byte, error) { return []byte(p.String()), nil }

// Strategy is how an update brings the database up to date.
type Strategy string

const (
	StrategyNone        Strategy = "none"
	StrategyIncremental Strategy = "incremental"
	StrategyFromScratch Strategy = "from_scratch"
)
