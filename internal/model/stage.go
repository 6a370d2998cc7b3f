package model

// EnrichmentStage is the explicit per-record stage derived from the
// monotonic action flags. The flags remain the stored representation;
// the stage exists for auditability and transition checking.
type EnrichmentStage string

const (
	StagePending             EnrichmentStage = "pending"
	StagePhoneValidated      EnrichmentStage = "phone_validated"
	StageInformationGathered EnrichmentStage = "information_gathered"
	StageDone                EnrichmentStage = "done"
	StageErrored             EnrichmentStage = "errored"
)

// Stage derives the enrichment stage from the Person's flags.
func (p *Person) Stage() EnrichmentStage {
	switch {
	case p.Meta.Error:
		return StageErrored
	case p.Actions.Research:
		return StageDone
	case p.Actions.GatherInformation:
		return StageInformationGathered
	case p.Actions.ValidatePhoneNumber:
		return StagePhoneValidated
	default:
		return StagePending
	}
}

// allowedTransitions maps each stage to the stages it may advance to.
// Errored is re-enterable from any non-terminal stage and recoverable back
// to the stage the flags encode once the error flag is cleared.
var allowedTransitions = map[EnrichmentStage][]EnrichmentStage{
	StagePending:             {StagePhoneValidated, StageDone, StageErrored},
	StagePhoneValidated:      {StageInformationGathered, StageErrored},
	StageInformationGathered: {StageDone, StageErrored},
	StageErrored:             {StagePending, StagePhoneValidated, StageInformationGathered},
	StageDone:                nil,
}

// CanTransition reports whether moving from one stage to another is a
// legal step of the enrichment state machine. Pending→Done covers the
// spam short-circuit, which sets research without gathering information.
func CanTransition(from, to EnrichmentStage) bool {
	if from == to {
		return true
	}
	for _, next := range allowedTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}
