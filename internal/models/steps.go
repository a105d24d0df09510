package models

// Step identifies the current stage of the sales funnel.
type Step string

const (
	StepGreeting          Step = "greeting"
	StepWaitingWeight     Step = "waiting_weight"
	StepWaitingPreference Step = "waiting_preference"
	StepWaitingPriceOK    Step = "waiting_price_confirmation"
	StepWaitingPlanChoice Step = "waiting_plan_choice"
	StepWaitingOK         Step = "waiting_ok"
	StepWaitingData       Step = "waiting_data"
	StepWaitingAdminOK    Step = "waiting_admin_ok"
	StepWaitingFinalOK    Step = "waiting_final_confirmation"
	StepCompleted         Step = "completed"
)

// knownSteps is the closed set of steps the engine dispatches on.
var knownSteps = map[Step]bool{
	StepGreeting:          true,
	StepWaitingWeight:     true,
	StepWaitingPreference: true,
	StepWaitingPriceOK:    true,
	StepWaitingPlanChoice: true,
	StepWaitingOK:         true,
	StepWaitingData:       true,
	StepWaitingAdminOK:    true,
	StepWaitingFinalOK:    true,
	StepCompleted:         true,
}

// stepMigrations maps legacy step names from earlier deployments to their
// current equivalents so persisted conversations keep working after an
// upgrade.
var stepMigrations = map[Step]Step{
	"esperando_confirmacion_final": StepWaitingFinalOK,
}

// IsKnownStep reports whether the step is part of the current funnel.
func IsKnownStep(s Step) bool {
	return knownSteps[s]
}

// MigrateStep resolves a persisted step value: known steps pass through,
// legacy names map via the migration table, anything else falls back to
// greeting. The second return reports whether the value was usable as-is.
func MigrateStep(s Step) (Step, bool) {
	if knownSteps[s] {
		return s, true
	}
	if m, ok := stepMigrations[s]; ok {
		return m, false
	}
	return StepGreeting, false
}

// IsTerminal reports whether the conversation has left the active funnel.
func (s Step) IsTerminal() bool {
	return s == StepCompleted
}

// ReengageableSteps are the funnel stages where a cold lead is worth an
// automatic follow-up nudge.
var ReengageableSteps = map[Step]bool{
	StepWaitingWeight:     true,
	StepWaitingPreference: true,
	StepWaitingPriceOK:    true,
	StepWaitingPlanChoice: true,
	StepWaitingOK:         true,
	StepWaitingData:       true,
}
