package monitor

// Decide maps an outcome tag plus the task's attempt context to the action
// the worker must execute. Pure function: the same inputs always produce the
// same action.
//
// Proxy-level faults (rate_limited, access_denied) never consume attempt
// budget, so one bad proxy cannot exhaust a task's retries. Task-level faults
// (indeterminate) consume budget. Extraction finding nothing is a valid
// result, not an error, unless the budget was already exhausted when the
// result arrived.
func Decide(outcome Outcome, attempts, ceiling int) Action {
	remaining := ceiling - attempts

	switch outcome {
	case OutcomeChallengePresent:
		return ActionResolveChallenge
	case OutcomeRateLimited:
		return ActionSwapProxy
	case OutcomeAccessDenied:
		return ActionBanProxy
	case OutcomeContentReady:
		return ActionExtract
	case OutcomeExtractionOK:
		return ActionDeliver
	case OutcomeExtractionEmpty:
		if remaining <= 0 {
			return ActionFailTask
		}
		return ActionCompleteTask
	case OutcomeIndeterminate:
		if remaining <= 0 {
			return ActionFailTask
		}
		return ActionRetryTask
	default:
		// Unknown tags behave like indeterminate classifications.
		if remaining <= 0 {
			return ActionFailTask
		}
		return ActionRetryTask
	}
}
