package monitor

// Outcome is the canonical classification of a collaborator's result. The set
// is closed: the classifier and extractor adapters translate whatever their
// backing implementations report into one of these tags, and the decision
// table in Decide covers every tag.
type Outcome string

// Canonical outcome tags.
const (
	// OutcomeChallengePresent means a CAPTCHA or interstitial blocks the page.
	OutcomeChallengePresent Outcome = "challenge_present"
	// OutcomeRateLimited means the target is throttling the current proxy.
	OutcomeRateLimited Outcome = "rate_limited"
	// OutcomeAccessDenied means a proxy-level ban signal (403/407 class).
	OutcomeAccessDenied Outcome = "access_denied"
	// OutcomeContentReady means classification succeeded and extraction may proceed.
	OutcomeContentReady Outcome = "content_ready"
	// OutcomeIndeterminate means the classifier could not decide.
	OutcomeIndeterminate Outcome = "indeterminate"
	// OutcomeExtractionEmpty means extraction ran and found zero usable records.
	OutcomeExtractionEmpty Outcome = "extraction_empty"
	// OutcomeExtractionOK means extraction produced records.
	OutcomeExtractionOK Outcome = "extraction_ok"
)

// Action is the decision the worker executes for an outcome.
type Action int

// Decision-table actions.
const (
	// ActionResolveChallenge invokes the challenge resolver with bounded attempts.
	ActionResolveChallenge Action = iota
	// ActionSwapProxy releases the current proxy, leases a fresh one, and
	// retries the task without consuming attempt budget.
	ActionSwapProxy
	// ActionBanProxy bans the current proxy permanently, then swaps and
	// retries the task without consuming attempt budget.
	ActionBanProxy
	// ActionExtract proceeds to catalog extraction.
	ActionExtract
	// ActionRetryTask returns the task to pending, consuming one attempt.
	ActionRetryTask
	// ActionFailTask marks the task failed (terminal until external reset).
	ActionFailTask
	// ActionCompleteTask marks the task completed.
	ActionCompleteTask
	// ActionDeliver proceeds to per-item filtering and delivery.
	ActionDeliver
)

// String names the action for logs and metrics labels.
func (a Action) String() string {
	switch a {
	case ActionResolveChallenge:
		return "resolve_challenge"
	case ActionSwapProxy:
		return "swap_proxy"
	case ActionBanProxy:
		return "ban_proxy"
	case ActionExtract:
		return "extract"
	case ActionRetryTask:
		return "retry_task"
	case ActionFailTask:
		return "fail_task"
	case ActionCompleteTask:
		return "complete_task"
	case ActionDeliver:
		return "deliver"
	default:
		return "unknown"
	}
}
