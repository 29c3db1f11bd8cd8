package monitor

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDecide(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name     string
		outcome  Outcome
		attempts int
		ceiling  int
		want     Action
	}{
		{"challenge present", OutcomeChallengePresent, 0, 3, ActionResolveChallenge},
		{"challenge present at ceiling", OutcomeChallengePresent, 3, 3, ActionResolveChallenge},
		{"rate limited", OutcomeRateLimited, 0, 3, ActionSwapProxy},
		{"rate limited at ceiling still swaps", OutcomeRateLimited, 3, 3, ActionSwapProxy},
		{"access denied", OutcomeAccessDenied, 0, 3, ActionBanProxy},
		{"access denied at ceiling still bans", OutcomeAccessDenied, 3, 3, ActionBanProxy},
		{"content ready", OutcomeContentReady, 2, 3, ActionExtract},
		{"extraction ok", OutcomeExtractionOK, 2, 3, ActionDeliver},
		{"extraction empty completes", OutcomeExtractionEmpty, 0, 3, ActionCompleteTask},
		{"extraction empty one below ceiling completes", OutcomeExtractionEmpty, 2, 3, ActionCompleteTask},
		{"extraction empty at ceiling fails", OutcomeExtractionEmpty, 3, 3, ActionFailTask},
		{"indeterminate retries", OutcomeIndeterminate, 0, 3, ActionRetryTask},
		{"indeterminate one below ceiling retries", OutcomeIndeterminate, 2, 3, ActionRetryTask},
		{"indeterminate at ceiling fails", OutcomeIndeterminate, 3, 3, ActionFailTask},
		{"indeterminate past ceiling fails", OutcomeIndeterminate, 5, 3, ActionFailTask},
		{"unknown tag retries like indeterminate", Outcome("mystery"), 1, 3, ActionRetryTask},
		{"unknown tag at ceiling fails", Outcome("mystery"), 3, 3, ActionFailTask},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tc.want, Decide(tc.outcome, tc.attempts, tc.ceiling))
		})
	}
}

func TestDecideIsPure(t *testing.T) {
	t.Parallel()

	first := Decide(OutcomeIndeterminate, 1, 3)
	for i := 0; i < 10; i++ {
		require.Equal(t, first, Decide(OutcomeIndeterminate, 1, 3))
	}
}

func TestActionString(t *testing.T) {
	t.Parallel()

	require.Equal(t, "swap_proxy", ActionSwapProxy.String())
	require.Equal(t, "ban_proxy", ActionBanProxy.String())
	require.Equal(t, "unknown", Action(99).String())
}
