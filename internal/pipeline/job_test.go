package pipeline

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTransitionTable(t *testing.T) {
	t.Parallel()

	legal := []struct{ from, to JobStatus }{
		{StatusPending, StatusProcessing},
		{StatusPending, StatusCancelled},
		{StatusProcessing, StatusCompleted},
		{StatusProcessing, StatusFailed},
		{StatusProcessing, StatusCancelled},
	}
	for _, tc := range legal {
		require.NoError(t, Transition(tc.from, tc.to), "%s -> %s should be legal", tc.from, tc.to)
	}

	illegal := []struct{ from, to JobStatus }{
		{StatusCompleted, StatusProcessing},
		{StatusFailed, StatusPending},
		{StatusCancelled, StatusProcessing},
		{StatusPending, StatusCompleted},
		{StatusPending, StatusFailed},
		{StatusCompleted, StatusCompleted},
	}
	for _, tc := range illegal {
		err := Transition(tc.from, tc.to)
		require.ErrorIs(t, err, ErrInvalidTransition, "%s -> %s should be rejected", tc.from, tc.to)
	}
}

func TestStatusPredicates(t *testing.T) {
	t.Parallel()

	require.True(t, StatusPending.Active())
	require.True(t, StatusProcessing.Active())
	require.False(t, StatusCompleted.Active())

	require.True(t, StatusCompleted.Terminal())
	require.True(t, StatusFailed.Terminal())
	require.True(t, StatusCancelled.Terminal())
	require.False(t, StatusPending.Terminal())
	require.False(t, StatusProcessing.Terminal())
}

func TestJobTypeDefaults(t *testing.T) {
	t.Parallel()

	require.Equal(t, 10, TypeDiscover.DefaultPriority())
	require.Equal(t, 5, TypeScoreBasic.DefaultPriority())
	require.Equal(t, 1, TypeEnrichFull.DefaultPriority())

	require.True(t, TypeDiscover.Valid())
	require.False(t, JobType("rank_everything").Valid())
}

func TestPayloadValidate(t *testing.T) {
	t.Parallel()

	require.NoError(t, Payload{Keyword: "meal planner", Country: "us"}.Validate())

	err := Payload{Country: "us"}.Validate()
	require.ErrorIs(t, err, ErrInvalidPayload)

	err = Payload{Keyword: "meal planner"}.Validate()
	require.ErrorIs(t, err, ErrInvalidPayload)
}
