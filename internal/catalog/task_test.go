package catalog

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTask_SuccessIsTerminal(t *testing.T) {
	t.Parallel()

	task := NewTask(7, TaskPage, "")
	require.True(t, task.Transition(TaskRunning))
	require.True(t, task.Transition(TaskSuccess))

	// Later contradicting signals must not regress visible progress.
	require.False(t, task.Transition(TaskFailed))
	require.False(t, task.Transition(TaskRunning))
	require.Equal(t, TaskSuccess, task.Status)
}

func TestTask_FailedCanRetry(t *testing.T) {
	t.Parallel()

	task := NewTask(1, TaskProductDetail, "https://certis.example/p")
	require.True(t, task.Transition(TaskRunning))
	require.True(t, task.Transition(TaskFailed))
	require.True(t, task.Transition(TaskRunning))
	require.True(t, task.Transition(TaskSuccess))
}

func TestTask_PendingCannotComplete(t *testing.T) {
	t.Parallel()

	task := NewTask(1, TaskPage, "")
	require.False(t, task.Transition(TaskSuccess))
	require.Equal(t, TaskPending, task.Status)
}

func TestClassifyFetchError(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		err  error
		want FetchErrorKind
	}{
		{"deadline", context.DeadlineExceeded, FetchTimeout},
		{"canceled", context.Canceled, FetchAbort},
		{"generic", errors.New("connection refused"), FetchNavigation},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			fe := ClassifyFetchError(tc.err, 4, 2)
			require.Equal(t, tc.want, fe.Kind)
			require.Equal(t, 4, fe.PageID)
			require.Equal(t, 2, fe.Attempt)
			require.ErrorIs(t, fe, tc.err)
		})
	}
}

func TestClassifyFetchError_PassThrough(t *testing.T) {
	t.Parallel()

	orig := NewFetchError(FetchExtraction, 9, 1, errors.New("no product table"))
	fe := ClassifyFetchError(orig, 0, 0)
	require.Same(t, orig, fe)
	require.True(t, fe.Retryable())
}

func TestFetchError_Retryable(t *testing.T) {
	t.Parallel()

	require.True(t, NewFetchError(FetchTimeout, 0, 1, nil).Retryable())
	require.True(t, NewFetchError(FetchNavigation, 0, 1, nil).Retryable())
	require.True(t, NewFetchError(FetchExtraction, 0, 1, nil).Retryable())
	require.False(t, NewFetchError(FetchAbort, 0, 1, nil).Retryable())
	require.False(t, NewFetchError(FetchInitialization, 0, 1, nil).Retryable())
}
