package docflow

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDispatchFlow(t *testing.T) {
	require.True(t, Dispatch.Can(StatusPending, StatusDispatched))
	require.True(t, Dispatch.Can(StatusPending, StatusCancelled))
	require.True(t, Dispatch.Can(StatusDispatched, StatusReceived))
	require.True(t, Dispatch.Can(StatusDispatched, StatusCancelled))

	require.False(t, Dispatch.Can(StatusPending, StatusReceived))
	require.False(t, Dispatch.Can(StatusReceived, StatusDispatched))
	require.False(t, Dispatch.Can(StatusCancelled, StatusPending))
}

func TestTerminalStatuses(t *testing.T) {
	require.True(t, Dispatch.Terminal(StatusReceived))
	require.True(t, Dispatch.Terminal(StatusCancelled))
	require.False(t, Dispatch.Terminal(StatusPending))

	require.True(t, Quotation.Terminal(StatusConverted))
	require.True(t, Payment.Terminal(StatusPaid))
}

func TestStepError(t *testing.T) {
	err := Dispatch.Step(StatusReceived, StatusDispatched)
	require.ErrorIs(t, err, ErrInvalidTransition)
	require.Contains(t, err.Error(), "received -> dispatched")

	require.NoError(t, GRN.Step(StatusDraft, StatusReceived))
}

func TestAllowedSets(t *testing.T) {
	require.ElementsMatch(t, []Status{StatusDispatched, StatusCancelled}, Dispatch.Allowed(StatusPending))
	require.Empty(t, Dispatch.Allowed(StatusReceived))
	require.ElementsMatch(t, []Status{StatusConverted, StatusRejected}, Quotation.Allowed(StatusApproved))
}
