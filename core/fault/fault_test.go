package fault_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"botmarket/core/fault"
)

func TestKindOf(t *testing.T) {
	err := fault.New(fault.KindValidation, "title must be 1-200 characters")
	require.Equal(t, fault.KindValidation, fault.KindOf(err))
	require.True(t, fault.Is(err, fault.KindValidation))
	require.False(t, fault.Is(err, fault.KindNotFound))

	require.Equal(t, fault.KindInternal, fault.KindOf(errors.New("plain")))
	require.Equal(t, fault.KindInternal, fault.KindOf(nil))
}

func TestWrap_PreservesCause(t *testing.T) {
	cause := errors.New("connection refused")
	err := fault.Wrap(fault.KindPaymentBackend, "deposit transaction not confirmed", cause)

	require.ErrorIs(t, err, cause)
	require.Equal(t, fault.KindPaymentBackend, fault.KindOf(err))
	require.Equal(t, "deposit transaction not confirmed", fault.MessageOf(err))
	require.Contains(t, err.Error(), "connection refused")
}

func TestKindOf_UnwrapsNesting(t *testing.T) {
	inner := fault.New(fault.KindStateError, "transition not permitted from current state")
	outer := fmt.Errorf("handle claim: %w", inner)

	require.Equal(t, fault.KindStateError, fault.KindOf(outer))
	require.Equal(t, "transition not permitted from current state", fault.MessageOf(outer))
}

func TestMessageOf_Untagged(t *testing.T) {
	require.Empty(t, fault.MessageOf(errors.New("internal detail")))
}
