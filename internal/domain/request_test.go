package domain_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/socialharvest/harvester/internal/domain"
)

func TestRequestStatus_CanTransitionTo_Forward(t *testing.T) {
	cases := []struct {
		from, to domain.RequestStatus
		want     bool
	}{
		{domain.RequestStatusPending, domain.RequestStatusDispatched, true},
		{domain.RequestStatusPending, domain.RequestStatusFailed, true},
		{domain.RequestStatusDispatched, domain.RequestStatusProcessing, true},
		{domain.RequestStatusDispatched, domain.RequestStatusCompleted, true},
		{domain.RequestStatusProcessing, domain.RequestStatusCompleted, true},
		{domain.RequestStatusProcessing, domain.RequestStatusFailed, true},

		// Backwards moves are rejected.
		{domain.RequestStatusDispatched, domain.RequestStatusPending, false},
		{domain.RequestStatusProcessing, domain.RequestStatusDispatched, false},
	}

	for _, tc := range cases {
		got := tc.from.CanTransitionTo(tc.to)
		assert.Equal(t, tc.want, got, "%s -> %s", tc.from, tc.to)
	}
}

func TestRequestStatus_TerminalStatesAreFinal(t *testing.T) {
	terminal := []domain.RequestStatus{
		domain.RequestStatusCompleted,
		domain.RequestStatusFailed,
		domain.RequestStatusCancelled,
	}
	all := []domain.RequestStatus{
		domain.RequestStatusPending,
		domain.RequestStatusDispatched,
		domain.RequestStatusProcessing,
		domain.RequestStatusCompleted,
		domain.RequestStatusFailed,
		domain.RequestStatusCancelled,
	}

	for _, from := range terminal {
		assert.True(t, from.IsTerminal(), "%s should be terminal", from)
		for _, to := range all {
			assert.False(t, from.CanTransitionTo(to), "%s -> %s should be rejected", from, to)
		}
	}
}

func TestRequestStatus_CancelFromAnyNonTerminal(t *testing.T) {
	for _, from := range []domain.RequestStatus{
		domain.RequestStatusPending,
		domain.RequestStatusDispatched,
		domain.RequestStatusProcessing,
	} {
		assert.True(t, from.CanTransitionTo(domain.RequestStatusCancelled), "cancel from %s", from)
	}
}
