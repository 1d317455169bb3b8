// Package state provides the finite state machines for member verification
// and the admin DM wizard.
package state

// State represents a state of either machine.
type State string

const (
	// DM wizard states
	WizardIdle              State = "idle"
	WizardAwaitingBroadcast State = "awaiting_broadcast"
	WizardDraftingBroadcast State = "drafting_broadcast"
	WizardAwaitingWelcome   State = "awaiting_welcome"

	// Verification states
	VerificationNone     State = "none"
	VerificationPending  State = "pending"
	VerificationVerified State = "verified"
)

// String returns the string representation of the state.
func (s State) String() string {
	return string(s)
}

// IsWizardActive returns true if a wizard session is mid-flow.
func (s State) IsWizardActive() bool {
	switch s {
	case WizardAwaitingBroadcast, WizardDraftingBroadcast, WizardAwaitingWelcome:
		return true
	default:
		return false
	}
}
