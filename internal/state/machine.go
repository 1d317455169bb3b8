package state

import (
	"context"
	"fmt"
	"sync"

	"github.com/qmuntal/stateless"
)

// TransitionCallback is called when a state transition occurs.
type TransitionCallback func(ctx context.Context, from, to State, trigger Trigger)

// Accessor reads the current state from wherever it is persisted.
type Accessor func(ctx context.Context) (State, error)

// Mutator persists a new state.
type Mutator func(ctx context.Context, s State) error

// Machine wraps the stateless state machine. The state itself lives outside
// the machine (a member record or a wizard session), so a Machine is cheap to
// build per event.
type Machine struct {
	sm          *stateless.StateMachine
	callbacks   []TransitionCallback
	callbacksMu sync.RWMutex
}

func newMachine(accessor Accessor, mutator Mutator) *Machine {
	m := &Machine{
		callbacks: make([]TransitionCallback, 0),
	}

	m.sm = stateless.NewStateMachineWithExternalStorage(
		func(ctx context.Context) (stateless.State, error) {
			s, err := accessor(ctx)
			if err != nil {
				return nil, err
			}
			return s, nil
		},
		func(ctx context.Context, s stateless.State) error {
			st, ok := s.(State)
			if !ok {
				return fmt.Errorf("unexpected state type %T", s)
			}
			return mutator(ctx, st)
		},
		stateless.FiringImmediate,
	)

	m.sm.OnTransitioned(func(ctx context.Context, t stateless.Transition) {
		m.callbacksMu.RLock()
		callbacks := make([]TransitionCallback, len(m.callbacks))
		copy(callbacks, m.callbacks)
		m.callbacksMu.RUnlock()

		from := t.Source.(State)
		to := t.Destination.(State)
		trigger := t.Trigger.(Trigger)

		for _, cb := range callbacks {
			cb(ctx, from, to, trigger)
		}
	})

	return m
}

// NewWizardMachine creates the DM wizard machine over externally stored state.
//
//	idle -> awaiting_broadcast -> drafting_broadcast -> (send|cancel) -> idle
//	idle -> awaiting_welcome -> (text|cancel) -> idle
func NewWizardMachine(accessor Accessor, mutator Mutator) *Machine {
	m := newMachine(accessor, mutator)
	noop := func(_ context.Context, _ ...any) error { return nil }

	m.sm.Configure(WizardIdle).
		Permit(TriggerOpenBroadcast, WizardAwaitingBroadcast).
		Permit(TriggerOpenWelcome, WizardAwaitingWelcome).
		Ignore(TriggerCancel).
		Ignore(TriggerReset)

	m.sm.Configure(WizardAwaitingBroadcast).
		Permit(TriggerText, WizardDraftingBroadcast).
		PermitReentry(TriggerOpenBroadcast).
		Permit(TriggerOpenWelcome, WizardAwaitingWelcome).
		Permit(TriggerCancel, WizardIdle).
		Permit(TriggerReset, WizardIdle)

	// New text while drafting replaces the draft without leaving the state.
	m.sm.Configure(WizardDraftingBroadcast).
		InternalTransition(TriggerText, noop).
		InternalTransition(TriggerPreview, noop).
		Permit(TriggerSend, WizardIdle).
		Permit(TriggerOpenBroadcast, WizardAwaitingBroadcast).
		Permit(TriggerOpenWelcome, WizardAwaitingWelcome).
		Permit(TriggerCancel, WizardIdle).
		Permit(TriggerReset, WizardIdle)

	m.sm.Configure(WizardAwaitingWelcome).
		Permit(TriggerText, WizardIdle).
		PermitReentry(TriggerOpenWelcome).
		Permit(TriggerOpenBroadcast, WizardAwaitingBroadcast).
		Permit(TriggerCancel, WizardIdle).
		Permit(TriggerReset, WizardIdle)

	return m
}

// NewVerificationMachine creates the captcha machine for one member.
//
//	none|verified --join--> pending --verify--> verified
//	                        pending --timeout--> none
//
// A join while already pending re-enters pending, which lets the mutator
// write a fresh deadline.
func NewVerificationMachine(accessor Accessor, mutator Mutator) *Machine {
	m := newMachine(accessor, mutator)

	m.sm.Configure(VerificationNone).
		Permit(TriggerJoin, VerificationPending)

	m.sm.Configure(VerificationPending).
		PermitReentry(TriggerJoin).
		Permit(TriggerVerify, VerificationVerified).
		Permit(TriggerTimeout, VerificationNone)

	m.sm.Configure(VerificationVerified).
		Permit(TriggerJoin, VerificationPending)

	return m
}

// State returns the current state.
func (m *Machine) State(ctx context.Context) (State, error) {
	state, err := m.sm.State(ctx)
	if err != nil {
		return "", err
	}
	return state.(State), nil
}

// Fire triggers a state transition.
func (m *Machine) Fire(ctx context.Context, trigger Trigger, args ...any) error {
	return m.sm.FireCtx(ctx, trigger, args...)
}

// CanFire returns true if the trigger can be fired from the current state.
func (m *Machine) CanFire(ctx context.Context, trigger Trigger, args ...any) (bool, error) {
	return m.sm.CanFireCtx(ctx, trigger, args...)
}

// OnTransition registers a callback to be called on state transitions.
func (m *Machine) OnTransition(cb TransitionCallback) {
	m.callbacksMu.Lock()
	defer m.callbacksMu.Unlock()
	m.callbacks = append(m.callbacks, cb)
}
