package state

// Trigger represents an event that causes a state transition.
type Trigger string

const (
	// DM wizard triggers
	TriggerOpenBroadcast Trigger = "open_broadcast"
	TriggerOpenWelcome   Trigger = "open_welcome"
	TriggerText          Trigger = "text"
	TriggerPreview       Trigger = "preview"
	TriggerSend          Trigger = "send"
	TriggerCancel        Trigger = "cancel"
	TriggerReset         Trigger = "reset"

	// Verification triggers
	TriggerJoin    Trigger = "join"
	TriggerVerify  Trigger = "verify"
	TriggerTimeout Trigger = "timeout"
)

// String returns the string representation of the trigger.
func (t Trigger) String() string {
	return string(t)
}
