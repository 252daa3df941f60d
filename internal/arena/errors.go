package arena

import "errors"

// Domain errors. All are reported only to the connection that issued the
// failing operation; none of them tears a room down.
var (
	ErrRoomNotFound        = errors.New("room not found")
	ErrRoomNotJoinable     = errors.New("room is not accepting new users")
	ErrRoomNotActive       = errors.New("room is not active")
	ErrNotAParticipant     = errors.New("user is not a participant of this room")
	ErrDuplicateSubmission = errors.New("already submitted for this room")
	ErrIdentityMismatch    = errors.New("user ID mismatch")
	ErrValidation          = errors.New("invalid score payload")
	ErrStoreTimeout        = errors.New("room store timed out")

	// ErrFinalize marks a completion-finalization persistence failure. Rankings
	// are the authoritative competition result, so this is surfaced distinctly
	// instead of being folded into ordinary per-operation errors.
	ErrFinalize = errors.New("failed to persist final rankings")
)
