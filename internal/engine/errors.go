package engine

import (
	"errors"
	"fmt"

	"github.com/orlandoq/guildpost/internal/store"
)

// Typed error kinds returned by every engine operation. The presentation
// layer matches them with errors.Is and translates each kind into a
// user-facing message; the engine itself carries no presentation text.
var (
	// ErrValidation flags malformed input: negative reward, empty title.
	ErrValidation = errors.New("validation failed")

	// ErrNotFound flags a referenced worker/requester/job/assignment id
	// that does not exist.
	ErrNotFound = errors.New("not found")

	// ErrInvalidTransition flags an operation not legal from the
	// assignment's current status.
	ErrInvalidTransition = errors.New("invalid transition")

	// ErrConflict flags a lost race against a concurrent writer. The caller
	// should retry with a different target, not blindly resubmit.
	ErrConflict = errors.New("conflict")

	// ErrInvalidState flags an availability change incompatible with the
	// worker's current active assignment.
	ErrInvalidState = errors.New("invalid state")

	// ErrStorageUnavailable flags a transient storage failure. The whole
	// operation is safe to retry.
	ErrStorageUnavailable = errors.New("storage unavailable")
)

// fromStore maps storage-layer outcomes onto the engine's error kinds.
// Anything the store cannot classify is treated as transient.
func fromStore(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, store.ErrConflict):
		return fmt.Errorf("%w: %v", ErrConflict, err)
	case errors.Is(err, store.ErrNotFound):
		return fmt.Errorf("%w: %v", ErrNotFound, err)
	default:
		return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
}
