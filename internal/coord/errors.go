package coord

import "errors"

// Sentinel errors for coordination operations. Contention errors
// (ErrStepLocked, ErrAlreadyClaimed) are expected under concurrency and
// mean "try a different unit of work"; consistency errors (ErrNotOwner,
// ErrNotClaimed) are always fatal to the call.
var (
	ErrAlreadyClaimed = errors.New("step already in progress or finished")
	ErrStepLocked     = errors.New("step currently locked")
	ErrStepNotFound   = errors.New("step not found")
	ErrNotOwner       = errors.New("not the step owner")
	ErrNotClaimed     = errors.New("step has no lock; it was never properly claimed")
	ErrRefuseRemove   = errors.New("refusing to remove the current working directory")
)
