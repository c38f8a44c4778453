package dictgo

import (
	"errors"
	"fmt"
)

var (
	// ErrClosed is returned by operations on a closed engine.
	ErrClosed = errors.New("engine is closed")
	// ErrCorruptFrame indicates a stored value whose Zstd frame cannot be
	// decoded. The caller should treat the key as lost and delete it.
	ErrCorruptFrame = errors.New("corrupt compressed frame")
	// ErrNoSamples is returned by a training run that found the reservoir
	// empty after snapshotting.
	ErrNoSamples = errors.New("no training samples available")
	// ErrDictTooSmall rejects degenerate training results.
	ErrDictTooSmall = errors.New("trained dictionary below minimum size")
)

// ErrUnknownDict indicates a stored value referring to a dictionary id that
// is not present in the current routing table. The caller is expected to
// delete the key.
type ErrUnknownDict struct {
	ID uint16
}

func (e *ErrUnknownDict) Error() string {
	return fmt.Sprintf("unknown dictionary id %d", e.ID)
}
