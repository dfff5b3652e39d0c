package executor

import (
	"fmt"

	"github.com/rickchristie/relay"
)

// Decision is the role gate's verdict for one hook.
type Decision int

const (
	// Allow runs the hook.
	Allow Decision = iota

	// Skip passes over the hook with a note.
	Skip

	// HardError aborts the whole dispatch.
	HardError
)

func (d Decision) String() string {
	switch d {
	case Allow:
		return "allow"
	case Skip:
		return "skip"
	case HardError:
		return "hard_error"
	default:
		return fmt.Sprintf("decision(%d)", int(d))
	}
}

// Gate decides whether a caller with role may run a hook declaring effects.
//
//	leader                         -> Allow
//	worker, effects nil or invalid -> HardError
//	worker, effects empty          -> Allow
//	worker, any mutating effect    -> Skip
//	worker, otherwise              -> Allow
//
// The returned reason is empty for Allow.
func Gate(role relay.Role, effects relay.Effects) (Decision, string) {
	if role != relay.RoleWorker {
		return Allow, ""
	}
	if err := effects.Validate(); err != nil {
		return HardError, err.Error()
	}
	if mutating := effects.Mutating(); len(mutating) > 0 {
		return Skip, fmt.Sprintf("declares mutating effects %v", mutating)
	}
	return Allow, ""
}
