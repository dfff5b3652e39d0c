package relay

import (
	"fmt"
	"strings"
)

// Effect names one category of shared state a hook writes to.
type Effect string

// Mutating effects. A worker caller never runs a hook declaring any of these.
const (
	EffectTodoWrite          Effect = "todo_write"
	EffectWorkingMemoryWrite Effect = "working_memory_write"
	EffectMessageBusWrite    Effect = "message_bus_write"
	EffectArtifactWrite      Effect = "artifact_write"
	EffectSessionWrite       Effect = "session_write"
	EffectCheckpointWrite    Effect = "checkpoint_write"
	EffectFileWrite          Effect = "file_write"
)

// Non-mutating effects. Declaring only these keeps a hook runnable by workers.
const (
	EffectNetwork Effect = "network"
	EffectNotify  Effect = "notify"
	EffectUI      Effect = "ui"
	EffectLog     Effect = "log"
)

var mutatingEffects = map[Effect]bool{
	EffectTodoWrite:          true,
	EffectWorkingMemoryWrite: true,
	EffectMessageBusWrite:    true,
	EffectArtifactWrite:      true,
	EffectSessionWrite:       true,
	EffectCheckpointWrite:    true,
	EffectFileWrite:          true,
}

var observingEffects = map[Effect]bool{
	EffectNetwork: true,
	EffectNotify:  true,
	EffectUI:      true,
	EffectLog:     true,
}

// IsMutating reports whether e writes shared state.
func (e Effect) IsMutating() bool {
	return mutatingEffects[e]
}

// Known reports whether e is a recognised category.
func (e Effect) Known() bool {
	return mutatingEffects[e] || observingEffects[e]
}

// Effects is a hook's declared list of side-effect categories.
//
// nil means undeclared. An empty slice means "no side effects". The
// distinction survives JSON and YAML round trips: nil encodes as null and
// decodes back to nil (as does a missing key), [] stays an empty slice.
type Effects []Effect

// Declared reports whether the hook declared its effects at all.
func (e Effects) Declared() bool {
	return e != nil
}

// Validate returns an error for undeclared effects or unknown categories.
func (e Effects) Validate() error {
	if e == nil {
		return fmt.Errorf("effects not declared")
	}
	for _, eff := range e {
		if strings.TrimSpace(string(eff)) == "" {
			return fmt.Errorf("empty effect category")
		}
		if !eff.Known() {
			return fmt.Errorf("unknown effect category %q", eff)
		}
	}
	return nil
}

// Mutating returns the declared effects that write shared state.
func (e Effects) Mutating() []Effect {
	var out []Effect
	for _, eff := range e {
		if eff.IsMutating() {
			out = append(out, eff)
		}
	}
	return out
}

// MarshalYAML writes undeclared effects as null. yaml.v3 would otherwise emit
// a nil slice as [], turning "undeclared" into "no side effects".
func (e Effects) MarshalYAML() (any, error) {
	if e == nil {
		return nil, nil
	}
	return []Effect(e), nil
}

// Clone copies e, preserving the nil/empty distinction.
func (e Effects) Clone() Effects {
	if e == nil {
		return nil
	}
	out := make(Effects, len(e))
	copy(out, e)
	return out
}

// MutatingEffects returns the fixed set of mutating categories.
func MutatingEffects() []Effect {
	return []Effect{
		EffectTodoWrite,
		EffectWorkingMemoryWrite,
		EffectMessageBusWrite,
		EffectArtifactWrite,
		EffectSessionWrite,
		EffectCheckpointWrite,
		EffectFileWrite,
	}
}

// -----------------------------------------------------------------------------
// Roles
// -----------------------------------------------------------------------------

// Role is the trust level of the agent that triggered a dispatch.
type Role string

const (
	// RoleLeader is fully trusted; every hook runs.
	RoleLeader Role = "leader"

	// RoleWorker may only run hooks that declared non-mutating effects.
	RoleWorker Role = "worker"
)

// ParseRole maps a request-supplied role string to a Role.
//
// An empty string is the leader: the primary interactive caller does not send
// a role header. Any value other than "leader" is treated as a worker.
func ParseRole(s string) Role {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", string(RoleLeader):
		return RoleLeader
	default:
		return RoleWorker
	}
}
