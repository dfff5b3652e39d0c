package relay

import (
	"fmt"
	"sort"
	"strings"
)

// MutationRejection explains why one mutation key was not applied.
type MutationRejection struct {
	Path   string
	Reason string
}

func (r MutationRejection) String() string {
	return fmt.Sprintf("mutation %q rejected: %s", r.Path, r.Reason)
}

// ApplyMutations writes mutations into p.Data in place and returns the keys it
// refused.
//
// # Path Syntax
//
// Keys are dotted paths relative to the event data. A leading "data." is
// accepted and stripped, so "data.tool_input.command" and
// "tool_input.command" are the same path. Missing intermediate objects are
// created; an intermediate that exists but is not an object is never
// overwritten.
//
// # Safe Prefixes
//
// Only paths whose first segment is one of p.Event's [HookEvent.MutablePrefixes]
// are applied. Envelope fields (role, session, harness paths) are outside Data
// and cannot be reached at all.
//
// Keys are applied in sorted order so the outcome does not depend on map
// iteration.
func ApplyMutations(p *HookPayload, mutations map[string]any) []MutationRejection {
	if len(mutations) == 0 {
		return nil
	}
	allowed := make(map[string]bool)
	for _, prefix := range p.Event.MutablePrefixes() {
		allowed[prefix] = true
	}

	keys := make([]string, 0, len(mutations))
	for k := range mutations {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var rejected []MutationRejection
	for _, key := range keys {
		segments, err := splitMutationPath(key)
		if err != nil {
			rejected = append(rejected, MutationRejection{Path: key, Reason: err.Error()})
			continue
		}
		if !allowed[segments[0]] {
			rejected = append(rejected, MutationRejection{
				Path:   key,
				Reason: fmt.Sprintf("%q is not writable on %s", segments[0], p.Event),
			})
			continue
		}
		if p.Data == nil {
			p.Data = make(map[string]any)
		}
		if err := setPath(p.Data, segments, cloneValue(mutations[key])); err != nil {
			rejected = append(rejected, MutationRejection{Path: key, Reason: err.Error()})
		}
	}
	return rejected
}

func splitMutationPath(key string) ([]string, error) {
	key = strings.TrimSpace(key)
	key = strings.TrimPrefix(key, "data.")
	if key == "" {
		return nil, fmt.Errorf("empty path")
	}
	segments := strings.Split(key, ".")
	for _, s := range segments {
		if s == "" {
			return nil, fmt.Errorf("empty path segment")
		}
	}
	return segments, nil
}

func setPath(root map[string]any, segments []string, value any) error {
	current := root
	for i, seg := range segments[:len(segments)-1] {
		next, exists := current[seg]
		if !exists || next == nil {
			created := make(map[string]any)
			current[seg] = created
			current = created
			continue
		}
		nextMap, ok := next.(map[string]any)
		if !ok {
			return fmt.Errorf("%q is not an object", strings.Join(segments[:i+1], "."))
		}
		current = nextMap
	}
	current[segments[len(segments)-1]] = value
	return nil
}
