package hooks

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/rickchristie/relay"
	"gopkg.in/yaml.v3"
)

// SpecVersion is written into documents the registry creates.
const SpecVersion = "1"

// DefaultPriority applies to records without an explicit priority.
const DefaultPriority = 100

// ErrInvalidHook is wrapped by every record validation error.
var ErrInvalidHook = errors.New("invalid hook")

// Format is the serialization of a hook document.
type Format int

const (
	FormatJSON Format = iota
	FormatYAML
)

// FormatForPath picks YAML for .yaml/.yml files and JSON otherwise.
func FormatForPath(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML
	default:
		return FormatJSON
	}
}

// Document is the on-disk hook configuration.
type Document struct {
	SpecVersion string   `json:"spec_version" yaml:"spec_version"`
	Enabled     *bool    `json:"enabled,omitempty" yaml:"enabled,omitempty"`
	Defaults    Defaults `json:"defaults" yaml:"defaults"`
	Hooks       []Record `json:"hooks" yaml:"hooks"`
}

// Defaults fill in fields a record leaves out.
type Defaults struct {
	TimeoutMs       *int  `json:"timeout_ms,omitempty" yaml:"timeout_ms,omitempty"`
	ContinueOnError *bool `json:"continue_on_error,omitempty" yaml:"continue_on_error,omitempty"`
}

// Record is one hook entry as written in the document. Pointer fields
// distinguish "absent" from the zero value so defaults can apply.
type Record struct {
	ID              string        `json:"id" yaml:"id"`
	Event           string        `json:"event" yaml:"event"`
	Type            string        `json:"type,omitempty" yaml:"type,omitempty"`
	Target          string        `json:"target" yaml:"target"`
	Priority        *int          `json:"priority,omitempty" yaml:"priority,omitempty"`
	Enabled         *bool         `json:"enabled,omitempty" yaml:"enabled,omitempty"`
	TimeoutMs       *int          `json:"timeout_ms,omitempty" yaml:"timeout_ms,omitempty"`
	ContinueOnError *bool         `json:"continue_on_error,omitempty" yaml:"continue_on_error,omitempty"`
	ToolNamePattern string        `json:"tool_name_pattern,omitempty" yaml:"tool_name_pattern,omitempty"`
	Effects         relay.Effects `json:"effects" yaml:"effects"`
}

// NewDocument returns an empty, enabled document.
func NewDocument() Document {
	enabled := true
	return Document{
		SpecVersion: SpecVersion,
		Enabled:     &enabled,
		Hooks:       []Record{},
	}
}

// IsEnabled reports the document-wide switch. Absent means enabled.
func (d Document) IsEnabled() bool {
	return d.Enabled == nil || *d.Enabled
}

// DecodeDocument parses a hook document.
func DecodeDocument(data []byte, format Format) (Document, error) {
	var doc Document
	if len(bytes.TrimSpace(data)) == 0 {
		return NewDocument(), nil
	}
	switch format {
	case FormatYAML:
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return Document{}, fmt.Errorf("parsing hook document: %w", err)
		}
	default:
		if err := json.Unmarshal(data, &doc); err != nil {
			return Document{}, fmt.Errorf("parsing hook document: %w", err)
		}
	}
	if doc.SpecVersion == "" {
		doc.SpecVersion = SpecVersion
	}
	return doc, nil
}

// EncodeDocument serializes doc.
func EncodeDocument(doc Document, format Format) ([]byte, error) {
	if doc.Hooks == nil {
		doc.Hooks = []Record{}
	}
	switch format {
	case FormatYAML:
		var buf bytes.Buffer
		enc := yaml.NewEncoder(&buf)
		enc.SetIndent(2)
		if err := enc.Encode(doc); err != nil {
			return nil, fmt.Errorf("encoding hook document: %w", err)
		}
		if err := enc.Close(); err != nil {
			return nil, fmt.Errorf("encoding hook document: %w", err)
		}
		return buf.Bytes(), nil
	default:
		data, err := json.MarshalIndent(doc, "", "  ")
		if err != nil {
			return nil, fmt.Errorf("encoding hook document: %w", err)
		}
		return append(data, '\n'), nil
	}
}

// Action validates rec and fills defaults, producing a registration.
func (d Document) Action(rec Record) (relay.HookAction, error) {
	id := strings.TrimSpace(rec.ID)
	if id == "" {
		return relay.HookAction{}, fmt.Errorf("%w: missing id", ErrInvalidHook)
	}

	event, err := relay.ParseHookEvent(rec.Event)
	if err != nil {
		return relay.HookAction{}, fmt.Errorf("%w %q: %v", ErrInvalidHook, id, err)
	}

	typ := relay.HookType(strings.ToLower(strings.TrimSpace(rec.Type)))
	if typ == "" {
		typ = relay.HookTypeHandler
	}
	if !typ.Valid() {
		return relay.HookAction{}, fmt.Errorf("%w %q: unknown type %q", ErrInvalidHook, id, rec.Type)
	}

	target := strings.TrimSpace(rec.Target)
	if target == "" {
		return relay.HookAction{}, fmt.Errorf("%w %q: missing target", ErrInvalidHook, id)
	}

	if rec.ToolNamePattern != "" {
		if _, err := regexp.Compile(rec.ToolNamePattern); err != nil {
			return relay.HookAction{}, fmt.Errorf(
				"%w %q: bad tool_name_pattern: %v", ErrInvalidHook, id, err,
			)
		}
	}

	timeoutMs := int(relay.DefaultHookTimeout / time.Millisecond)
	if d.Defaults.TimeoutMs != nil {
		timeoutMs = *d.Defaults.TimeoutMs
	}
	if rec.TimeoutMs != nil {
		timeoutMs = *rec.TimeoutMs
	}
	if timeoutMs <= 0 {
		return relay.HookAction{}, fmt.Errorf(
			"%w %q: timeout_ms must be positive, got %d", ErrInvalidHook, id, timeoutMs,
		)
	}

	continueOnError := true
	if d.Defaults.ContinueOnError != nil {
		continueOnError = *d.Defaults.ContinueOnError
	}
	if rec.ContinueOnError != nil {
		continueOnError = *rec.ContinueOnError
	}

	priority := DefaultPriority
	if rec.Priority != nil {
		priority = *rec.Priority
	}

	enabled := true
	if rec.Enabled != nil {
		enabled = *rec.Enabled
	}

	return relay.HookAction{
		ID:              id,
		Event:           event,
		Type:            typ,
		Target:          target,
		Priority:        priority,
		Enabled:         enabled,
		Timeout:         time.Duration(timeoutMs) * time.Millisecond,
		ContinueOnError: continueOnError,
		ToolNamePattern: rec.ToolNamePattern,
		Effects:         rec.Effects.Clone(),
	}, nil
}

// RecordFromAction converts a registration into an explicit record, every
// field spelled out.
func RecordFromAction(a relay.HookAction) Record {
	priority := a.Priority
	enabled := a.Enabled
	timeoutMs := int(a.EffectiveTimeout() / time.Millisecond)
	continueOnError := a.ContinueOnError
	typ := a.Type
	if typ == "" {
		typ = relay.HookTypeHandler
	}
	return Record{
		ID:              a.ID,
		Event:           string(a.Event),
		Type:            string(typ),
		Target:          a.Target,
		Priority:        &priority,
		Enabled:         &enabled,
		TimeoutMs:       &timeoutMs,
		ContinueOnError: &continueOnError,
		ToolNamePattern: a.ToolNamePattern,
		Effects:         a.Effects.Clone(),
	}
}

// clone copies d deeply enough that editing the copy's records never touches d.
func (d Document) clone() Document {
	out := d
	out.Hooks = make([]Record, len(d.Hooks))
	copy(out.Hooks, d.Hooks)
	return out
}

// upsert replaces the first record with rec.ID, dropping later duplicates, or
// appends rec.
func (d *Document) upsert(rec Record) {
	replaced := false
	kept := d.Hooks[:0]
	for _, existing := range d.Hooks {
		if strings.TrimSpace(existing.ID) == rec.ID {
			if replaced {
				continue
			}
			existing = rec
			replaced = true
		}
		kept = append(kept, existing)
	}
	if !replaced {
		kept = append(kept, rec)
	}
	d.Hooks = kept
}

// remove deletes every record with id and reports whether any existed.
func (d *Document) remove(id string) bool {
	found := false
	kept := d.Hooks[:0]
	for _, existing := range d.Hooks {
		if strings.TrimSpace(existing.ID) == id {
			found = true
			continue
		}
		kept = append(kept, existing)
	}
	d.Hooks = kept
	return found
}
