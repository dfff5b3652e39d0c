// Package hooks loads hook registrations from a configuration document and
// resolves them to runnable handlers.
//
// # Configuration Document
//
// The registry reads one document, JSON or YAML (chosen by file extension):
//
//	{
//	  "spec_version": "1",
//	  "enabled": true,
//	  "defaults": {"timeout_ms": 2000, "continue_on_error": true},
//	  "hooks": [
//	    {
//	      "id": "guard",
//	      "event": "pre_tool_use",
//	      "type": "handler",
//	      "target": "builtin.command_guard",
//	      "priority": 10,
//	      "tool_name_pattern": "^bash$",
//	      "effects": []
//	    }
//	  ]
//	}
//
// Records that fail validation (missing id, unknown event or type, bad tool
// name pattern) are dropped with a warning. A later record with an id already
// seen replaces the earlier one in its original position.
//
// # Resolution
//
// Handler-type targets are looked up in a [HandlerTable] filled at start-up.
// Nothing is imported or discovered at runtime. A target missing from the
// table leaves its hook registered but unusable: [Registry.Unresolved] lists
// it, and dispatching it reports a not_resolved error. Command-type targets
// run through the shell (see [CommandHandler]).
//
// # Concurrency
//
// Reads ([Registry.HooksForEvent], [Registry.Actions]) load an immutable
// snapshot through an atomic pointer and never block. Load, Reload and the
// mutation methods are serialized by one mutex and swap in a complete new
// snapshot, so no reader sees a half-updated table.
//
// # Persistence
//
// AddHook, RemoveHook and SetHookEnabled rewrite the whole document. The write
// goes to a temporary file that is renamed over the original. If the write
// fails the in-memory registry is left unchanged.
package hooks
