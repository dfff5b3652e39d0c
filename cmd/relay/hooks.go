package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pmezard/go-difflib/difflib"
	"github.com/rickchristie/relay"
	"github.com/rickchristie/relay/hooks"
	"github.com/rickchristie/relay/hooks/builtin"
	"github.com/rickchristie/relay/internal/atomicfile"
	"github.com/spf13/cobra"
)

// Hook commands edit the document on disk. A running gateway picks the
// change up through its watcher.
func newHooksCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "hooks",
		Short: "Inspect and edit the hook document",
	}
	cmd.AddCommand(
		newHooksInitCmd(a),
		newHooksListCmd(a),
		newHooksValidateCmd(a),
		newHooksAddCmd(a),
		newHooksRemoveCmd(a),
		newHooksToggleCmd(a, "enable", true),
		newHooksToggleCmd(a, "disable", false),
	)
	return cmd
}

// withRegistry runs fn against the console's registry, or opens a harness
// for the duration of fn.
func (a *app) withRegistry(fn func(reg *hooks.Registry) error) error {
	if a.shared != nil && a.shared.harness != nil {
		return fn(a.shared.harness.Registry)
	}
	h, err := a.openHarness()
	if err != nil {
		return err
	}
	defer h.Close()
	return fn(h.Registry)
}

func newHooksInitCmd(a *app) *cobra.Command {
	var force, dryRun bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write the default hook document",
		Long: "Write the built-in default hook document. When a document already exists,\n" +
			"--dry-run shows how it differs from the defaults and --force replaces it.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := a.loadConfig()
			if err != nil {
				return err
			}
			path := cfg.HooksFile
			data, err := hooks.EncodeDocument(builtin.DefaultDocument(), hooks.FormatForPath(path))
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			existing, err := os.ReadFile(path)
			switch {
			case errors.Is(err, fs.ErrNotExist):
				if dryRun {
					fmt.Fprintf(out, "%s would be created\n", path)
					return nil
				}
			case err != nil:
				return err
			default:
				diff, err := documentDiff(path, existing, data)
				if err != nil {
					return err
				}
				if diff == "" {
					fmt.Fprintf(out, "%s %s already matches the defaults\n", styleOK.Render("ok"), path)
					return nil
				}
				if dryRun || !force {
					renderDiff(out, diff)
				}
				if dryRun {
					return nil
				}
				if !force {
					return fmt.Errorf("%s already exists (use --force to overwrite)", path)
				}
			}

			if err := atomicfile.WriteFile(path, data, 0o644); err != nil {
				return err
			}
			fmt.Fprintf(out, "%s wrote %s\n", styleOK.Render("ok"), path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing document")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "show the difference without writing")
	return cmd
}

// documentDiff returns a unified diff from current to proposed, or "" when
// they are equal.
func documentDiff(path string, current, proposed []byte) (string, error) {
	return difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        difflib.SplitLines(string(current)),
		B:        difflib.SplitLines(string(proposed)),
		FromFile: path,
		ToFile:   "defaults",
		Context:  2,
	})
}

func renderDiff(w io.Writer, diff string) {
	for _, line := range strings.SplitAfter(diff, "\n") {
		switch {
		case line == "":
		case strings.HasPrefix(line, "+++"), strings.HasPrefix(line, "---"):
			fmt.Fprint(w, styleHeader.Render(strings.TrimSuffix(line, "\n"))+"\n")
		case strings.HasPrefix(line, "+"):
			fmt.Fprint(w, styleOK.Render(strings.TrimSuffix(line, "\n"))+"\n")
		case strings.HasPrefix(line, "-"):
			fmt.Fprint(w, styleError.Render(strings.TrimSuffix(line, "\n"))+"\n")
		case strings.HasPrefix(line, "@@"):
			fmt.Fprint(w, styleID.Render(strings.TrimSuffix(line, "\n"))+"\n")
		default:
			fmt.Fprint(w, line)
		}
	}
}

func newHooksListCmd(a *app) *cobra.Command {
	var asJSON bool
	var event string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List registered hooks in dispatch order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withRegistry(func(reg *hooks.Registry) error {
				list := reg.Hooks()
				if event != "" {
					ev, err := relay.ParseHookEvent(event)
					if err != nil {
						return err
					}
					list = filterHooks(list, ev)
				}
				out := cmd.OutOrStdout()
				if asJSON {
					enc := json.NewEncoder(out)
					enc.SetIndent("", "  ")
					recs := make([]hooks.Record, len(list))
					for i, h := range list {
						recs[i] = hooks.RecordFromAction(h.HookAction)
					}
					return enc.Encode(recs)
				}
				if !reg.Enabled() {
					fmt.Fprintln(out, styleWarn.Render("hooks are disabled document-wide"))
				}
				renderHooks(out, list)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print records as JSON")
	cmd.Flags().StringVar(&event, "event", "", "only hooks for this event")
	return cmd
}

func filterHooks(list []hooks.Hook, ev relay.HookEvent) []hooks.Hook {
	var out []hooks.Hook
	for _, h := range list {
		if h.Event == ev {
			out = append(out, h)
		}
	}
	return out
}

func renderHooks(w io.Writer, list []hooks.Hook) {
	if len(list) == 0 {
		fmt.Fprintln(w, styleDim.Render("no hooks"))
		return
	}
	t := &table{header: []string{"ID", "EVENT", "PRIO", "TYPE", "TARGET", "EFFECTS", "STATE"}}
	for _, h := range list {
		t.add(
			styleID.Render(h.ID),
			string(h.Event),
			strconv.Itoa(h.Priority),
			string(h.Type),
			h.Target,
			formatEffects(h.Effects),
			hookState(h),
		)
	}
	t.render(w)
}

func formatEffects(e relay.Effects) string {
	if !e.Declared() {
		return styleError.Render("undeclared")
	}
	if len(e) == 0 {
		return "none"
	}
	parts := make([]string, len(e))
	for i, eff := range e {
		parts[i] = string(eff)
	}
	return strings.Join(parts, ",")
}

func hookState(h hooks.Hook) string {
	switch {
	case !h.Enabled:
		return styleDim.Render("disabled")
	case !h.Resolved():
		return styleError.Render("unresolved: " + h.ResolveError)
	default:
		return styleOK.Render("ok")
	}
}

func newHooksValidateCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Report dropped records and unresolved targets",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withRegistry(func(reg *hooks.Registry) error {
				out := cmd.OutOrStdout()
				dropped, unresolved := reg.Dropped(), reg.Unresolved()
				for _, d := range dropped {
					fmt.Fprintf(out, "%s record %d (%s): %s\n", styleError.Render("dropped"), d.Index, d.ID, d.Reason)
				}
				for _, u := range unresolved {
					fmt.Fprintf(out, "%s %s -> %s: %s\n", styleError.Render("unresolved"), u.ID, u.Target, u.Reason)
				}
				for _, h := range reg.Hooks() {
					if h.Enabled && !h.Effects.Declared() {
						fmt.Fprintf(out, "%s %s declares no effects and fails every worker dispatch\n", styleWarn.Render("warning"), h.ID)
					}
				}
				if n := len(dropped) + len(unresolved); n > 0 {
					return fmt.Errorf("%d problem(s) in %s", n, reg.Path())
				}
				fmt.Fprintf(out, "%s %d hook(s) in %s\n", styleOK.Render("ok"), len(reg.Hooks()), reg.Path())
				return nil
			})
		},
	}
}

func newHooksAddCmd(a *app) *cobra.Command {
	var (
		event           string
		hookType        string
		target          string
		priority        int
		timeout         time.Duration
		continueOnError bool
		disabled        bool
		toolPattern     string
		effects         []string
	)
	cmd := &cobra.Command{
		Use:   "add <id>",
		Short: "Add or replace a hook",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ev, err := relay.ParseHookEvent(event)
			if err != nil {
				return err
			}
			action := relay.HookAction{
				ID:              args[0],
				Event:           ev,
				Type:            relay.HookType(hookType),
				Target:          target,
				Priority:        priority,
				Enabled:         !disabled,
				Timeout:         timeout,
				ContinueOnError: continueOnError,
				ToolNamePattern: toolPattern,
			}
			// Leaving --effects unset keeps them undeclared.
			if cmd.Flags().Changed("effects") {
				action.Effects = relay.Effects{}
				for _, e := range effects {
					if e = strings.TrimSpace(e); e != "" {
						action.Effects = append(action.Effects, relay.Effect(e))
					}
				}
			}
			return a.withRegistry(func(reg *hooks.Registry) error {
				if err := reg.AddHook(action); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s added %s\n", styleOK.Render("ok"), action.ID)
				return nil
			})
		},
	}
	f := cmd.Flags()
	f.StringVar(&event, "event", "", "hook event (required)")
	f.StringVar(&hookType, "type", string(relay.HookTypeHandler), "handler or command")
	f.StringVar(&target, "target", "", "handler key or command line (required)")
	f.IntVar(&priority, "priority", hooks.DefaultPriority, "lower runs first")
	f.DurationVar(&timeout, "timeout", relay.DefaultHookTimeout, "per-hook timeout")
	f.BoolVar(&continueOnError, "continue-on-error", true, "keep dispatching after this hook fails")
	f.BoolVar(&disabled, "disabled", false, "register the hook disabled")
	f.StringVar(&toolPattern, "tool-pattern", "", "only run for tool names matching this regexp")
	f.StringSliceVar(&effects, "effects", nil, "declared effects, comma separated; pass --effects= for none")
	_ = cmd.MarkFlagRequired("event")
	_ = cmd.MarkFlagRequired("target")
	return cmd
}

func newHooksRemoveCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "remove <id>",
		Short: "Remove a hook",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withRegistry(func(reg *hooks.Registry) error {
				if err := reg.RemoveHook(args[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s removed %s\n", styleOK.Render("ok"), args[0])
				return nil
			})
		},
	}
}

func newHooksToggleCmd(a *app, verb string, enabled bool) *cobra.Command {
	return &cobra.Command{
		Use:   verb + " <id>",
		Short: strings.ToUpper(verb[:1]) + verb[1:] + " a hook",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withRegistry(func(reg *hooks.Registry) error {
				if err := reg.SetHookEnabled(args[0], enabled); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s %sd %s\n", styleOK.Render("ok"), verb, args[0])
				return nil
			})
		},
	}
}
