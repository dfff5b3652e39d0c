package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/rickchristie/relay"
	"github.com/rickchristie/relay/events"
	"github.com/rickchristie/relay/gateway"
	"github.com/spf13/cobra"
)

func newEventsCmd(a *app) *cobra.Command {
	var (
		runID  string
		event  string
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "events",
		Short: "Follow the gateway's live dispatch feed",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if a.remote == "" {
				return fmt.Errorf("events needs a running gateway: set --remote")
			}
			filter := gateway.EventFilter{RunID: runID}
			if event != "" {
				ev, err := relay.ParseHookEvent(event)
				if err != nil {
					return err
				}
				filter.Event = ev
			}
			c := gateway.NewClient(a.remote).WithIdentity(a.callerRole(), a.agent, a.runID)
			out := cmd.OutOrStdout()
			return c.Events(cmd.Context(), filter, func(e events.Entry) error {
				if asJSON {
					return writeJSONTo(out, e)
				}
				renderEntry(out, e)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&runID, "run-id", "", "only this dispatch")
	cmd.Flags().StringVar(&event, "event", "", "only this hook event")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print one JSON object per entry")
	return cmd
}

func renderEntry(w io.Writer, e events.Entry) {
	ts := styleDim.Render(e.Time.Format("15:04:05.000"))
	run := styleID.Render(shortID(e.RunID))
	switch e.Kind {
	case events.KindDispatchStarted:
		fmt.Fprintf(w, "%s %s %s %s start hooks=[%s]\n", ts, run, e.Event, e.Role, strings.Join(e.HookIDs, ","))
	case events.KindHookCompleted:
		status := styleOK.Render("ok")
		switch {
		case !e.OK:
			status = styleWarn.Render("error " + e.ErrorCode)
		case !e.Allow:
			status = styleError.Render("deny " + e.BlockReason)
		}
		fmt.Fprintf(w, "%s %s   %s %s %dms\n", ts, run, e.HookID, status, e.DurationMs)
	case events.KindHookSkipped:
		fmt.Fprintf(w, "%s %s   %s %s\n", ts, run, e.HookID, styleDim.Render("skipped: "+e.Reason))
	case events.KindDispatchCompleted:
		status := styleOK.Render("allowed")
		switch {
		case e.ErrorCode != "" && !e.OK:
			status = styleError.Render("error " + e.ErrorCode)
		case !e.Allow:
			status = styleError.Render("blocked: " + e.BlockReason)
		}
		fmt.Fprintf(w, "%s %s %s done %s %dms\n", ts, run, e.Event, status, e.DurationMs)
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
