package main

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/rickchristie/relay/bus"
	"github.com/spf13/cobra"
)

// busCmd is the shape of every bus subcommand: it runs against an open env.
type busCmd func(cmd *cobra.Command, args []string, e *env) error

func (a *app) runBus(fn busCmd) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		e, err := a.open(cmd.Context())
		if err != nil {
			return err
		}
		defer e.close()
		return fn(cmd, args, e)
	}
}

func newBusCmd(a *app) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:     "bus",
		Aliases: []string{"msg"},
		Short:   "Send, claim and track messages between agents",
	}
	cmd.PersistentFlags().BoolVar(&asJSON, "json", false, "print JSON")

	printMsg := func(w io.Writer, m bus.Message) error {
		if asJSON {
			return writeJSONTo(w, m)
		}
		renderMessage(w, m)
		return nil
	}
	printList := func(w io.Writer, msgs []bus.Message) error {
		if asJSON {
			if msgs == nil {
				msgs = []bus.Message{}
			}
			return writeJSONTo(w, msgs)
		}
		renderMessages(w, msgs)
		return nil
	}

	var send bus.SendRequest
	var sendMeta map[string]string
	sendCmd := &cobra.Command{
		Use:   "send",
		Short: "Send a message",
		Args:  cobra.NoArgs,
		RunE: a.runBus(func(cmd *cobra.Command, _ []string, e *env) error {
			req := send
			if req.From == "" {
				req.From = a.agent
			}
			if req.From == "" {
				req.From = string(a.callerRole())
			}
			id, err := e.bus.Send(req)
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSONTo(cmd.OutOrStdout(), map[string]string{"id": id})
			}
			fmt.Fprintln(cmd.OutOrStdout(), id)
			return nil
		}),
	}
	sf := sendCmd.Flags()
	sf.StringVar(&send.To, "to", "", "recipient agent, workers or broadcast (required)")
	sf.StringVar(&send.Subject, "subject", "", "subject (required)")
	sf.StringVar(&send.Body, "body", "", "body")
	sf.StringVar(&send.Priority, "priority", "", "high, normal or low")
	sf.StringVar(&send.From, "from", "", "sender (default --agent or --role)")
	sf.StringToStringVar(&sendMeta, "meta", nil, "metadata key=value pairs")
	_ = sendCmd.MarkFlagRequired("to")
	_ = sendCmd.MarkFlagRequired("subject")
	sendCmd.PreRun = func(*cobra.Command, []string) {
		if len(sendMeta) > 0 {
			send.Metadata = make(map[string]any, len(sendMeta))
			for k, v := range sendMeta {
				send.Metadata[k] = v
			}
		}
	}

	claimCmd := &cobra.Command{
		Use:   "claim <id>",
		Short: "Claim a pending message",
		Args:  cobra.ExactArgs(1),
		RunE: a.runBus(func(cmd *cobra.Command, args []string, e *env) error {
			agent, err := requireAgent(a)
			if err != nil {
				return err
			}
			m, err := e.bus.Claim(args[0], agent)
			if err != nil {
				return err
			}
			return printMsg(cmd.OutOrStdout(), m)
		}),
	}

	// transition runs one state change for --agent and prints the result.
	transition := func(use, short string, fn func(e *env, id, agent string) error) *cobra.Command {
		return &cobra.Command{
			Use:   use + " <id>",
			Short: short,
			Args:  cobra.ExactArgs(1),
			RunE: a.runBus(func(cmd *cobra.Command, args []string, e *env) error {
				agent, err := requireAgent(a)
				if err != nil {
					return err
				}
				if err := fn(e, args[0], agent); err != nil {
					return err
				}
				m, err := e.bus.Get(args[0])
				if err != nil {
					return err
				}
				return printMsg(cmd.OutOrStdout(), m)
			}),
		}
	}

	ackCmd := transition("ack", "Mark a claimed message in progress", func(e *env, id, agent string) error {
		return e.bus.Ack(id, agent)
	})
	releaseCmd := transition("release", "Return a claimed message to pending", func(e *env, id, agent string) error {
		return e.bus.Release(id, agent)
	})
	var fail bool
	var result string
	completeCmd := transition("complete", "Finish a message", func(e *env, id, agent string) error {
		return e.bus.Complete(id, agent, !fail, result)
	})
	completeCmd.Flags().BoolVar(&fail, "fail", false, "record a failure instead of success")
	completeCmd.Flags().StringVar(&result, "result", "", "result, or failure reason with --fail")

	getCmd := &cobra.Command{
		Use:   "get <id>",
		Short: "Show one message",
		Args:  cobra.ExactArgs(1),
		RunE: a.runBus(func(cmd *cobra.Command, args []string, e *env) error {
			m, err := e.bus.Get(args[0])
			if err != nil {
				return err
			}
			return printMsg(cmd.OutOrStdout(), m)
		}),
	}

	var filter bus.ListFilter
	var status string
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List messages",
		Args:  cobra.NoArgs,
		RunE: a.runBus(func(cmd *cobra.Command, _ []string, e *env) error {
			f := filter
			f.Status = bus.Status(status)
			if f.Status != "" && !f.Status.Valid() {
				return fmt.Errorf("unknown status %q", status)
			}
			res, err := e.bus.List(f)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if asJSON {
				return writeJSONTo(out, res)
			}
			renderMessages(out, res.Messages)
			fmt.Fprintln(out, styleDim.Render(fmt.Sprintf("%d of %d shown", len(res.Messages), res.Total)))
			return nil
		}),
	}
	lf := listCmd.Flags()
	lf.StringVar(&status, "status", "", "pending, claimed, in_progress, completed or failed")
	lf.StringVar(&filter.ToAgent, "to", "", "recipient")
	lf.StringVar(&filter.FromAgent, "from", "", "sender")
	lf.IntVar(&filter.Limit, "limit", 0, "maximum messages, 0 for all")

	var includeClaimed bool
	var inboxLimit int
	inboxCmd := &cobra.Command{
		Use:   "inbox [agent]",
		Short: "Show the pending messages an agent may claim",
		Args:  cobra.MaximumNArgs(1),
		RunE: a.runBus(func(cmd *cobra.Command, args []string, e *env) error {
			agent := a.agent
			if len(args) == 1 {
				agent = args[0]
			}
			if agent == "" {
				return fmt.Errorf("agent is required: pass it as an argument or set --agent")
			}
			msgs, err := e.bus.ListForAgent(agent, includeClaimed, inboxLimit)
			if err != nil {
				return err
			}
			return printList(cmd.OutOrStdout(), msgs)
		}),
	}
	inboxCmd.Flags().BoolVar(&includeClaimed, "include-claimed", false, "also show messages the agent holds")
	inboxCmd.Flags().IntVar(&inboxLimit, "limit", 0, "maximum messages, 0 for all")

	statsCmd := &cobra.Command{
		Use:   "stats",
		Short: "Count messages by status and priority",
		Args:  cobra.NoArgs,
		RunE: a.runBus(func(cmd *cobra.Command, _ []string, e *env) error {
			st, err := e.bus.Stats()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if asJSON {
				return writeJSONTo(out, st)
			}
			fmt.Fprintf(out, "%s %d\n", styleHeader.Render("total:"), st.Total)
			for _, s := range bus.AllStatuses() {
				fmt.Fprintf(out, "  %-12s %d\n", s, st.ByStatus[s])
			}
			for _, p := range []bus.Priority{bus.PriorityHigh, bus.PriorityNormal, bus.PriorityLow} {
				fmt.Fprintf(out, "  %-12s %d\n", p, st.ByPriority[p])
			}
			return nil
		}),
	}

	var olderThan time.Duration
	cleanupCmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Delete finished messages older than a cutoff",
		Args:  cobra.NoArgs,
		RunE: a.runBus(func(cmd *cobra.Command, _ []string, e *env) error {
			if olderThan < 0 {
				return fmt.Errorf("--older-than must not be negative")
			}
			n, err := e.bus.Cleanup(olderThan)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "removed %d message(s)\n", n)
			return nil
		}),
	}
	cleanupCmd.Flags().DurationVar(&olderThan, "older-than", 24*time.Hour, "age of completion to remove")

	deleteCmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a message in any state",
		Args:  cobra.ExactArgs(1),
		RunE: a.runBus(func(cmd *cobra.Command, args []string, e *env) error {
			if err := e.bus.Delete(args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", args[0])
			return nil
		}),
	}

	cmd.AddCommand(sendCmd, claimCmd, ackCmd, completeCmd, releaseCmd, getCmd,
		listCmd, inboxCmd, statsCmd, cleanupCmd, deleteCmd)
	return cmd
}

func writeJSONTo(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
