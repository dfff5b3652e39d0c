package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rickchristie/relay"
	"github.com/rickchristie/relay/gateway"
	"github.com/spf13/cobra"
)

// Exit codes for dispatch.
const (
	exitBlocked = 2
	exitAborted = 3
)

func newDispatchCmd(a *app) *cobra.Command {
	var (
		data     string
		dataFile string
		asJSON   bool
	)
	cmd := &cobra.Command{
		Use:   "dispatch <event>",
		Short: "Run every hook for one event",
		Long: "Run every hook for one event and print the aggregate result.\n" +
			"Exits 2 when the event is blocked and 3 when the dispatch is aborted.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			fields, err := readData(cmd.InOrStdin(), data, dataFile)
			if err != nil {
				return err
			}
			e, err := a.open(cmd.Context())
			if err != nil {
				return err
			}
			defer e.close()

			event := relay.HookEvent(args[0])
			resp, err := e.dispatch(cmd.Context(), event, e.payload(a, event, fields))
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if asJSON {
				if err := writeJSONTo(out, resp); err != nil {
					return err
				}
			} else {
				renderDispatch(out, resp)
			}
			return dispatchExit(resp)
		},
	}
	f := cmd.Flags()
	f.StringVar(&data, "data", "", "event data as a JSON object")
	f.StringVar(&dataFile, "data-file", "", "read event data from a file, - for stdin")
	f.BoolVar(&asJSON, "json", false, "print the full response as JSON")
	return cmd
}

func readData(stdin io.Reader, inline, file string) (map[string]any, error) {
	var raw []byte
	switch {
	case inline != "" && file != "":
		return nil, fmt.Errorf("--data and --data-file are mutually exclusive")
	case inline != "":
		raw = []byte(inline)
	case file == "-":
		b, err := io.ReadAll(stdin)
		if err != nil {
			return nil, err
		}
		raw = b
	case file != "":
		b, err := os.ReadFile(file)
		if err != nil {
			return nil, err
		}
		raw = b
	default:
		return map[string]any{}, nil
	}

	fields := map[string]any{}
	if strings.TrimSpace(string(raw)) == "" {
		return fields, nil
	}
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, fmt.Errorf("event data must be a JSON object: %w", err)
	}
	return fields, nil
}

func renderDispatch(w io.Writer, resp gateway.DispatchResponse) {
	r := resp.Result
	switch {
	case resp.Error != "":
		fmt.Fprintf(w, "%s %s: %s\n", styleError.Render("aborted"), r.ErrorCode, r.ErrorMessage)
	case !r.Allow:
		fmt.Fprintf(w, "%s %s\n", styleError.Render("blocked"), r.BlockReason)
	default:
		fmt.Fprintln(w, styleOK.Render("allowed"))
	}
	if len(r.Executed) > 0 {
		fmt.Fprintf(w, "%s %s\n", styleHeader.Render("executed:"), strings.Join(r.Executed, ", "))
	}
	if len(r.Skipped) > 0 {
		fmt.Fprintf(w, "%s %s\n", styleHeader.Render("skipped:"), strings.Join(r.Skipped, ", "))
	}
	if resp.Error == "" && !r.OK {
		fmt.Fprintf(w, "%s %s: %s\n", styleWarn.Render("hook error"), r.ErrorCode, r.ErrorMessage)
	}
	for _, n := range r.Notes {
		fmt.Fprintf(w, "%s %s\n", styleDim.Render("note:"), n)
	}
	if r.InjectContext != "" {
		fmt.Fprintln(w, styleHeader.Render("context:"))
		fmt.Fprintln(w, r.InjectContext)
	}
}

func dispatchExit(resp gateway.DispatchResponse) error {
	switch {
	case resp.Error != "":
		return &exitError{code: exitAborted, err: fmt.Errorf("dispatch aborted: %s", resp.Error)}
	case !resp.Result.Allow:
		return &exitError{code: exitBlocked, err: fmt.Errorf("blocked: %s", resp.Result.BlockReason)}
	}
	return nil
}
