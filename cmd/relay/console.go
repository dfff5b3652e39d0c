package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/chzyer/readline"
	"github.com/rickchristie/relay"
	"github.com/spf13/cobra"
)

const consoleHelp = `Commands are the relay subcommands without the "relay" prefix:
  dispatch pre_tool_use --data '{"tool_name":"bash","tool_input":{"command":"ls"}}'
  bus send --to workers --subject "build docs"
  bus inbox
  hooks list
Console commands:
  as <agent> [leader|worker]   switch the caller identity
  whoami                       show the caller identity
  help                         show this help
  exit                         leave the console`

func newConsoleCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "console",
		Short: "Interactive shell for dispatching events and working the bus",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := newConsole(cmd.Context(), a, cmd.OutOrStdout())
			if err != nil {
				return err
			}
			defer c.close()

			rl, err := readline.NewEx(&readline.Config{
				Prompt:          c.prompt(),
				HistoryLimit:    500,
				InterruptPrompt: "^C",
				EOFPrompt:       "exit",
			})
			if err != nil {
				return fmt.Errorf("failed to create readline: %w", err)
			}
			defer rl.Close()

			fmt.Fprintln(rl.Stdout(), styleHeader.Render("relay console")+styleDim.Render(" (type help)"))
			for {
				line, err := rl.Readline()
				if err != nil {
					if errors.Is(err, readline.ErrInterrupt) {
						if line == "" {
							return nil
						}
						continue
					}
					if errors.Is(err, io.EOF) {
						return nil
					}
					return fmt.Errorf("failed to read input: %w", err)
				}
				c.out = rl.Stdout()
				done, err := c.exec(cmd.Context(), line)
				if err != nil {
					fmt.Fprintln(rl.Stdout(), styleError.Render("error: ")+err.Error())
				}
				if done {
					return nil
				}
				rl.SetPrompt(c.prompt())
			}
		},
	}
}

// console interprets input lines. It is separate from the readline loop so
// it can be driven directly.
type console struct {
	app *app
	env *env
	out io.Writer
}

func newConsole(ctx context.Context, a *app, out io.Writer) (*console, error) {
	c := &console{app: a, out: out}
	if err := c.reopen(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

// reopen builds the env for the current identity. A remote client carries
// the identity in its headers, so it is rebuilt whenever that changes.
func (c *console) reopen(ctx context.Context) error {
	if c.env != nil && c.app.remote == "" {
		return nil
	}
	if c.env != nil {
		c.env.close()
	}
	e, err := c.app.open(ctx)
	if err != nil {
		return err
	}
	c.env = e
	return nil
}

func (c *console) close() error {
	if c.env == nil {
		return nil
	}
	return c.env.close()
}

func (c *console) prompt() string {
	who := c.app.agent
	if who == "" {
		who = "-"
	}
	return styleID.Render(fmt.Sprintf("relay %s@%s", who, c.app.callerRole())) + "> "
}

// exec runs one line. done reports that the console should exit.
func (c *console) exec(ctx context.Context, line string) (done bool, err error) {
	args, err := splitArgs(line)
	if err != nil {
		return false, err
	}
	if len(args) == 0 {
		return false, nil
	}

	switch args[0] {
	case "exit", "quit", "q":
		return true, nil
	case "help":
		fmt.Fprintln(c.out, consoleHelp)
		return false, nil
	case "whoami":
		fmt.Fprintf(c.out, "agent=%s role=%s run_id=%s\n", c.app.agent, c.app.callerRole(), c.app.runID)
		return false, nil
	case "as":
		if len(args) < 2 || len(args) > 3 {
			return false, fmt.Errorf("usage: as <agent> [leader|worker]")
		}
		c.app.agent = args[1]
		if len(args) == 3 {
			role := relay.Role(args[2])
			if role != relay.RoleLeader && role != relay.RoleWorker {
				return false, fmt.Errorf("unknown role %q", args[2])
			}
			c.app.role = args[2]
		}
		return false, c.reopen(ctx)
	case "serve", "console", "events":
		return false, fmt.Errorf("%s is not available inside the console", args[0])
	}

	// A fresh command tree per line keeps flag values from leaking between
	// commands. The session identity goes first so the line can override it.
	sub := &app{}
	root := buildRoot(sub)
	sub.shared = c.env
	full := []string{"--role", c.app.role, "--agent", c.app.agent, "--run-id", c.app.runID}
	if c.app.configPath != "" {
		full = append(full, "--config", c.app.configPath)
	}
	root.SetArgs(append(full, args...))
	root.SetOut(c.out)
	root.SetErr(c.out)
	root.SilenceErrors = true

	err = root.ExecuteContext(ctx)
	var ee *exitError
	if errors.As(err, &ee) {
		// Blocked and aborted dispatches were already printed.
		return false, nil
	}
	return false, err
}

// splitArgs splits a line on whitespace, honoring single and double quotes
// and backslash escapes outside single quotes.
func splitArgs(line string) ([]string, error) {
	var (
		args    []string
		cur     strings.Builder
		inArg   bool
		quote   rune
		escaped bool
	)
	for _, r := range line {
		switch {
		case escaped:
			cur.WriteRune(r)
			escaped = false
		case r == '\\' && quote != '\'':
			escaped = true
			inArg = true
		case quote != 0:
			if r == quote {
				quote = 0
			} else {
				cur.WriteRune(r)
			}
		case r == '\'' || r == '"':
			quote = r
			inArg = true
		case r == ' ' || r == '\t':
			if inArg {
				args = append(args, cur.String())
				cur.Reset()
				inArg = false
			}
		default:
			cur.WriteRune(r)
			inArg = true
		}
	}
	if quote != 0 {
		return nil, fmt.Errorf("unterminated %c quote", quote)
	}
	if escaped {
		return nil, fmt.Errorf("trailing backslash")
	}
	if inArg {
		args = append(args, cur.String())
	}
	return args, nil
}
