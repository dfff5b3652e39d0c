// Command relay runs and operates the agent coordination harness.
//
//	relay serve                       run the HTTP gateway
//	relay hooks init|list|validate    manage the hook document
//	relay dispatch pre_tool_use ...   run one dispatch in-process
//	relay bus send|claim|inbox ...    work with the message bus
//	relay console                     interactive shell
//	relay events --remote URL         follow live dispatches
//
// Bus, dispatch and console commands talk to a running gateway when --remote
// is set and work on the local files otherwise.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rickchristie/relay"
	"github.com/rickchristie/relay/bus"
	"github.com/rickchristie/relay/config"
	"github.com/rickchristie/relay/gateway"
	"github.com/rickchristie/relay/harness"
	"github.com/spf13/cobra"
)

// exitError carries a process exit code other than 1.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		var ee *exitError
		if errors.As(err, &ee) {
			os.Exit(ee.code)
		}
		os.Exit(1)
	}
}

// app holds the global flags.
type app struct {
	configPath string
	logLevel   string
	remote     string
	role       string
	agent      string
	runID      string

	// shared, when set, is reused by every command instead of opening a new
	// env. The console sets it.
	shared *env
}

func newRootCmd() *cobra.Command {
	return buildRoot(&app{})
}

func buildRoot(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:           "relay",
		Short:         "Hook pipeline and message bus for coordinating coding agents",
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	flags := root.PersistentFlags()
	flags.StringVar(&a.configPath, "config", "", "config file (default <project root>/.relay/config.yaml if present)")
	flags.StringVar(&a.logLevel, "log-level", "", "log level: debug, info, warn, error")
	flags.StringVar(&a.remote, "remote", os.Getenv("RELAY_REMOTE"), "gateway URL; bus, dispatch and console go through it")
	flags.StringVar(&a.role, "role", string(relay.RoleLeader), "caller role: leader or worker")
	flags.StringVar(&a.agent, "agent", os.Getenv("RELAY_AGENT_ID"), "caller agent id")
	flags.StringVar(&a.runID, "run-id", "", "caller agent run id")

	root.AddCommand(
		newServeCmd(a),
		newHooksCmd(a),
		newDispatchCmd(a),
		newBusCmd(a),
		newConsoleCmd(a),
		newEventsCmd(a),
	)
	return root
}

func (a *app) callerRole() relay.Role {
	return relay.ParseRole(a.role)
}

// loadConfig reads --config, or the project's config file when present.
func (a *app) loadConfig() (*config.Config, error) {
	path := a.configPath
	if path == "" {
		root := os.Getenv("RELAY_PROJECT_ROOT")
		if root == "" {
			wd, err := os.Getwd()
			if err != nil {
				return nil, err
			}
			root = wd
		}
		path = config.Find(root)
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if a.logLevel != "" {
		cfg.Log.Level = a.logLevel
	}
	return cfg, nil
}

// openHarness builds a harness for a one-shot command: quieter logging and
// no hot reload.
func (a *app) openHarness() (*harness.Harness, error) {
	cfg, err := a.loadConfig()
	if err != nil {
		return nil, err
	}
	if a.logLevel == "" {
		cfg.Log.Level = "warn"
	}
	watch := false
	cfg.WatchHooks = &watch
	return harness.New(cfg)
}

// -----------------------------------------------------------------------------
// Local or remote environment
// -----------------------------------------------------------------------------

// busAPI is the bus surface the CLI uses. *bus.Service and *gateway.Client
// both provide it.
type busAPI interface {
	Send(req bus.SendRequest) (string, error)
	Claim(id, agent string) (bus.Message, error)
	Ack(id, agent string) error
	Complete(id, agent string, success bool, result string) error
	Release(id, agent string) error
	Get(id string) (bus.Message, error)
	List(filter bus.ListFilter) (bus.ListResult, error)
	ListForAgent(agent string, includeClaimed bool, limit int) ([]bus.Message, error)
	Stats() (bus.Stats, error)
	Cleanup(olderThan time.Duration) (int, error)
	Delete(id string) error
}

var (
	_ busAPI = (*bus.Service)(nil)
	_ busAPI = (*gateway.Client)(nil)
)

type dispatchFunc func(ctx context.Context, event relay.HookEvent, payload relay.HookPayload) (gateway.DispatchResponse, error)

// env is what bus, dispatch and console commands run against.
type env struct {
	harness  *harness.Harness // nil when remote
	bus      busAPI
	dispatch dispatchFunc
	close    func() error
}

func (a *app) open(ctx context.Context) (*env, error) {
	if a.shared != nil {
		return &env{
			harness:  a.shared.harness,
			bus:      a.shared.bus,
			dispatch: a.shared.dispatch,
			close:    func() error { return nil },
		}, nil
	}
	if a.remote != "" {
		c := gateway.NewClient(a.remote).WithIdentity(a.callerRole(), a.agent, a.runID)
		return &env{bus: c, dispatch: c.Dispatch, close: func() error { return nil }}, nil
	}

	h, err := a.openHarness()
	if err != nil {
		return nil, err
	}
	rctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	done := make(chan error, 1)
	go func() { done <- h.Recorder.Run(rctx) }()

	return &env{
		harness: h,
		bus:     h.Bus,
		dispatch: func(ctx context.Context, event relay.HookEvent, p relay.HookPayload) (gateway.DispatchResponse, error) {
			res, out := h.Executor.Dispatch(ctx, event, p)
			return gateway.NewDispatchResponse(res, out), nil
		},
		close: func() error {
			h.Recorder.Close()
			<-done
			cancel()
			return h.Close()
		},
	}, nil
}

// payload builds a payload for the caller, with harness paths when local.
func (e *env) payload(a *app, event relay.HookEvent, data map[string]any) relay.HookPayload {
	var p relay.HookPayload
	if e.harness != nil {
		p = e.harness.Payload(event, a.callerRole(), data)
	} else {
		p = relay.NewPayload(event, a.callerRole(), data)
	}
	p.AgentRunID = a.runID
	if a.agent != "" {
		if _, ok := p.Data["agent_id"]; !ok {
			p.Data["agent_id"] = a.agent
		}
	}
	return p
}

func requireAgent(a *app) (string, error) {
	if a.agent == "" {
		return "", fmt.Errorf("--agent is required")
	}
	return a.agent, nil
}
