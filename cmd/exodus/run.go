package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/hupe1980/exodus/config"
	"github.com/hupe1980/exodus/core"
	"github.com/hupe1980/exodus/driver"
	"github.com/hupe1980/exodus/executor"
	"github.com/hupe1980/exodus/logging"
	"github.com/hupe1980/exodus/memory"
	"github.com/hupe1980/exodus/orchestrator"
	"github.com/hupe1980/exodus/tool"
	"github.com/hupe1980/exodus/tool/builtin"
)

var runOpts struct {
	agent         string
	session       string
	maxIterations int
	noSnapshot    bool
	trace         bool
}

var runCmd = &cobra.Command{
	Use:   "run [prompt...]",
	Short: "Run a session",
	Long: `Run a session with the configured agents.

With a prompt the session runs one turn and prints the final answer. Without
one, prompts are read from stdin line by line until EOF or "exit"; every line
continues the same conversation with the agent that answered last.`,
	RunE: runSession,
}

func init() {
	runCmd.Flags().StringVarP(&runOpts.agent, "agent", "a", "", "Entry agent (default: [agent] default_agent or the first loaded agent)")
	runCmd.Flags().StringVar(&runOpts.session, "session", "", "Session id (default: random)")
	runCmd.Flags().IntVar(&runOpts.maxIterations, "max-iterations", 0, "Override [agent] max_iterations")
	runCmd.Flags().BoolVar(&runOpts.noSnapshot, "no-snapshot", false, "Do not write a memory snapshot on exit")
	runCmd.Flags().BoolVar(&runOpts.trace, "trace", false, "Print steps and handoffs to stderr")
}

func runSession(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, logger, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if runOpts.maxIterations > 0 {
		cfg.Agent.MaxIterations = runOpts.maxIterations
	}

	orch, err := newOrchestrator(cfg, logger, cmd.ErrOrStderr())
	if err != nil {
		return err
	}

	sessionID := runOpts.session
	if sessionID == "" {
		sessionID = core.NewID()
	}
	mem, err := memory.Open(ctx, cfg.Memory, sessionID)
	if err != nil {
		return err
	}
	defer mem.Close()

	if !runOpts.noSnapshot && cfg.Memory.SnapshotDir != "" {
		defer func() {
			path := memory.SnapshotPath(cfg.Memory.SnapshotDir, time.Now())
			if err := memory.SaveJSON(context.WithoutCancel(ctx), mem, path); err != nil {
				logger.Warn("exodus.snapshot.failed", "path", path, "error", err.Error())
				return
			}
			logger.Info("exodus.snapshot.saved", "path", path)
		}()
	}

	s := &repl{
		orch:    orch,
		mem:     mem,
		session: sessionID,
		agent:   runOpts.agent,
		out:     cmd.OutOrStdout(),
	}

	if len(args) > 0 {
		return s.turn(ctx, strings.Join(args, " "))
	}
	return s.loop(ctx, cmd.InOrStdin())
}

// newOrchestrator wires the runtime from cfg: tool registry, driver, model
// factory and the loaded agents.
func newOrchestrator(cfg *config.RuntimeConfig, logger logging.Logger, trace io.Writer) (*orchestrator.Orchestrator, error) {
	reg := tool.NewRegistry(func(o *tool.RegistryOptions) { o.Logger = logger })
	if err := builtin.Register(reg); err != nil {
		return nil, err
	}

	// Container mode always reaches python-kind tools through the daemon.
	var remote driver.Remote
	if cfg.Executor.Remote || driver.IsContainer(cfg.Agent.ExecutionMode) {
		remote = executor.NewClient(cfg.Executor.SocketPath, func(o *executor.ClientOptions) {
			o.Timeout = cfg.Executor.ConnTimeout
			o.Logger = logger
		})
	}
	drv, err := driver.New(cfg.DriverConfig(remote, logger))
	if err != nil {
		return nil, err
	}

	agents, err := config.LoadAgents(cfg.Agent.AgentsDir, cfg.LLM, logger)
	if err != nil {
		return nil, err
	}
	if len(agents) == 0 {
		logger.Info("exodus.agents.fallback", "dir", cfg.Agent.AgentsDir, "agent", config.FallbackAgentName)
		agents = []config.Agent{config.FallbackAgent(cfg.LLM)}
	}

	models := newModelFactory(cfg.LLM, agents)

	callbacks := orchestrator.NewCallbackManager()
	if runOpts.trace {
		emit := func(line string) { fmt.Fprintln(trace, line) }
		callbacks.RegisterCallback(orchestrator.NewLoggingCallback(orchestrator.CallbackAfterStep, emit))
		callbacks.RegisterCallback(orchestrator.NewLoggingCallback(orchestrator.CallbackHandoff, emit))
	}

	orch := orchestrator.New(func(o *orchestrator.Options) {
		o.MaxIterations = cfg.Agent.MaxIterations
		o.MaxConcurrentSessions = cfg.Agent.MaxConcurrentSessions
		o.DefaultAgent = cfg.Agent.DefaultAgent
		o.Tools = reg
		o.Driver = drv
		o.Models = models
		o.Callbacks = callbacks
		o.Logger = logger
	})

	for _, a := range agents {
		if err := orch.Register(a.Definition); err != nil {
			return nil, fmt.Errorf("%s: %w", a.Source, err)
		}
	}
	if err := orch.Validate(); err != nil {
		logger.Warn("exodus.agents.handoffs", "error", err.Error())
	}
	return orch, nil
}

// repl feeds user turns into one session.
type repl struct {
	orch    *orchestrator.Orchestrator
	mem     core.Memory
	session string
	agent   string
	out     io.Writer
}

func (s *repl) turn(ctx context.Context, input string) error {
	out, err := s.orch.Run(ctx, orchestrator.RunRequest{
		SessionID:  s.session,
		EntryAgent: s.agent,
		Input:      input,
		Memory:     s.mem,
	})
	if out.Agent != "" {
		s.agent = out.Agent
	}
	if out.Status == core.OutcomeConcluded {
		fmt.Fprintf(s.out, "[%s] %s\n", out.Agent, out.FinalAnswer)
		return nil
	}
	return fmt.Errorf("session %s %s after %d steps: %w", s.session, out.Status, out.State.Iteration, err)
}

func (s *repl) loop(ctx context.Context, in io.Reader) error {
	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(s.out, "> ")
		if !scanner.Scan() {
			fmt.Fprintln(s.out)
			return scanner.Err()
		}

		line := strings.TrimSpace(scanner.Text())
		switch strings.ToLower(line) {
		case "":
			continue
		case "exit", "quit":
			return nil
		}

		if err := s.turn(ctx, line); err != nil {
			if errors.Is(err, core.ErrCancelled) || ctx.Err() != nil {
				return err
			}
			fmt.Fprintln(s.out, err)
		}
	}
}
