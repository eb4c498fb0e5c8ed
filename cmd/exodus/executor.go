package main

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/hupe1980/exodus/executor"
)

var (
	socketPath string
	execArgs   string
)

var executorCmd = &cobra.Command{
	Use:   "executor",
	Short: "Talk to a running executor daemon",
}

var executorPingCmd = &cobra.Command{
	Use:   "ping",
	Short: "Check that the daemon answers",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		client, err := executorClient(cmd)
		if err != nil {
			return err
		}
		if err := client.Ping(cmd.Context()); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "pong")
		return nil
	},
}

var executorToolsCmd = &cobra.Command{
	Use:   "tools",
	Short: "List the daemon's tools",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		client, err := executorClient(cmd)
		if err != nil {
			return err
		}
		infos, err := client.ListTools(cmd.Context())
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "NAME\tKIND\tDESCRIPTION")
		for _, info := range infos {
			fmt.Fprintf(w, "%s\t%s\t%s\n", info.Name, info.Kind, info.Description)
		}
		return w.Flush()
	},
}

var executorExecCmd = &cobra.Command{
	Use:   "exec <tool>",
	Short: "Execute a tool in the daemon",
	Example: `  exodus executor exec core_sum --args '{"a": 1, "b": 2}'
  exodus executor exec core_bash --args '{"command": "uname -a"}'`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		toolArgs := map[string]any{}
		if execArgs != "" {
			if err := json.Unmarshal([]byte(execArgs), &toolArgs); err != nil {
				return fmt.Errorf("--args must be a JSON object: %w", err)
			}
		}

		client, err := executorClient(cmd)
		if err != nil {
			return err
		}
		payload, err := client.Execute(cmd.Context(), args[0], toolArgs)
		if err != nil {
			return err
		}

		if s, ok := payload.(string); ok {
			fmt.Fprintln(cmd.OutOrStdout(), s)
			return nil
		}
		out, err := json.MarshalIndent(payload, "", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(out))
		return nil
	},
}

func init() {
	executorCmd.PersistentFlags().StringVar(&socketPath, "socket", "", "Executor socket (default: [executor] socket_path)")
	executorExecCmd.Flags().StringVar(&execArgs, "args", "", "Tool arguments as a JSON object")

	executorCmd.AddCommand(executorPingCmd)
	executorCmd.AddCommand(executorToolsCmd)
	executorCmd.AddCommand(executorExecCmd)
}

func executorClient(cmd *cobra.Command) (*executor.Client, error) {
	cfg, logger, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	path := socketPath
	if path == "" {
		path = cfg.Executor.SocketPath
	}
	return executor.NewClient(path, func(o *executor.ClientOptions) {
		o.Timeout = cfg.Executor.ConnTimeout
		o.Logger = logger
	}), nil
}
