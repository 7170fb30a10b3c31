package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/loykin/sidekick"
	"github.com/loykin/sidekick/internal/version"
	"github.com/loykin/sidekick/pkg/client"
)

func main() {
	root := buildRoot()
	if err := root.Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// buildRoot assembles the command tree.
func buildRoot() *cobra.Command {
	globalFlags := &GlobalFlags{}
	runFlags := &RunFlags{}
	probeFlags := &ProbeFlags{}
	installFlags := &InstallFlags{}
	remoteFlags := &RemoteFlags{}
	logsFlags := &LogsFlags{}
	ensureFlags := &EnsureFlags{}

	root := createRootCommand(globalFlags)
	root.AddCommand(
		createRunCommand(globalFlags, runFlags),
		createPortCommand(globalFlags),
		createProbeCommand(probeFlags),
		createInstallCLICommand(globalFlags, installFlags),
		createSyncCLICommand(globalFlags, installFlags),
		createStatusCommand(globalFlags, remoteFlags),
		createLogsCommand(globalFlags, logsFlags),
		createKillCommand(globalFlags, remoteFlags),
		createEnsureCommand(globalFlags, ensureFlags),
		createVersionCommand(),
	)
	return root
}

// createRootCommand creates the root command with minimal persistent flags
func createRootCommand(flags *GlobalFlags) *cobra.Command {
	root := &cobra.Command{
		Use:           "sidekick",
		Short:         "Supervise the opencode server sidecar",
		SilenceUsage:  true,
		SilenceErrors: true,
		Long: `Sidekick spawns the opencode server on a local port, waits until it
accepts connections and keeps the installed opencode CLI in sync with the
bundled sidecar.

Examples:
  sidekick run --config=sidekick.toml   # Supervise and serve the control API
  sidekick status                       # Ask a running supervisor
  sidekick logs --tail=50
  sidekick sync-cli`,
	}
	root.PersistentFlags().StringVar(&flags.ConfigPath, "config", "", "path to TOML config file (optional)")
	return root
}

func createRunCommand(global *GlobalFlags, flags *RunFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Spawn the sidecar and serve the control API",
		Long: `Resolve the server port, start the sidecar (or reuse one already
listening), sync the CLI in the background and serve the control API until
interrupted. A sidecar spawned by this command is killed on exit.

Examples:
  sidekick run
  OPENCODE_PORT=4096 sidekick run --listen=127.0.0.1:9000`,
		RunE: func(cmd *cobra.Command, args []string) error {
			flags.ConfigPath = global.ConfigPath
			return runSupervisor(cmd.Context(), *flags)
		},
	}
	cmd.Flags().StringVar(&flags.Listen, "listen", "", "control API listen address (overrides config)")
	cmd.Flags().StringVar(&flags.BasePath, "base-path", "", "control API base path (overrides config)")
	cmd.Flags().DurationVar(&flags.ShutdownTimeout, "shutdown-timeout", 5*time.Second, "control API drain timeout")
	return cmd
}

func createPortCommand(global *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "port",
		Short: "Print the port the sidecar would listen on",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := sidekick.LoadConfig(global.ConfigPath)
			if err != nil {
				return fmt.Errorf("error loading config: %w", err)
			}
			p, err := sidekick.ResolvePort(c.PortEnv)
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), p)
			return nil
		},
	}
}

func createProbeCommand(flags *ProbeFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "probe",
		Short: "Check whether a server accepts connections on a loopback port",
		RunE: func(cmd *cobra.Command, args []string) error {
			if flags.Port <= 0 || flags.Port > 65535 {
				return fmt.Errorf("--port must be between 1 and 65535")
			}
			printJSON(cmd.OutOrStdout(), map[string]any{"port": flags.Port, "alive": sidekick.Probe(flags.Port)})
			return nil
		},
	}
	cmd.Flags().IntVar(&flags.Port, "port", 0, "port to probe on 127.0.0.1")
	_ = cmd.MarkFlagRequired("port")
	return cmd
}

func createInstallCLICommand(global *GlobalFlags, flags *InstallFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "install-cli",
		Short: "Install the bundled sidecar as the opencode CLI",
		Long: `Install the bundled sidecar into ~/.opencode/bin and add it to PATH.
Runs locally unless --api-url points at a running supervisor.

Examples:
  sidekick install-cli
  sidekick install-cli --api-url=http://127.0.0.1:8089/api`,
		RunE: func(cmd *cobra.Command, args []string) error {
			flags.ConfigPath = global.ConfigPath
			path, err := installCLI(cmd.Context(), *flags)
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), path)
			return nil
		},
	}
	addAPIFlags(cmd, &flags.APIUrl, &flags.APITimeout)
	return cmd
}

func createSyncCLICommand(global *GlobalFlags, flags *InstallFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sync-cli",
		Short: "Reinstall the opencode CLI when it is older than this build",
		RunE: func(cmd *cobra.Command, args []string) error {
			flags.ConfigPath = global.ConfigPath
			res, err := syncCLI(cmd.Context(), *flags)
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), res)
			return nil
		},
	}
	addAPIFlags(cmd, &flags.APIUrl, &flags.APITimeout)
	return cmd
}

func createStatusCommand(global *GlobalFlags, flags *RemoteFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show sidecar status from a running supervisor",
		RunE: func(cmd *cobra.Command, args []string) error {
			flags.ConfigPath = global.ConfigPath
			return remote{out: cmd.OutOrStdout()}.Status(cmd.Context(), *flags)
		},
	}
	addAPIFlags(cmd, &flags.APIUrl, &flags.APITimeout)
	return cmd
}

func createLogsCommand(global *GlobalFlags, flags *LogsFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Print the buffered sidecar output",
		RunE: func(cmd *cobra.Command, args []string) error {
			flags.ConfigPath = global.ConfigPath
			return remote{out: cmd.OutOrStdout()}.Logs(cmd.Context(), *flags)
		},
	}
	cmd.Flags().IntVar(&flags.Tail, "tail", 0, "only the last N lines (0 = all)")
	cmd.Flags().BoolVar(&flags.JSON, "json", false, "print entries as JSON")
	addAPIFlags(cmd, &flags.APIUrl, &flags.APITimeout)
	return cmd
}

func createKillCommand(global *GlobalFlags, flags *RemoteFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "kill",
		Short: "Kill the sidecar owned by a running supervisor",
		RunE: func(cmd *cobra.Command, args []string) error {
			flags.ConfigPath = global.ConfigPath
			return remote{out: cmd.OutOrStdout()}.Kill(cmd.Context(), *flags)
		},
	}
	addAPIFlags(cmd, &flags.APIUrl, &flags.APITimeout)
	return cmd
}

func createEnsureCommand(global *GlobalFlags, flags *EnsureFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ensure",
		Short: "Wait until the sidecar is ready",
		RunE: func(cmd *cobra.Command, args []string) error {
			flags.ConfigPath = global.ConfigPath
			return remote{out: cmd.OutOrStdout()}.Ensure(cmd.Context(), *flags)
		},
	}
	cmd.Flags().DurationVar(&flags.Wait, "wait", 0, fmt.Sprintf("server-side wait limit, capped at %s (0 = server default of %s)",
		client.MaxEnsureWait, client.DefaultEnsureWait))
	addAPIFlags(cmd, &flags.APIUrl, &flags.APITimeout)
	return cmd
}

func createVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print build information",
		Run: func(cmd *cobra.Command, args []string) {
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "sidekick %s (commit %s, built %s)\n",
				version.Version, version.Commit, version.BuildDate)
		},
	}
}

func addAPIFlags(cmd *cobra.Command, url *string, timeout *time.Duration) {
	cmd.Flags().StringVar(url, "api-url", "", "supervisor control API URL (e.g. http://127.0.0.1:8089/api)")
	cmd.Flags().DurationVar(timeout, "api-timeout", 10*time.Second, "request timeout")
}

func installCLI(ctx context.Context, f InstallFlags) (string, error) {
	if f.APIUrl != "" {
		return remote{}.InstallCLI(ctx, RemoteFlags{ConfigPath: f.ConfigPath, APIUrl: f.APIUrl, APITimeout: f.APITimeout})
	}
	app, err := localApp(f.ConfigPath)
	if err != nil {
		return "", err
	}
	defer func() { _ = app.Close() }()
	return app.InstallCLI(ctx)
}

func syncCLI(ctx context.Context, f InstallFlags) (string, error) {
	if f.APIUrl != "" {
		return remote{}.SyncCLI(ctx, RemoteFlags{ConfigPath: f.ConfigPath, APIUrl: f.APIUrl, APITimeout: f.APITimeout})
	}
	app, err := localApp(f.ConfigPath)
	if err != nil {
		return "", err
	}
	defer func() { _ = app.Close() }()
	res, err := app.SyncCLI(ctx)
	return res.String(), err
}

func localApp(configPath string) (*sidekick.App, error) {
	c, err := sidekick.LoadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("error loading config: %w", err)
	}
	return sidekick.New(c)
}
