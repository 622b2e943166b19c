package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
)

func main() {
	if err := buildRoot().Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// GlobalFlags holds persistent flags shared by every command.
type GlobalFlags struct {
	ConfigPath string
}

// APIFlags selects the daemon client commands talk to.
type APIFlags struct {
	APIUrl     string
	APITimeout time.Duration
	CACert     string
}

// StreamFlags holds flags for stream commands.
type StreamFlags struct {
	APIFlags
	StreamKey   string
	ClientID    string
	Destination string
}

func buildRoot() *cobra.Command {
	globalFlags := &GlobalFlags{}
	root := createRootCommand(globalFlags)
	root.AddCommand(
		createServeCommand(globalFlags),
		createCreateCommand(),
		createConfigureCommand(),
		createStartCommand(),
		createStopCommand(),
		createStatusCommand(),
	)
	return root
}

func createRootCommand(flags *GlobalFlags) *cobra.Command {
	root := &cobra.Command{
		Use:   "relayd",
		Short: "Live stream relay controller",
		Long: `relayd hands out stream keys for a media server and supervises one ffmpeg
relay per stream that republishes it to a third-party destination.

Examples:
  relayd serve --config=relayd.toml
  relayd create --client-id=cam1
  relayd configure --key=stream-... --url=rtmp://cdn.example.com/live/abc
  relayd start --key=stream-...
  relayd status`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&flags.ConfigPath, "config", "", "path to TOML config file (optional)")
	return root
}

func addAPIFlags(cmd *cobra.Command, f *APIFlags) {
	cmd.Flags().StringVar(&f.APIUrl, "api-url", "http://localhost:5000", "daemon URL including base path")
	cmd.Flags().DurationVar(&f.APITimeout, "api-timeout", 30*time.Second, "request timeout")
	cmd.Flags().StringVar(&f.CACert, "ca-cert", "", "PEM file trusted for https daemons")
}

func requireFlag(cmd *cobra.Command, name string) {
	if err := cmd.MarkFlagRequired(name); err != nil {
		panic(err)
	}
}

func createServeCommand(globalFlags *GlobalFlags) *cobra.Command {
	f := &ServeFlags{}
	cmd := &cobra.Command{
		Use:   "serve [config.toml]",
		Short: "Run the relay daemon",
		Long: `Run the HTTP API and relay supervisor until SIGINT or SIGTERM.
Without a config file the built-in defaults apply; RELAYD_* environment
variables override both (e.g. RELAYD_RELAY_FFMPEG_PATH).`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := globalFlags.ConfigPath
			if len(args) > 0 {
				path = args[0]
			}
			if f.Daemonize {
				_, err := daemonize(os.Args[1:], f.LogFile, cmd.OutOrStdout())
				return err
			}
			if f.PIDFile != "" {
				if err := writePIDFile(f.PIDFile, os.Getpid()); err != nil {
					return err
				}
				defer func() { _ = removePIDFile(f.PIDFile) }()
			}
			return runServe(cmd.Context(), path, nil)
		},
	}
	cmd.Flags().BoolVar(&f.Daemonize, "daemonize", false, "run in the background")
	cmd.Flags().StringVar(&f.PIDFile, "pidfile", "", "write the daemon PID to this file")
	cmd.Flags().StringVar(&f.LogFile, "logfile", "", "daemon stdout/stderr file when daemonized")
	return cmd
}

func createCreateCommand() *cobra.Command {
	f := &StreamFlags{}
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Generate a stream key and push URL",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newCommand(cmd, f.APIFlags)
			if err != nil {
				return err
			}
			return c.Create(cmd.Context(), f.ClientID)
		},
	}
	cmd.Flags().StringVar(&f.ClientID, "client-id", "", "client identifier embedded in the default destination")
	addAPIFlags(cmd, &f.APIFlags)
	return cmd
}

func createConfigureCommand() *cobra.Command {
	f := &StreamFlags{}
	cmd := &cobra.Command{
		Use:   "configure",
		Short: "Set the destination of a stream; a running relay is restarted",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newCommand(cmd, f.APIFlags)
			if err != nil {
				return err
			}
			return c.Configure(cmd.Context(), f.StreamKey, f.Destination)
		},
	}
	cmd.Flags().StringVar(&f.StreamKey, "key", "", "stream key (required)")
	cmd.Flags().StringVar(&f.Destination, "url", "", "destination URL (required)")
	addAPIFlags(cmd, &f.APIFlags)
	requireFlag(cmd, "key")
	requireFlag(cmd, "url")
	return cmd
}

func createStartCommand() *cobra.Command {
	f := &StreamFlags{}
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start relaying a stream",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newCommand(cmd, f.APIFlags)
			if err != nil {
				return err
			}
			return c.Start(cmd.Context(), f.StreamKey)
		},
	}
	cmd.Flags().StringVar(&f.StreamKey, "key", "", "stream key (required)")
	addAPIFlags(cmd, &f.APIFlags)
	requireFlag(cmd, "key")
	return cmd
}

func createStopCommand() *cobra.Command {
	f := &StreamFlags{}
	cmd := &cobra.Command{
		Use:   "stop",
		Short: "Stop relaying a stream",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newCommand(cmd, f.APIFlags)
			if err != nil {
				return err
			}
			return c.Stop(cmd.Context(), f.StreamKey)
		},
	}
	cmd.Flags().StringVar(&f.StreamKey, "key", "", "stream key (required)")
	addAPIFlags(cmd, &f.APIFlags)
	requireFlag(cmd, "key")
	return cmd
}

func createStatusCommand() *cobra.Command {
	f := &StreamFlags{}
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show one stream (--key) or all streams",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newCommand(cmd, f.APIFlags)
			if err != nil {
				return err
			}
			return c.Status(cmd.Context(), f.StreamKey)
		},
	}
	cmd.Flags().StringVar(&f.StreamKey, "key", "", "stream key")
	addAPIFlags(cmd, &f.APIFlags)
	return cmd
}
