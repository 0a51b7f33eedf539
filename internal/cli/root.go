package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/mcoot/outlier/internal/dependencies/clock"
	"github.com/mcoot/outlier/internal/localstate"
	"github.com/mcoot/outlier/internal/sessionclient"
)

// Command annotations
const (
	// annotationSession marks commands that act as the saved participant
	annotationSession = "outlier/session"
	// annotationWatch marks commands that consume live updates
	annotationWatch = "outlier/watch"
)

var (
	cfg    *Config
	client *Client
	out    *Output

	state   *localstate.Store
	player  *sessionclient.Client
	updates chan sessionclient.Update
)

// NewRootCmd creates the root command
func NewRootCmd() (*cobra.Command, error) {
	var err error
	cfg, err = LoadConfig()
	if err != nil {
		return nil, err
	}

	rootCmd := &cobra.Command{
		Use:   "outlier",
		Short: "Play outlier from the terminal",
		Long: `outlier is a CLI for the outlier party game server.

Everyone but the outlier gets the secret word from a category. Talk about it
without giving it away, and try to spot who doesn't know it.

Your identity is saved locally, so later commands act as the same
participant until you leave or are removed.`,
		PersistentPreRunE: setup,
		SilenceUsage:      true,
		SilenceErrors:     true,
	}

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfg.ServerURL, "server", cfg.ServerURL, "Server URL (env: OUTLIER_SERVER)")
	rootCmd.PersistentFlags().StringVar(&cfg.StateFile, "state-file", cfg.StateFile, "Local state file (env: OUTLIER_STATE_FILE)")
	rootCmd.PersistentFlags().StringVarP(&cfg.Output, "output", "o", cfg.Output, "Output format: text, json (env: OUTLIER_OUTPUT)")
	rootCmd.PersistentFlags().BoolVarP(&cfg.Verbose, "verbose", "v", cfg.Verbose, "Verbose output (env: OUTLIER_VERBOSE)")

	// Add subcommands
	rootCmd.AddCommand(newCreateCmd())
	rootCmd.AddCommand(newJoinCmd())
	rootCmd.AddCommand(newStatusCmd())
	rootCmd.AddCommand(newStartCmd())
	rootCmd.AddCommand(newRestartCmd())
	rootCmd.AddCommand(newReadyCmd())
	rootCmd.AddCommand(newKickCmd())
	rootCmd.AddCommand(newLeaveCmd())
	rootCmd.AddCommand(newWatchCmd())
	rootCmd.AddCommand(newQRCmd())
	rootCmd.AddCommand(newEventsCmd())
	rootCmd.AddCommand(newCategoriesCmd())
	rootCmd.AddCommand(newHealthCmd())

	return rootCmd, nil
}

// setup builds the API client and, for commands acting as the saved
// participant, opens the local state and resumes the session
func setup(cmd *cobra.Command, args []string) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	client = NewClient(cfg.ServerURL)
	out = NewOutput(cfg.Output, cmd.OutOrStdout(), cmd.ErrOrStderr())

	if cmd.Annotations[annotationSession] == "" {
		return nil
	}

	level := slog.LevelWarn
	if cfg.Verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))

	var err error
	state, err = localstate.Open(cfg.StateFile)
	if err != nil {
		return err
	}

	var onUpdate func(sessionclient.Update)
	if cmd.Annotations[annotationWatch] != "" {
		updates = make(chan sessionclient.Update, 16)
		onUpdate = func(u sessionclient.Update) { updates <- u }
	}

	player = sessionclient.New(client, state, clock.New(), logger, onUpdate)
	return player.Resume(cmd.Context())
}

func teardown() {
	if player != nil {
		player.Close()
	}
	if state != nil {
		_ = state.Close()
	}
}

// Execute runs the root command
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rootCmd, err := NewRootCmd()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}

	err = rootCmd.ExecuteContext(ctx)
	teardown()
	if err != nil {
		if out != nil {
			out.PrintError(err)
		} else {
			fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		}
		os.Exit(1)
	}
}

func sessionCommand(cmd *cobra.Command) *cobra.Command {
	if cmd.Annotations == nil {
		cmd.Annotations = map[string]string{}
	}
	cmd.Annotations[annotationSession] = "true"
	return cmd
}
