// Package main provides the snchat CLI entry point.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"snchat/internal/client"
	"snchat/internal/config"
	"snchat/internal/decode"
	"snchat/internal/logging"
	"snchat/internal/poll"
	"snchat/internal/session"
	"snchat/internal/store"
	"snchat/internal/transcript"
)

// Version is stamped at build time.
var Version = "1.0.0"

var (
	// Global flags
	verbose    bool
	configPath string
	serverURL  string
	serviceNow bool

	// Loaded configuration
	cfg *config.Config

	// Logger for the non-interactive subcommands
	logger *zap.Logger
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "snchat",
	Short: "snchat - terminal client for the GPT + ServiceNow chat backend",
	Long: `snchat is a terminal chat client for a backend that answers either
directly (GPT mode) or through a ServiceNow virtual agent whose replies
arrive asynchronously and are collected by polling.

Run without arguments to start the interactive chat interface.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(configPath)
		if err != nil {
			return err
		}
		if serverURL != "" {
			cfg.Server.BaseURL = serverURL
		}
		if serviceNow {
			cfg.Chat.UseServiceNow = true
		}
		if verbose {
			cfg.Logging.DebugMode = true
			cfg.Logging.Level = "debug"
		}
		if err := cfg.Validate(); err != nil {
			return err
		}
		if err := logging.Initialize(cfg.Logging.Directory, cfg.Logging.DebugMode, cfg.Logging.Level); err != nil {
			return err
		}

		// The interactive UI owns the screen; zap is for the one-shot
		// subcommands only.
		if cmd.Use == "snchat" && cmd.CalledAs() == "snchat" {
			return nil
		}
		zcfg := zap.NewProductionConfig()
		if verbose {
			zcfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		logger, err = zcfg.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
		logging.CloseAll()
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		return runInteractiveChat(*cfg)
	},
}

// loginCmd establishes a server session and verifies the credentials.
var loginCmd = &cobra.Command{
	Use:   "login [username]",
	Short: "Log in to the chat backend",
	Long: `Verifies credentials against the backend's login endpoint. The
password is read from the SNCHAT_PASSWORD environment variable or the
config file. On success the credentials are saved to the config so the
interactive client logs in automatically.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		username := cfg.Server.Username
		if len(args) > 0 {
			username = args[0]
		}
		if username == "" {
			return fmt.Errorf("no username: pass one as an argument or set SNCHAT_USERNAME")
		}
		if cfg.Server.Password == "" {
			return fmt.Errorf("no password: set SNCHAT_PASSWORD or server.password in the config")
		}

		backend, err := client.New(cfg.Server.BaseURL, cfg.GetServerTimeout())
		if err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(cmd.Context(), 15*time.Second)
		defer cancel()
		if err := backend.Login(ctx, username, cfg.Server.Password); err != nil {
			logger.Error("login failed", zap.String("username", username), zap.Error(err))
			return err
		}

		cfg.Server.Username = username
		if err := cfg.Save(configPath); err != nil {
			logger.Warn("could not persist credentials", zap.Error(err))
		}
		fmt.Printf("Logged in as %s\n", username)
		return nil
	},
}

// logoutCmd terminates the server session.
var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Log out from the chat backend",
	RunE: func(cmd *cobra.Command, args []string) error {
		backend, err := client.New(cfg.Server.BaseURL, cfg.GetServerTimeout())
		if err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(cmd.Context(), 15*time.Second)
		defer cancel()
		if cfg.Server.Username != "" {
			if err := backend.Login(ctx, cfg.Server.Username, cfg.Server.Password); err != nil {
				return err
			}
		}
		if err := backend.Logout(ctx); err != nil {
			return err
		}
		fmt.Println("Logged out")
		return nil
	},
}

// sendCmd submits one message and prints the answer, polling if needed.
var sendCmd = &cobra.Command{
	Use:   "send [message]",
	Short: "Send a single message and print the response",
	Long: `Sends one message without the interactive UI. In ServiceNow mode
(--servicenow) the command polls until the agent answers or the attempt
budget runs out.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		message := args[0]
		for _, a := range args[1:] {
			message += " " + a
		}

		backend, err := client.New(cfg.Server.BaseURL, cfg.GetServerTimeout())
		if err != nil {
			return err
		}
		ctx := cmd.Context()
		if cfg.Server.Username != "" {
			if err := backend.Login(ctx, cfg.Server.Username, cfg.Server.Password); err != nil {
				return fmt.Errorf("login failed: %w", err)
			}
		}

		transcriptStore := transcript.NewStore()
		transcriptStore.OnAppend(func(msg transcript.Message) {
			switch msg.Role {
			case transcript.RoleUser:
				// Echoing the input back is just noise in one-shot mode.
			case transcript.RoleError:
				fmt.Fprintln(os.Stderr, msg.Text)
			default:
				fmt.Println(msg.Text)
			}
		})

		settled := make(chan poll.State, 1)
		conv := session.New(backend, transcriptStore, session.Config{
			UseServiceNow: cfg.Chat.UseServiceNow,
			DebugMessages: cfg.Chat.DebugMessages,
			Poll: poll.Config{
				MaxAttempts: cfg.Polling.MaxAttempts,
				Interval:    cfg.GetPollInterval(),
				Decode:      decode.Options{Unknown: decode.UnknownPolicy(cfg.Chat.UnknownItemPolicy)},
			},
		}, session.Hooks{
			OnSettled: func(s poll.State) { settled <- s },
		})

		logger.Debug("sending message",
			zap.String("session", conv.SessionID()),
			zap.Bool("servicenow", cfg.Chat.UseServiceNow))

		if err := conv.Submit(ctx, message); err != nil {
			return err
		}
		if conv.Loading() {
			select {
			case s := <-settled:
				if s == poll.StateFailed {
					return fmt.Errorf("polling failed")
				}
			case <-ctx.Done():
				conv.Cancel()
				return ctx.Err()
			}
		}
		return nil
	},
}

// historyCmd inspects persisted conversations.
var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Inspect stored conversation history",
}

var historyListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored sessions",
	RunE: func(cmd *cobra.Command, args []string) error {
		hs, err := store.NewHistoryStore(cfg.History.DatabasePath)
		if err != nil {
			return err
		}
		defer hs.Close()

		sessions, err := hs.ListSessions(50)
		if err != nil {
			return err
		}
		if len(sessions) == 0 {
			fmt.Println("No stored sessions.")
			return nil
		}
		for _, s := range sessions {
			fmt.Printf("%s  %3d messages  %s\n",
				s.SessionID, s.MessageCount, s.LastActivity.Format("2006-01-02 15:04"))
		}
		return nil
	},
}

var historyShowCmd = &cobra.Command{
	Use:   "show [session-id]",
	Short: "Print one session's transcript",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		hs, err := store.NewHistoryStore(cfg.History.DatabasePath)
		if err != nil {
			return err
		}
		defer hs.Close()

		msgs, err := hs.LoadSession(args[0])
		if err != nil {
			return err
		}
		if len(msgs) == 0 {
			return fmt.Errorf("no session %q", args[0])
		}
		for _, m := range msgs {
			fmt.Printf("[%s] %s: %s\n", m.CreatedAt.Format("15:04:05"), m.Role, m.Text)
		}
		return nil
	},
}

var historyDeleteCmd = &cobra.Command{
	Use:   "delete [session-id]",
	Short: "Delete one session's transcript",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		hs, err := store.NewHistoryStore(cfg.History.DatabasePath)
		if err != nil {
			return err
		}
		defer hs.Close()
		if err := hs.DeleteSession(args[0]); err != nil {
			return err
		}
		fmt.Printf("Deleted session %s\n", args[0])
		return nil
	},
}

// configCmd shows the resolved configuration.
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show the resolved configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Printf("Config file:   %s\n", configPath)
		fmt.Printf("Server:        %s\n", cfg.Server.BaseURL)
		fmt.Printf("ServiceNow:    %v\n", cfg.Chat.UseServiceNow)
		fmt.Printf("Polling:       %d attempts every %s\n", cfg.Polling.MaxAttempts, cfg.GetPollInterval())
		fmt.Printf("History:       enabled=%v path=%s\n", cfg.History.Enabled, cfg.History.DatabasePath)
		fmt.Printf("Theme:         %s\n", cfg.UI.Theme)
		return nil
	},
}

// versionCmd prints the version.
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the snchat version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("snchat %s\n", Version)
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", config.DefaultPath(), "config file path")
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "", "chat backend base URL (overrides config)")
	rootCmd.PersistentFlags().BoolVar(&serviceNow, "servicenow", false, "route messages to the ServiceNow agent")

	historyCmd.AddCommand(historyListCmd, historyShowCmd, historyDeleteCmd)
	rootCmd.AddCommand(loginCmd, logoutCmd, sendCmd, historyCmd, configCmd, versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
