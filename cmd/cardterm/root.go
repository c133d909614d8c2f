package main

import (
	"database/sql"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/alovak/cardflow-pos/authclient"
	"github.com/alovak/cardflow-pos/terminal"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/exp/slog"
)

var (
	cfgFile string
	verbose bool
	cfg     *terminal.Config
)

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "cardterm",
		Short:         "cardterm is a card-present POS terminal",
		Long:          `cardterm reads cards, authorizes them with the host and keeps the terminal's batch books.`,
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&cfgFile, "config", "c", "", "config file (default ./cardterm.yaml)")
	flags.BoolVarP(&verbose, "verbose", "v", false, "log host exchanges")
	flags.String("data-dir", "", "directory for records and histories")
	flags.String("host", "", "authorization host address")
	flags.String("terminal", "", "terminal id")
	flags.Bool("simulate", false, "run against an in-process host")

	for key, flag := range map[string]string{
		"data_dir":    "data-dir",
		"host_addr":   "host",
		"terminal_id": "terminal",
		"simulate":    "simulate",
	} {
		viper.BindPFlag(key, flags.Lookup(flag))
	}

	rootCmd.AddCommand(newCheckCmd())
	rootCmd.AddCommand(newSaleCmd())
	rootCmd.AddCommand(newPreAuthCmd())
	rootCmd.AddCommand(newCompleteCmd())
	rootCmd.AddCommand(newRefundCmd())
	rootCmd.AddCommand(newFollowCmd("void", "Void an authorized record", (*terminal.Service).Void))
	rootCmd.AddCommand(newFollowCmd("void-cancel", "Take back a void", (*terminal.Service).VoidCancel))
	rootCmd.AddCommand(newFollowCmd("refund-cancel", "Take back a refund", (*terminal.Service).RefundCancel))

	rootCmd.AddCommand(newTotalsCmd())
	rootCmd.AddCommand(newSettleCmd())
	rootCmd.AddCommand(newDetailsCmd())
	rootCmd.AddCommand(newInitCmd())
	rootCmd.AddCommand(newSAFCmd())
	rootCmd.AddCommand(newArchiveCmd())

	rootCmd.AddCommand(newRecordsCmd())
	rootCmd.AddCommand(newShowCmd())
	rootCmd.AddCommand(newHistoryCmd())
	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newTestCardCmd())

	return rootCmd
}

func initConfig() error {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(".")
		viper.SetConfigName("cardterm")
		viper.SetConfigType("yaml")
	}

	def := terminal.DefaultConfig()
	viper.SetDefault("http_addr", def.HTTPAddr)
	viper.SetDefault("data_dir", def.DataDir)
	viper.SetDefault("host_addr", def.HostAddr)
	viper.SetDefault("terminal_id", def.TerminalID)
	viper.SetDefault("connect_timeout", def.ConnectTimeout)
	viper.SetDefault("poll_interval", def.PollInterval)
	viper.SetDefault("idle_polls", def.IdlePolls)
	viper.SetDefault("max_wait", def.MaxWait)
	viper.SetDefault("simulate", def.Simulate)
	viper.SetDefault("db_dsn", def.DBDSN)

	viper.SetEnvPrefix("CARDTERM")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if cfgFile != "" {
			return fmt.Errorf("failed to read config file: %w", err)
		}
		if !errors.As(err, &viper.ConfigFileNotFoundError{}) {
			return fmt.Errorf("config file error: %w", err)
		}
	}

	cfg = terminal.DefaultConfig()
	if err := viper.Unmarshal(cfg); err != nil {
		return fmt.Errorf("unable to decode config: %w", err)
	}
	return nil
}

// newLogger logs to stderr. One-shot commands stay quiet unless --verbose
// is set.
func newLogger(always bool) *slog.Logger {
	if !always && !verbose {
		return slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// openService builds a terminal service from the loaded config. The returned
// cleanup stops what openService started.
func openService() (*terminal.Service, func(), error) {
	logger := newLogger(false)
	config := *cfg

	var sim *authclient.Simulator
	if config.Simulate {
		sim = authclient.NewSimulator(logger, "127.0.0.1:0")
		if err := sim.Start(); err != nil {
			return nil, nil, fmt.Errorf("starting host simulator: %w", err)
		}
		config.HostAddr = sim.Addr
	}

	journal, db, err := terminal.OpenJournal(config.DBDSN)
	if err != nil {
		closeAll(sim, nil)
		return nil, nil, err
	}

	svc := terminal.NewService(authclient.New(config.ClientConfig(), logger), &config, journal, logger)
	if err := svc.Load(); err != nil {
		closeAll(sim, db)
		return nil, nil, fmt.Errorf("loading terminal data: %w", err)
	}
	return svc, func() { closeAll(sim, db) }, nil
}

func closeAll(sim *authclient.Simulator, db *sql.DB) {
	if sim != nil {
		sim.Close()
	}
	if db != nil {
		db.Close()
	}
}
