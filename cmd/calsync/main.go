package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/calcurse/calsync/internal/caldav"
	"github.com/calcurse/calsync/internal/calcurse"
	"github.com/calcurse/calsync/internal/config"
	"github.com/calcurse/calsync/internal/history"
	"github.com/calcurse/calsync/internal/sync"
	"github.com/calcurse/calsync/internal/utils"
	"github.com/calcurse/calsync/internal/version"
	"github.com/fatih/color"
	"github.com/lmittmann/tint"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	yellow = color.New(color.FgHiYellow).SprintFunc()
	green  = color.New(color.FgHiGreen).SprintFunc()
)

var rootCmd = &cobra.Command{
	Use:     "calsync",
	Short:   "Synchronize calcurse with a CalDAV server",
	Version: version.Detailed(),
	PreRunE: func(cmd *cobra.Command, args []string) error {
		if err := loadConfig(cmd); err != nil {
			return err
		}
		setupLogging(viper.GetBool("verbose"))
		return nil
	},
	RunE: runSync,
}

func init() {
	rootCmd.Flags().SortFlags = false
	rootCmd.Flags().String("init", "", "initialize the sync database (keep-remote|keep-local|two-way)")
	rootCmd.Flags().String("syncdb", config.DefaultSyncDBPath, "path to the sync database")
	rootCmd.Flags().String("lockfile", config.DefaultLockPath, "path to the lock file")
	rootCmd.Flags().Bool("dry-run", true, "compute and report the diff without mutating anything")
	rootCmd.Flags().BoolP("verbose", "v", false, "print status messages and full protocol diagnostics")
	rootCmd.PersistentFlags().StringP("config", "c", config.DefaultConfigPath, "path to the configuration file")
	rootCmd.PersistentFlags().String("history", config.DefaultHistoryPath, "path to the run history database")
}

func main() {
	setupLogging(false)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func runSync(cmd *cobra.Command, args []string) error {
	syncDBPath, err := utils.ResolvePath(viper.GetString("syncdb"))
	if err != nil {
		return fmt.Errorf("resolve syncdb path: %w", err)
	}
	lockPath, err := utils.ResolvePath(viper.GetString("lockfile"))
	if err != nil {
		return fmt.Errorf("resolve lock path: %w", err)
	}
	historyPath, err := utils.ResolvePath(viper.GetString("history"))
	if err != nil {
		return fmt.Errorf("resolve history path: %w", err)
	}

	cfg := &config.Config{
		HostName:    viper.GetString("hostname"),
		Path:        viper.GetString("path"),
		InsecureSSL: viper.GetBool("insecure_ssl"),
		Username:    viper.GetString("username"),
		Password:    viper.GetString("password"),
		Binary:      viper.GetString("binary"),
		DryRun:      viper.GetBool("dry_run"),
		SyncDBPath:  syncDBPath,
		LockPath:    lockPath,
		HistoryPath: historyPath,
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	initFlag, _ := cmd.Flags().GetString("init")
	initMode, err := sync.ParseInitMode(initFlag)
	if err != nil {
		return err
	}

	cmd.SilenceUsage = true

	if cfg.DryRun {
		fmt.Println(yellow("Dry run. Nothing is actually imported/exported."))
		fmt.Println(yellow(`Add "dry_run": false to the configuration (or pass --dry-run=false) to enable synchronization.`))
	}

	remote := caldav.New(&caldav.Config{
		BaseURL:     cfg.ServerURL(),
		Collection:  cfg.CollectionPath(),
		Username:    cfg.Username,
		Password:    cfg.Password,
		InsecureSSL: cfg.InsecureSSL,
		Verbose:     viper.GetBool("verbose"),
	})
	local := calcurse.New(cfg.Binary)

	journal, err := history.Open(cfg.HistoryPath)
	if err != nil {
		slog.Warn("run history unavailable", "error", err)
		journal = nil
	}
	defer journal.Close()

	engine := sync.New(local, remote, journal, sync.Options{
		SyncDBPath:      cfg.SyncDBPath,
		LockPath:        cfg.LockPath,
		Collection:      cfg.CollectionPath(),
		InitMode:        initMode,
		DryRun:          cfg.DryRun,
		MinLocalVersion: calcurse.MinVersion,
	})

	res, err := engine.Run(cmd.Context())
	if err != nil {
		return err
	}

	fmt.Println(green(fmt.Sprintf("%d items imported, %d items removed locally.", res.Pulled, res.RemovedLocal)))
	fmt.Println(green(fmt.Sprintf("%d items exported, %d items removed from the server.", res.Pushed, res.RemovedRemote)))
	return nil
}

func loadConfig(cmd *cobra.Command) error {
	configPath, _ := cmd.Flags().GetString("config")
	viper.SetConfigFile(configPath)
	viper.SetConfigType("json")

	viper.SetDefault("binary", calcurse.DefaultBinary)
	viper.SetDefault("dry_run", true)

	if err := viper.ReadInConfig(); err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("config read '%s': %w", configPath, err)
		}
		if !cmd.Flags().Changed("config") {
			// No default config is fine, env/flags may carry everything.
			slog.Debug("no configuration file", "path", configPath)
		} else {
			return fmt.Errorf("configuration file not found: %s", configPath)
		}
	}

	viper.BindPFlag("dry_run", cmd.Flags().Lookup("dry-run"))
	viper.BindPFlag("verbose", cmd.Flags().Lookup("verbose"))
	viper.BindPFlag("syncdb", cmd.Flags().Lookup("syncdb"))
	viper.BindPFlag("lockfile", cmd.Flags().Lookup("lockfile"))
	viper.BindPFlag("history", cmd.Flags().Lookup("history"))

	viper.SetEnvPrefix("CALSYNC")
	viper.AutomaticEnv()

	return nil
}

func setupLogging(verbose bool) {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}

	handler := tint.NewHandler(os.Stderr, &tint.Options{
		Level:      level,
		TimeFormat: "2006-01-02T15:04:05.000Z07:00",
		NoColor:    !isatty.IsTerminal(os.Stderr.Fd()),
	})
	slog.SetDefault(slog.New(handler))
}
