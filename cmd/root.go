package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/inference-sim/agentsim/sim/dispatch"

	// Built-in scenarios register themselves with sim.
	_ "github.com/inference-sim/agentsim/sim/scenario"
)

// engineSettings are the values resolved from flags, AGENTSIM_* environment
// variables and the optional config file, in that order of precedence.
type engineSettings struct {
	LogLevel     string
	LogFile      string
	DB           string
	Workers      int
	PollInterval time.Duration
	Executors    string
}

// app carries the state shared by one command tree.
type app struct {
	v        *viper.Viper
	cfgFile  string
	settings engineSettings
	logSink  io.Closer
}

// newRootCmd builds a fresh command tree and the app state it resolves
// into. Each call has its own viper instance so trees do not share settings.
func newRootCmd() (*cobra.Command, *app) {
	a := &app{v: viper.New()}
	root := &cobra.Command{
		Use:           "agentsim",
		Short:         "Discrete-time multi-agent simulation engine",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if err := a.initConfig(cmd); err != nil {
				return err
			}
			a.configureLogging()
			return nil
		},
		PersistentPostRun: func(*cobra.Command, []string) { a.closeLog() },
	}

	pf := root.PersistentFlags()
	pf.StringVarP(&a.cfgFile, "config", "c", "", "Config file (YAML) with engine settings")
	pf.String("log", "error", "Log level (trace, debug, info, warn, error, fatal, panic)")
	pf.String("log-file", "", "Also write logs to this file (rotated)")
	pf.String("db", "", "SQLite database path; empty uses an in-memory store")
	pf.Int("workers", 0, "Phase worker pool size (0 or 1 runs tasks sequentially)")

	root.AddCommand(newRunCmd(a), newCreateCmd(a), newDispatchCmd(a))
	return root, a
}

// Execute runs the CLI root command
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	root, _ := newRootCmd()
	err := root.ExecuteContext(ctx)
	stop()
	if err != nil {
		logrus.Errorf("%v", err)
		os.Exit(1)
	}
}

// initConfig layers the config file, environment and the executing
// command's flags into a.settings.
func (a *app) initConfig(cmd *cobra.Command) error {
	v := a.v
	if a.cfgFile != "" {
		v.SetConfigFile(a.cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("reading config file: %w", err)
		}
	}
	v.SetEnvPrefix("AGENTSIM")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	if err := v.BindPFlags(cmd.Flags()); err != nil {
		return fmt.Errorf("binding flags: %w", err)
	}

	a.settings = engineSettings{
		LogLevel:     v.GetString("log"),
		LogFile:      v.GetString("log-file"),
		DB:           v.GetString("db"),
		Workers:      v.GetInt("workers"),
		PollInterval: v.GetDuration("poll-interval"),
		Executors:    v.GetString("executors"),
	}
	if a.settings.PollInterval <= 0 {
		a.settings.PollInterval = dispatch.DefaultPollInterval
	}
	if a.settings.Workers < 0 {
		return fmt.Errorf("workers must be >= 0, got %d", a.settings.Workers)
	}
	return nil
}

func (a *app) configureLogging() {
	level, err := logrus.ParseLevel(a.settings.LogLevel)
	if err != nil {
		logrus.Fatalf("Invalid log level: %s", a.settings.LogLevel)
	}
	logrus.SetLevel(level)

	if a.settings.LogFile == "" {
		return
	}
	sink := &lumberjack.Logger{
		Filename:   a.settings.LogFile,
		MaxSize:    10, // megabytes
		MaxBackups: 3,
		MaxAge:     7, // days
	}
	logrus.SetOutput(io.MultiWriter(os.Stderr, sink))
	a.logSink = sink
}

func (a *app) closeLog() {
	if a.logSink == nil {
		return
	}
	logrus.SetOutput(os.Stderr)
	_ = a.logSink.Close()
	a.logSink = nil
}
