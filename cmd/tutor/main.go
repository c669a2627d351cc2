package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/boristopalov/tutor/pkg/config"
	"github.com/boristopalov/tutor/pkg/core"
	"github.com/boristopalov/tutor/pkg/experiment"
	"github.com/boristopalov/tutor/pkg/logx"
	"github.com/boristopalov/tutor/pkg/report"
	"github.com/boristopalov/tutor/pkg/server"
)

type flags struct {
	configPath string
	provider   string
	model      string
	verbose    bool

	rounds   int
	topics   string
	interval int
	seed     int64
	skipPing bool
	tableMax int

	addr string
}

func main() {
	for _, envFile := range []string{
		".env",
		"../../.env",
		"../../../.env",
	} {
		if err := godotenv.Load(envFile); err == nil {
			break
		}
	}

	var f flags
	rootCmd := &cobra.Command{
		Use:   "tutor",
		Short: "Tutor runs a teacher and a student agent that learn from each other with Q-learning.",
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			logx.SetVerbose(f.verbose)
		},
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVar(&f.configPath, "config", "", "path to a YAML config file")
	rootCmd.PersistentFlags().StringVar(&f.provider, "provider", "", "model provider (ollama, openai, google, anthropic, gollm)")
	rootCmd.PersistentFlags().StringVar(&f.model, "model", "", "model used by both agents")
	rootCmd.PersistentFlags().BoolVarP(&f.verbose, "verbose", "v", false, "log prompts and other debug lines")

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Run one tutoring simulation in the terminal",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSimulation(cmd, &f)
		},
	}
	runCmd.Flags().IntVar(&f.rounds, "rounds", 0, "number of rounds")
	runCmd.Flags().StringVar(&f.topics, "topics", "", "comma-separated list of topics")
	runCmd.Flags().IntVar(&f.interval, "interval", 0, "evolve the agents every N rounds")
	runCmd.Flags().Int64Var(&f.seed, "seed", 0, "seed for action selection")
	runCmd.Flags().BoolVar(&f.skipPing, "skip-ping", false, "start without checking the model backend")
	runCmd.Flags().IntVar(&f.tableMax, "table-entries", 5, "value table entries printed per agent")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API for starting and following simulations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd, &f)
		},
	}
	serveCmd.Flags().StringVar(&f.addr, "addr", "", "listen address (default from config)")

	pingCmd := &cobra.Command{
		Use:   "ping",
		Short: "Check that the model backend is reachable",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ping(cmd, &f)
		},
	}

	rootCmd.AddCommand(runCmd, serveCmd, pingCmd)
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func loadConfig(cmd *cobra.Command, f *flags) (*config.Config, error) {
	if f.provider != "" {
		os.Setenv(config.EnvProvider, f.provider)
	}
	if f.model != "" {
		os.Setenv(config.EnvModel, f.model)
	}
	cfg, err := config.Read(f.configPath)
	if err != nil {
		return nil, err
	}

	flagSet := cmd.Flags()
	if flagSet.Changed("rounds") {
		cfg.Run.NumRounds = f.rounds
	}
	if flagSet.Changed("interval") {
		cfg.Run.EvolutionInterval = f.interval
	}
	if flagSet.Changed("seed") {
		cfg.Run.Seed = f.seed
	}
	if flagSet.Changed("topics") {
		cfg.Run.Topics = nil
		for _, t := range strings.Split(f.topics, ",") {
			if t = strings.TrimSpace(t); t != "" {
				cfg.Run.Topics = append(cfg.Run.Topics, t)
			}
		}
	}
	if flagSet.Changed("addr") {
		cfg.Server.Addr = f.addr
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func runSimulation(cmd *cobra.Command, f *flags) error {
	cfg, err := loadConfig(cmd, f)
	if err != nil {
		return err
	}
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	console := report.NewConsole(os.Stdout)
	a, err := newApp(ctx, cfg, console)
	if err != nil {
		return err
	}
	defer a.Close()

	if !f.skipPing {
		if err := a.ping(ctx); err != nil {
			return err
		}
	}

	summary, runErr := a.env.Run(ctx, cfg.RunConfig())
	if runErr != nil && !errors.Is(runErr, core.ErrRunStopped) {
		return fmt.Errorf("simulation failed: %w", runErr)
	}

	a.Flush()
	rounds := a.env.Rounds()
	events := a.env.Events()
	fmt.Fprintln(os.Stdout)
	console.PrintRounds(rounds)
	fmt.Fprintln(os.Stdout)
	console.PrintSummary(summary)
	fmt.Fprintln(os.Stdout)
	console.PrintTable(core.RoleTeacher, a.teacher.QTable(), f.tableMax)
	console.PrintTable(core.RoleStudent, a.student.QTable(), f.tableMax)

	if a.stats != nil {
		log.Printf("Per-round stats written to %s", a.stats.Path())
	}
	if cfg.Report.Chart && len(rounds) > 0 {
		path, err := report.WriteChart(cfg.Report.Dir, summary.RunID, rounds, events, cfg.Policy.Window)
		if err != nil {
			logx.Warnf("failed to write chart: %v", err)
		} else {
			log.Printf("Reward chart written to %s", path)
		}
	}
	return runErr
}

func serve(cmd *cobra.Command, f *flags) error {
	cfg, err := loadConfig(cmd, f)
	if err != nil {
		return err
	}
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	log.SetOutput(io.MultiWriter(os.Stderr, logx.NewEventWriter(a.broker)))
	defer log.SetOutput(os.Stderr)

	runner := experiment.NewRunner(a.env)
	opts := []server.Option{
		server.WithMetrics(a.recorder.Handler()),
		server.WithHealthCheck(a.collaborator.Ping),
	}
	if a.store != nil {
		opts = append(opts, server.WithStore(a.store))
	}
	srv := server.New(runner, a.broker, cfg.RunConfig(), opts...)

	errCh := make(chan error, 1)
	go func() {
		log.Printf("Listening on %s", cfg.Server.Addr)
		errCh <- srv.Start(cfg.Server.Addr)
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	log.Printf("Shutting down")
	_ = runner.Stop()
	shutdownCtx, stop := context.WithTimeout(context.Background(), 10*time.Second)
	defer stop()
	if err := runner.Wait(shutdownCtx); err != nil {
		logx.Warnf("run did not finish before shutdown: %v", err)
	}
	return srv.Shutdown(shutdownCtx)
}

func ping(cmd *cobra.Command, f *flags) error {
	cfg, err := loadConfig(cmd, f)
	if err != nil {
		return err
	}
	cfg.Store.Enabled = false
	cfg.Report.CSV = false
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()
	if err := a.ping(ctx); err != nil {
		return err
	}
	fmt.Printf("%s is reachable (teacher model %s, student model %s)\n",
		cfg.Provider.Name, a.collaborator.Model(core.RoleTeacher), a.collaborator.Model(core.RoleStudent))
	return nil
}
