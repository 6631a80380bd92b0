package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ternarybob/arbor"
	"golang.org/x/sync/errgroup"

	"github.com/ternarybob/eventjobs/internal/app"
	"github.com/ternarybob/eventjobs/internal/common"
	"github.com/ternarybob/eventjobs/internal/server"
)

// configPaths is a custom flag type that allows multiple -config flags
type configPaths []string

func (c *configPaths) String() string {
	return fmt.Sprintf("%v", *c)
}

func (c *configPaths) Set(value string) error {
	*c = append(*c, value)
	return nil
}

var (
	configFiles  configPaths
	serverPort   = flag.Int("port", 0, "Server port (overrides config)")
	serverPortP  = flag.Int("p", 0, "Server port (shorthand, overrides config)")
	serverHost   = flag.String("host", "", "Server host (overrides config)")
	runMode      = flag.String("mode", "", "Run mode: all, api or worker (overrides config)")
	showVersion  = flag.Bool("version", false, "Print version information")
	showVersionV = flag.Bool("v", false, "Print version information (shorthand)")
)

func init() {
	flag.Var(&configFiles, "config", "Configuration file path (can be specified multiple times, later files override earlier ones)")
	flag.Var(&configFiles, "c", "Configuration file path (shorthand)")
}

func main() {
	flag.Parse()

	if *showVersion || *showVersionV {
		fmt.Printf("EventJobs version %s\n", common.GetFullVersion())
		os.Exit(0)
	}

	finalPort := *serverPort
	if *serverPortP != 0 {
		finalPort = *serverPortP
	}

	if len(configFiles) == 0 {
		if _, err := os.Stat("eventjobs.toml"); err == nil {
			configFiles = append(configFiles, "eventjobs.toml")
		}
	}

	// defaults -> files -> env, then CLI flags
	config, err := common.LoadFromFiles(configFiles...)
	if err != nil {
		arbor.NewLogger().Fatal().Strs("paths", configFiles).Err(err).Msg("Failed to load configuration")
		os.Exit(1)
	}
	common.ApplyFlagOverrides(config, finalPort, *serverHost, *runMode)
	if err := config.Validate(); err != nil {
		arbor.NewLogger().Fatal().Err(err).Msg("Invalid configuration")
		os.Exit(1)
	}

	logger := common.InitLogger(config)
	common.PrintBanner(config, logger)

	if err := run(config, logger); err != nil {
		logger.Error().Err(err).Msg("EventJobs stopped with error")
		os.Exit(1)
	}
	logger.Info().Msg("EventJobs stopped")
}

// run starts the components of the configured mode and blocks until a
// signal arrives or one of them fails
func run(config *common.Config, logger arbor.ILogger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	application, err := app.New(config, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize application: %w", err)
	}
	defer func() {
		if err := application.Close(); err != nil {
			logger.Warn().Err(err).Msg("Application close failed")
		}
	}()

	g, gCtx := errgroup.WithContext(ctx)

	if err := application.Start(gCtx); err != nil {
		return err
	}

	if application.RunsAPI() {
		srv := server.New(application)

		g.Go(func() error {
			return srv.Start()
		})

		g.Go(func() error {
			<-gCtx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})

		logger.Info().
			Str("url", fmt.Sprintf("http://%s:%d", config.Server.Host, config.Server.Port)).
			Msg("Server ready - Press Ctrl+C to stop")
	}

	g.Go(func() error {
		<-gCtx.Done()
		logger.Info().Msg("Shutdown signal received")
		return nil
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
