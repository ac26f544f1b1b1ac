package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"tradeflow/config"
	"tradeflow/internal/client"
	"tradeflow/logger"
)

func main() {
	log := logger.GetLogger()

	// Load environment variables from .env if present
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.WithError(err).Warn("Error loading .env file")
	}

	configPath := flag.String("config", "config/config.yml", "Path to configuration file")
	instruments := flag.String("instruments", "", "Comma-separated instruments to watch at startup")
	login := flag.Bool("login", false, "Force a fresh login instead of restoring the persisted session")

	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.WithError(err).Error("Failed to load configuration")
		os.Exit(1)
	}

	if err := log.Configure(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output, cfg.Logging.MaxAge); err != nil {
		log.WithError(err).Error("Failed to configure logger")
		os.Exit(1)
	}

	if cfg.Logging.CloudWatchNamespace != "" {
		logger.InitCloudWatch(cfg.Recorder.S3.Region, cfg.Logging.CloudWatchNamespace)
	}

	log.WithFields(logger.Fields{
		"service": cfg.Tradeflow.Name,
		"version": cfg.Tradeflow.Version,
	}).Info("starting tradeflow")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if strings.ToLower(cfg.Logging.Level) == "report" {
		logger.StartReport(ctx, log, 30*time.Second)
	}

	c, err := client.New(cfg)
	if err != nil {
		log.WithError(err).Error("failed to build client")
		os.Exit(1)
	}

	// The client context stays alive for the whole run; REST calls carry
	// their own request timeout and blocking is bounded there.
	if *login {
		if _, err := c.Login(ctx); err != nil {
			log.WithError(err).Error("login failed")
			os.Exit(1)
		}
	} else {
		user, ok, err := c.Restore(ctx)
		if err != nil {
			log.WithError(err).Error("session restore failed")
			os.Exit(1)
		}
		if !ok {
			log.Info("no persisted session; logging in")
			if user, err = c.Login(ctx); err != nil {
				log.WithError(err).Error("login failed")
				os.Exit(1)
			}
		}
		log.WithField("user", user.ID).Info("session ready")
	}

	if *instruments != "" {
		watch := strings.Split(*instruments, ",")
		for i := range watch {
			watch[i] = strings.TrimSpace(watch[i])
		}
		if err := c.WatchInstruments(ctx, watch...); err != nil {
			log.WithError(err).Warn("failed to watch startup instruments")
		}
	}

	log.Info("all components started successfully")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigChan
	log.WithFields(logger.Fields{"signal": sig.String()}).Info("shutdown signal received")

	log.Info("starting graceful shutdown")
	cancel()
	c.Close()

	log.Info("tradeflow stopped")
}
