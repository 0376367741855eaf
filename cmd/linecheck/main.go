package main

import (
	"context"
	"os"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"

	"github.com/linetools/linecheck/pkg/browser"
	"github.com/linetools/linecheck/pkg/budget"
	"github.com/linetools/linecheck/pkg/client"
	"github.com/linetools/linecheck/pkg/config"
	"github.com/linetools/linecheck/pkg/dispatch"
	"github.com/linetools/linecheck/pkg/logging"
	"github.com/linetools/linecheck/pkg/otp"
	"github.com/linetools/linecheck/pkg/progress"
	"github.com/linetools/linecheck/pkg/session"
	"github.com/linetools/linecheck/pkg/sheet"
)

func main() {
	ctx := context.Background()

	cfg, err := config.Load(ctx)
	if err != nil {
		fallback := logging.Setup(logging.DefaultConfig())
		fallback.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logger := logging.Setup(logging.Config{
		Level:  logging.LogLevel(cfg.LogCfg.Level),
		Pretty: cfg.LogCfg.Pretty,
		Output: os.Stderr,
	})

	start := time.Now()

	// Shared failure budget is optional; an empty Redis address disables it.
	var gate client.Gate
	if cfg.RedisAddress != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddress,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			logger.Fatal().Err(err).Str("addr", cfg.RedisAddress).Msg("Failed to connect to Redis")
		}
		logger.Info().Str("addr", cfg.RedisAddress).Msg("Connected to Redis")
		gate = budget.NewTracker(rdb, logging.NewLogger("budget"))
	}

	var limiter *rate.Limiter
	if cfg.RequestRate > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestRate), cfg.RequestRate)
	}

	portal, err := client.New(client.Config{
		TestURL:      cfg.TestURL,
		ProvinceCode: cfg.ProvinceCode,
		MaxRetries:   cfg.MaxRetries,
		RetryDelay:   cfg.RetryDelay,
		Limiter:      limiter,
		Gate:         gate,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to create portal client")
	}

	channel, err := otp.NewChannel(otp.Config{
		APIURL:       cfg.APIURL,
		BotToken:     cfg.BotToken,
		ChatID:       cfg.ChatID,
		PollInterval: cfg.OTPPollInterval,
		Timeout:      cfg.OTPTimeout,
	}, logging.NewLogger("otp"))
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to create OTP channel")
	}

	automator, err := browser.NewAutomator(browser.Config{
		LoginURL: cfg.LoginURL,
		Username: cfg.Username,
		Password: cfg.Password,
		Headless: true,
	}, channel, logging.NewLogger("browser"))
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to create login automator")
	}

	store := session.NewFileStore(cfg.CookiesFile, logging.NewLogger("session"))
	manager := session.NewManager(store, portal, automator, logging.NewLogger("session"))

	cred, err := manager.Acquire(ctx)
	if err != nil {
		// No credential, no run: OTP timeout and login failure are fatal.
		logger.Fatal().Err(err).Msg("Failed to acquire session")
	}

	items, err := sheet.ReadColumn(cfg.InputFile, cfg.ColumnName)
	if err != nil {
		logger.Error().Err(err).Str("path", cfg.InputFile).Msg("Failed to read input file")
		os.Exit(1)
	}
	logger.Info().Int("items", len(items)).Msg("Work list loaded")

	tracker := progress.NewTracker(cfg.ProgressFile, logging.NewLogger("progress"))

	dispatcher, err := dispatch.New(portal, tracker, dispatch.Config{
		BatchSize:    cfg.BatchSize,
		BatchWorkers: cfg.ProcessWorkers,
		ItemWorkers:  cfg.ThreadWorkers,
		SaveInterval: cfg.SaveInterval,
	}, logging.NewLogger("dispatch"))
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to create dispatcher")
	}

	successes, failed := dispatcher.Dispatch(ctx, items, cred)

	if len(failed) > 0 {
		recovered, stillFailed := dispatcher.RetryFailed(ctx, failed, cred)
		successes = append(successes, recovered...)
		if len(stillFailed) > 0 {
			logger.Warn().Int("items", len(stillFailed)).Msg("Items terminally failed after retry pass")
		}
	}

	if err := sheet.WriteResults(cfg.OutputFile, successes, logging.NewLogger("sheet")); err != nil {
		logger.Error().Err(err).Str("path", cfg.OutputFile).Msg("Failed to write output file")
		os.Exit(1)
	}

	logger.Info().
		Dur("elapsed", time.Since(start)).
		Int("succeeded", len(successes)).
		Msg("Run complete")
}
