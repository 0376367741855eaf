// Package config loads the linecheck configuration from the environment.
// The resulting Config is constructed once at startup and passed into every
// component constructor; there is no ambient global configuration state.
package config

import (
	"context"
	"fmt"
	"time"

	"github.com/sethvargo/go-envconfig"
)

// TelegramCfg holds the OTP messaging channel settings.
type TelegramCfg struct {
	BotToken string
	ChatID   string
	APIURL   string
}

// PortalCfg holds the line-test portal settings.
type PortalCfg struct {
	Username     string
	Password     string
	TestURL      string
	LoginURL     string
	ProvinceCode string
}

// FilesCfg holds the durable-storage paths.
type FilesCfg struct {
	InputFile    string
	OutputFile   string
	ColumnName   string
	CookiesFile  string
	ProgressFile string
}

// DispatchCfg holds the batch-dispatch engine tuning knobs.
type DispatchCfg struct {
	BatchSize      int
	ThreadWorkers  int
	ProcessWorkers int
	MaxRetries     int
	RetryDelay     time.Duration
	SaveInterval   int
	RequestRate    int // outbound requests per second, 0 = unpaced
}

// SessionCfg holds login and OTP timing.
type SessionCfg struct {
	OTPTimeout      time.Duration
	OTPPollInterval time.Duration
}

// BudgetCfg holds the shared failure-budget settings.
// An empty RedisAddress disables the budget gate entirely.
type BudgetCfg struct {
	RedisAddress  string
	RedisPassword string
	RedisDB       int
}

// LogCfg holds logging settings.
type LogCfg struct {
	Level  string
	Pretty bool
}

// Config is the assembled application configuration.
type Config struct {
	TelegramCfg
	PortalCfg
	FilesCfg
	DispatchCfg
	SessionCfg
	BudgetCfg
	LogCfg
}

// In is the raw environment input before validation.
type In struct {
	BotToken string `env:"BOT_TOKEN"`
	ChatID   string `env:"CHAT_ID"`
	APIURL   string `env:"TELEGRAM_API_URL, default=https://api.telegram.org"`

	Username     string `env:"PORTAL_USERNAME"`
	Password     string `env:"PORTAL_PASSWORD"`
	TestURL      string `env:"PORTAL_URL, default=https://cts.vnpt.vn/linetest/Test/TestGponByList"`
	LoginURL     string `env:"LOGIN_URL, default=https://cts.vnpt.vn/Linetest/Test/TestL2GponPortList"`
	ProvinceCode string `env:"PROVINCE_CODE, default=NAN"`

	InputFile    string `env:"INPUT_FILE"`
	OutputFile   string `env:"OUTPUT_FILE, default=results.xlsx"`
	ColumnName   string `env:"COLUMN_NAME, default=username"`
	CookiesFile  string `env:"COOKIES_FILE, default=session_cookies.json"`
	ProgressFile string `env:"PROGRESS_FILE, default=progress.json"`

	BatchSize      int           `env:"BATCH_SIZE, default=500"`
	ThreadWorkers  int           `env:"THREAD_WORKERS, default=20"`
	ProcessWorkers int           `env:"PROCESS_WORKERS, default=8"`
	MaxRetries     int           `env:"MAX_RETRIES, default=2"`
	RetryDelay     time.Duration `env:"RETRY_DELAY, default=1s"`
	SaveInterval   int           `env:"SAVE_INTERVAL, default=1000"`
	RequestRate    int           `env:"REQUEST_RATE, default=0"`

	OTPTimeout      time.Duration `env:"OTP_TIMEOUT, default=10m"`
	OTPPollInterval time.Duration `env:"OTP_POLL_INTERVAL, default=5s"`

	RedisAddress  string `env:"REDIS_ADDRESS"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisDB       int    `env:"REDIS_DB, default=0"`

	LogLevel  string `env:"LOG_LEVEL, default=info"`
	LogPretty bool   `env:"LOG_PRETTY, default=false"`
}

// Load processes the environment into a validated Config.
func Load(ctx context.Context) (Config, error) {
	var input In

	c, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := envconfig.Process(c, &input); err != nil {
		return Config{}, err
	}

	if err := validate(input); err != nil {
		return Config{}, err
	}

	cfg := Config{
		TelegramCfg: TelegramCfg{
			BotToken: input.BotToken,
			ChatID:   input.ChatID,
			APIURL:   input.APIURL,
		},
		PortalCfg: PortalCfg{
			Username:     input.Username,
			Password:     input.Password,
			TestURL:      input.TestURL,
			LoginURL:     input.LoginURL,
			ProvinceCode: input.ProvinceCode,
		},
		FilesCfg: FilesCfg{
			InputFile:    input.InputFile,
			OutputFile:   input.OutputFile,
			ColumnName:   input.ColumnName,
			CookiesFile:  input.CookiesFile,
			ProgressFile: input.ProgressFile,
		},
		DispatchCfg: DispatchCfg{
			BatchSize:      input.BatchSize,
			ThreadWorkers:  input.ThreadWorkers,
			ProcessWorkers: input.ProcessWorkers,
			MaxRetries:     input.MaxRetries,
			RetryDelay:     input.RetryDelay,
			SaveInterval:   input.SaveInterval,
			RequestRate:    input.RequestRate,
		},
		SessionCfg: SessionCfg{
			OTPTimeout:      input.OTPTimeout,
			OTPPollInterval: input.OTPPollInterval,
		},
		BudgetCfg: BudgetCfg{
			RedisAddress:  input.RedisAddress,
			RedisPassword: input.RedisPassword,
			RedisDB:       input.RedisDB,
		},
		LogCfg: LogCfg{
			Level:  input.LogLevel,
			Pretty: input.LogPretty,
		},
	}

	return cfg, nil
}

func validate(in In) error {
	if in.BatchSize < 1 {
		return fmt.Errorf("batch size must be >= 1 (got %d)", in.BatchSize)
	}
	if in.ThreadWorkers < 1 {
		return fmt.Errorf("thread workers must be >= 1 (got %d)", in.ThreadWorkers)
	}
	if in.ProcessWorkers < 1 {
		return fmt.Errorf("process workers must be >= 1 (got %d)", in.ProcessWorkers)
	}
	if in.MaxRetries < 1 {
		return fmt.Errorf("max retries must be >= 1 (got %d)", in.MaxRetries)
	}
	if in.SaveInterval < 1 {
		return fmt.Errorf("save interval must be >= 1 (got %d)", in.SaveInterval)
	}
	if in.InputFile == "" {
		return fmt.Errorf("INPUT_FILE is required")
	}
	return nil
}
