// Package browser drives the portal login UI with a headless browser,
// completing the OTP-gated flow and harvesting the session cookies.
package browser

import (
	"context"
	"fmt"
	"time"

	"github.com/chromedp/cdproto/storage"
	"github.com/chromedp/chromedp"
	"github.com/rs/zerolog"

	"github.com/linetools/linecheck/pkg/otp"
	"github.com/linetools/linecheck/pkg/session"
)

// Portal login page selectors.
const (
	selectorUsername = `#username`
	selectorPassword = `#password`
	selectorOTP      = `#passOTP`
	selectorSubmit   = `//button[text()='ĐĂNG NHẬP']`
)

// Config holds the login automator configuration.
type Config struct {
	// LoginURL is the portal login page.
	LoginURL string

	// Username and Password fill the login form.
	Username string
	Password string

	// Headless runs the browser without a display (default in production).
	Headless bool

	// NavigationTimeout bounds each browser interaction step.
	NavigationTimeout time.Duration
}

// Automator implements session.Authenticator by driving the login page.
type Automator struct {
	config Config
	otp    *otp.Channel
	logger zerolog.Logger
}

// NewAutomator creates a browser login automator.
func NewAutomator(cfg Config, channel *otp.Channel, logger zerolog.Logger) (*Automator, error) {
	if cfg.LoginURL == "" {
		return nil, fmt.Errorf("login url is required")
	}
	if cfg.Username == "" || cfg.Password == "" {
		return nil, fmt.Errorf("username and password are required")
	}
	if channel == nil {
		return nil, fmt.Errorf("otp channel is required")
	}
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = 60 * time.Second
	}

	return &Automator{
		config: cfg,
		otp:    channel,
		logger: logger,
	}, nil
}

// Login performs the interactive OTP-gated login and returns the session
// cookies. An OTP timeout is fatal and propagates as otp.ErrTimeout.
func (a *Automator) Login(ctx context.Context) (session.Credential, error) {
	opts := chromedp.DefaultExecAllocatorOptions[:]
	if !a.config.Headless {
		opts = append(opts, chromedp.Flag("headless", false))
	}

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, opts...)
	defer cancelAlloc()

	browserCtx, cancelBrowser := chromedp.NewContext(allocCtx)
	defer cancelBrowser()

	a.logger.Info().Str("url", a.config.LoginURL).Msg("Opening login page")

	stepCtx, cancelStep := context.WithTimeout(browserCtx, a.config.NavigationTimeout)
	defer cancelStep()

	err := chromedp.Run(stepCtx,
		chromedp.Navigate(a.config.LoginURL),
		chromedp.WaitVisible(selectorUsername, chromedp.ByID),
		chromedp.SendKeys(selectorUsername, a.config.Username, chromedp.ByID),
		chromedp.SendKeys(selectorPassword, a.config.Password, chromedp.ByID),
		chromedp.Click(selectorSubmit, chromedp.BySearch),
	)
	if err != nil {
		return nil, fmt.Errorf("submit credentials: %w", err)
	}

	loginTime := time.Now()

	if err := a.otp.Notify(ctx, "I need OTP"); err != nil {
		a.logger.Warn().Err(err).Msg("Failed to send OTP notification")
	}

	code, err := a.otp.WaitForCode(ctx, loginTime)
	if err != nil {
		return nil, err
	}

	otpCtx, cancelOTP := context.WithTimeout(browserCtx, a.config.NavigationTimeout)
	defer cancelOTP()

	err = chromedp.Run(otpCtx,
		chromedp.WaitVisible(selectorOTP, chromedp.ByID),
		chromedp.SendKeys(selectorOTP, code, chromedp.ByID),
		chromedp.Click(selectorSubmit, chromedp.BySearch),
		// Give the portal a moment to set session cookies.
		chromedp.Sleep(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("submit otp: %w", err)
	}

	cred := make(session.Credential)
	err = chromedp.Run(otpCtx, chromedp.ActionFunc(func(ctx context.Context) error {
		cookies, err := storage.GetCookies().Do(ctx)
		if err != nil {
			return err
		}
		for _, c := range cookies {
			cred[c.Name] = c.Value
		}
		return nil
	}))
	if err != nil {
		return nil, fmt.Errorf("read cookies: %w", err)
	}

	a.logger.Info().Int("cookies", len(cred)).Msg("Logged in successfully with OTP")
	return cred, nil
}
