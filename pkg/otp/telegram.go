// Package otp implements the out-of-band one-time-password channel on top
// of the Telegram bot API: send a notification, then poll the chat for a
// numeric code posted after the login timestamp.
package otp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"
)

// ErrTimeout is returned when no code arrives before the wait deadline.
var ErrTimeout = errors.New("otp wait timed out")

// Config holds the Telegram channel configuration.
type Config struct {
	// APIURL is the Telegram API base URL.
	APIURL string

	// BotToken authenticates the bot.
	BotToken string

	// ChatID is the chat the code is expected from.
	ChatID string

	// PollInterval is the delay between getUpdates polls.
	PollInterval time.Duration

	// Timeout is the hard deadline for WaitForCode.
	Timeout time.Duration
}

// Channel is a Telegram-backed OTP channel.
type Channel struct {
	httpClient   *http.Client
	apiURL       string
	botToken     string
	chatID       int64
	pollInterval time.Duration
	timeout      time.Duration
	logger       zerolog.Logger
}

// NewChannel creates a Telegram OTP channel.
func NewChannel(cfg Config, logger zerolog.Logger) (*Channel, error) {
	if cfg.BotToken == "" {
		return nil, fmt.Errorf("bot token is required")
	}

	chatID, err := strconv.ParseInt(cfg.ChatID, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("parse chat id %q: %w", cfg.ChatID, err)
	}

	if cfg.APIURL == "" {
		cfg.APIURL = "https://api.telegram.org"
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Minute
	}

	return &Channel{
		httpClient:   &http.Client{Timeout: 30 * time.Second},
		apiURL:       cfg.APIURL,
		botToken:     cfg.BotToken,
		chatID:       chatID,
		pollInterval: cfg.PollInterval,
		timeout:      cfg.Timeout,
		logger:       logger,
	}, nil
}

// SetHTTPClient sets a custom HTTP client (for testing).
func (c *Channel) SetHTTPClient(client *http.Client) {
	c.httpClient = client
}

// Notify sends a message to the configured chat.
func (c *Channel) Notify(ctx context.Context, text string) error {
	payload, err := json.Marshal(map[string]any{
		"chat_id": c.chatID,
		"text":    text,
	})
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", c.apiURL, c.botToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send message: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("send message: status %d", resp.StatusCode)
	}

	c.logger.Info().Msg("Message sent to Telegram")
	return nil
}

// update mirrors the subset of the getUpdates response we read.
type update struct {
	Message struct {
		Text string `json:"text"`
		Date int64  `json:"date"`
		Chat struct {
			ID int64 `json:"id"`
		} `json:"chat"`
	} `json:"message"`
}

// PollForCode fetches chat updates once and returns the newest all-digit
// message from the configured chat posted after the given time. Returns
// an empty string when no code is present yet.
func (c *Channel) PollForCode(ctx context.Context, after time.Time) (string, error) {
	url := fmt.Sprintf("%s/bot%s/getUpdates", c.apiURL, c.botToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("get updates: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("get updates: status %d", resp.StatusCode)
	}

	var body struct {
		Result []update `json:"result"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("decode updates: %w", err)
	}

	// Newest first.
	for i := len(body.Result) - 1; i >= 0; i-- {
		msg := body.Result[i].Message
		if msg.Chat.ID != c.chatID || msg.Text == "" {
			continue
		}
		if !time.Unix(msg.Date, 0).After(after) {
			continue
		}
		if isDigits(msg.Text) {
			return msg.Text, nil
		}
	}

	return "", nil
}

// WaitForCode polls the chat until a code arrives or the channel timeout
// elapses. Timeout returns ErrTimeout; the caller treats it as fatal.
func (c *Channel) WaitForCode(ctx context.Context, after time.Time) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	c.logger.Info().Dur("timeout", c.timeout).Msg("Waiting for OTP from Telegram")

	for {
		code, err := c.PollForCode(ctx, after)
		if err != nil {
			c.logger.Warn().Err(err).Msg("Failed to retrieve OTP from Telegram")
		}
		if code != "" {
			c.logger.Info().Msg("OTP received")
			return code, nil
		}

		select {
		case <-ctx.Done():
			c.logger.Error().Dur("timeout", c.timeout).Msg("OTP not received before deadline")
			return "", fmt.Errorf("%w after %s", ErrTimeout, c.timeout)
		case <-time.After(c.pollInterval):
		}
	}
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
