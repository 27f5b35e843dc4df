// Package alertsink implements the outbound alert transport of spec.md
// §4.9: a Telegram-shaped sink with send_text/send_photo, exponential
// back-off retries, and 429 Retry-After handling. Grounded on the HTTP
// client shape of internal/ai's Client in the teacher repo, and on
// original_source/src/notification/telegram_notifier.py for the wire
// contract (bot token in the URL path, chat_id + text/photo form fields).
package alertsink

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/outletguard/orchestrator/internal/logger"
)

// Config configures a Sink.
type Config struct {
	BotToken             string
	ChatID               string
	Timeout              time.Duration
	MaxRetries           int
	BackoffBaseSeconds   float64
	RetryAfterDefaultSec int
}

// FromEnv reads the bot token and chat id from the named environment
// variables (defaults per spec.md §6: SPG_TELEGRAM_BOT_TOKEN,
// SPG_TELEGRAM_CHAT_ID), applying cfg's other fields as given.
func FromEnv(tokenVar, chatIDVar string, cfg Config) (Config, error) {
	if tokenVar == "" {
		tokenVar = "SPG_TELEGRAM_BOT_TOKEN"
	}
	if chatIDVar == "" {
		chatIDVar = "SPG_TELEGRAM_CHAT_ID"
	}
	token := os.Getenv(tokenVar)
	chatID := os.Getenv(chatIDVar)
	if token == "" || chatID == "" {
		return Config{}, fmt.Errorf("missing %s or %s in environment", tokenVar, chatIDVar)
	}
	cfg.BotToken = token
	cfg.ChatID = chatID
	return cfg, nil
}

// Sink sends text and photo alerts through the Telegram Bot API.
type Sink struct {
	cfg        Config
	httpClient *http.Client
	base       string
	log        *logger.Logger
}

// New constructs a Sink. cfg.MaxRetries and cfg.BackoffBaseSeconds default
// to 3 and 2.0 respectively if unset.
func New(cfg Config, log *logger.Logger) *Sink {
	if cfg.Timeout == 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 3
	}
	if cfg.BackoffBaseSeconds == 0 {
		cfg.BackoffBaseSeconds = 2.0
	}
	if cfg.RetryAfterDefaultSec == 0 {
		cfg.RetryAfterDefaultSec = 30
	}
	return &Sink{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		base:       fmt.Sprintf("https://api.telegram.org/bot%s", cfg.BotToken),
		log:        log,
	}
}

// SendText sends a plain text alert, retrying per spec.md §4.9.
func (s *Sink) SendText(ctx context.Context, text string) error {
	return s.withRetry(ctx, "sendMessage", func(ctx context.Context) (*http.Response, error) {
		form := url.Values{"chat_id": {s.cfg.ChatID}, "text": {text}}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.base+"/sendMessage",
			bytes.NewBufferString(form.Encode()))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		return s.httpClient.Do(req)
	})
}

// SendPhoto sends the JPEG at path with an optional caption.
func (s *Sink) SendPhoto(ctx context.Context, path string, caption string) error {
	return s.withRetry(ctx, "sendPhoto", func(ctx context.Context) (*http.Response, error) {
		body, contentType, err := buildPhotoBody(s.cfg.ChatID, path, caption)
		if err != nil {
			return nil, err
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.base+"/sendPhoto", body)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", contentType)
		return s.httpClient.Do(req)
	})
}

func buildPhotoBody(chatID, path, caption string) (io.Reader, string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, "", fmt.Errorf("open photo: %w", err)
	}
	defer f.Close()

	buf := &bytes.Buffer{}
	w := multipart.NewWriter(buf)
	if err := w.WriteField("chat_id", chatID); err != nil {
		return nil, "", err
	}
	if caption != "" {
		if err := w.WriteField("caption", caption); err != nil {
			return nil, "", err
		}
	}
	part, err := w.CreateFormFile("photo", "alert.jpg")
	if err != nil {
		return nil, "", err
	}
	if _, err := io.Copy(part, f); err != nil {
		return nil, "", err
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return buf, w.FormDataContentType(), nil
}

// withRetry drives one request through an initial attempt plus up to
// MaxRetries retries. A 429
// response is retried using its Retry-After header (or the configured
// default) and does not count toward MaxRetries; any other non-2xx status
// or transport error counts as one attempt, backed off by
// base^attempt seconds.
func (s *Sink) withRetry(ctx context.Context, op string, do func(context.Context) (*http.Response, error)) error {
	var lastErr error

	for attempt := 0; attempt <= s.cfg.MaxRetries; attempt++ {
		resp, err := do(ctx)
		if err != nil {
			lastErr = err
			if s.log != nil {
				s.log.Warn("alert sink request failed", "op", op, "attempt", attempt, "error", err)
			}
			if !sleepFor(ctx, backoffDuration(s.cfg.BackoffBaseSeconds, attempt)) {
				return ctx.Err()
			}
			continue
		}

		if resp.StatusCode == http.StatusTooManyRequests {
			wait := retryAfterWait(resp, s.cfg.RetryAfterDefaultSec)
			resp.Body.Close()
			if s.log != nil {
				s.log.Warn("alert sink rate limited", "op", op, "retry_after_sec", wait.Seconds())
			}
			if !sleepFor(ctx, wait) {
				return ctx.Err()
			}
			attempt-- // rate-limit waits do not count toward max_retries
			continue
		}

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			resp.Body.Close()
			return nil
		}

		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		lastErr = fmt.Errorf("telegram %s returned status %d: %s", op, resp.StatusCode, string(body))
		if s.log != nil {
			s.log.Warn("alert sink non-2xx response", "op", op, "attempt", attempt, "status", resp.StatusCode)
		}
		if !sleepFor(ctx, backoffDuration(s.cfg.BackoffBaseSeconds, attempt)) {
			return ctx.Err()
		}
	}

	return fmt.Errorf("alert sink %s failed after %d retries: %w", op, s.cfg.MaxRetries, lastErr)
}

func backoffDuration(base float64, attempt int) time.Duration {
	seconds := 1.0
	for i := 0; i < attempt; i++ {
		seconds *= base
	}
	return time.Duration(seconds * float64(time.Second))
}

func retryAfterWait(resp *http.Response, defaultSec int) time.Duration {
	if h := resp.Header.Get("Retry-After"); h != "" {
		if secs, err := strconv.Atoi(h); err == nil {
			if secs < 1 {
				secs = 1
			}
			return time.Duration(secs) * time.Second
		}
	}
	return time.Duration(defaultSec) * time.Second
}

func sleepFor(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}
