package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/edumarket/chatsync"
)

// app bundles what a command needs to talk to the chat API.
type app struct {
	cfg     *Config
	tokens  *chatsync.PebbleTokenStore
	client  *chatsync.Client
	session *chatsync.Session
}

// openApp loads the config, opens the token store and builds a session.
// With requireToken set it fails early when nobody is signed in.
func openApp(ctx context.Context, requireToken bool) (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if cfg.Default.BaseURL == "" {
		return nil, errors.New("no base URL. Run 'chatsync config set default.base_url <url>' first")
	}
	interval, err := cfg.pollInterval()
	if err != nil {
		return nil, err
	}

	dir, err := tokenDir(cfg)
	if err != nil {
		return nil, err
	}
	tokens, err := chatsync.OpenPebbleTokenStore(dir)
	if err != nil {
		return nil, err
	}
	if requireToken {
		tok, err := tokens.Token(ctx)
		if err != nil {
			tokens.Close()
			return nil, err
		}
		if tok == "" {
			tokens.Close()
			return nil, errors.New("not signed in. Run 'chatsync login <token>' first")
		}
	}

	logger := chatsync.NewLogger(cfg.Default.LogLevel, os.Stderr)
	client := chatsync.NewClient(cfg.Default.BaseURL, tokens,
		chatsync.WithClientLogger(logger),
		chatsync.WithRateLimit(cfg.Default.RateLimit, 2),
	)
	session := chatsync.NewSession(client,
		chatsync.WithLogger(logger),
		chatsync.WithPollInterval(interval),
	)
	return &app{cfg: cfg, tokens: tokens, client: client, session: session}, nil
}

func (a *app) Close() {
	a.session.Close()
	a.tokens.Close()
}

// apiError turns a library error into something a user can act on.
func apiError(err error) error {
	if errors.Is(err, chatsync.ErrUnauthorized) {
		return errors.New("session expired. Run 'chatsync login <token>' to sign in again")
	}
	return fmt.Errorf("request failed: %w", err)
}

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid id %q", s)
	}
	return id, nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func relTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return humanize.Time(t)
}

// maskToken shows the first and last 4 characters of a token.
func maskToken(tok string) string {
	if len(tok) <= 8 {
		return "****"
	}
	return tok[:4] + "..." + tok[len(tok)-4:]
}

func valueOrDefault(val, def string) string {
	if val == "" {
		return def
	}
	return val
}

func counterpartyName(c chatsync.ConversationSummary) string {
	if c.Counterparty == nil || c.Counterparty.Name == "" {
		return fmt.Sprintf("conversation %d", c.ID)
	}
	return c.Counterparty.Name
}
