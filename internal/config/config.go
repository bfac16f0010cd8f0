package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds the Bus's full runtime configuration, loaded entirely from
// the environment (the teacher's own convention — no config file format).
type Config struct {
	TelegramToken  string
	AllowedUserIDs []int64
	DiscordToken   string
	DiscordGuildID string
	CloudBridgeURL string

	// ChatID is where the Bus posts spontaneous messages (menus,
	// notifications, fallback "recovered" notices) that are not a reply to
	// an inbound callback — a button press instead replies into the chat
	// the press arrived from. Required for Telegram/Discord direct mode;
	// unused when CloudBridgeURL is set, since the relay owns chat routing.
	ChatID string

	// StateRoot is the root of the spool directory tree (spec §3): one
	// directory each for notifications, approvals, completions,
	// summaries, selections, executions, progress, tracking, dedup,
	// callbacks.
	StateRoot string

	// Poll cadences (spec §4.8): menu/notification and execution scanners
	// run every MenuPollInterval; the progress scanner runs more often.
	MenuPollInterval     time.Duration
	ProgressPollInterval time.Duration

	// IdleCheckInterval is the tick rate of the idle timer; IdleShutdown
	// is how long with no activity before the Bus exits on its own.
	IdleCheckInterval time.Duration
	IdleShutdown      time.Duration

	// CallbackTTL and DedupTTL mirror the hardcoded constants in
	// internal/callback and internal/dedup. Load always sets them to those
	// defaults (no environment variable overrides them), and the callback
	// and dedup packages use their own constants, not these fields.
	CallbackTTL time.Duration
	DedupTTL    time.Duration

	// ClaudeCLITimeout is CLAUDE_CLI_TIMEOUT as seen by the Bus (spec §5).
	// cmd/worker reads that variable itself and does not use this field.
	ClaudeCLITimeout time.Duration

	MetricsAddr string
}

const (
	defaultMenuPoll     = 5 * time.Second
	defaultProgressPoll = 2 * time.Second
	defaultIdleCheck    = 30 * time.Second
	defaultIdleShutdown = 1800 * time.Second
	defaultCallbackTTL  = 5 * time.Minute
	defaultDedupTTL     = 30 * time.Minute
	defaultCLITimeout   = 300 * time.Second
)

// Load reads configuration from environment variables. A Telegram or
// Discord bot token is required unless QUIESCEBUS_CLOUD_URL points this Bus
// at a relay instead of talking to a chat backend directly (spec §4.6,
// "cloud-bridge mode").
func Load() (*Config, error) {
	token := os.Getenv("TELEGRAM_BOT_TOKEN")
	discordToken := os.Getenv("DISCORD_BOT_TOKEN")
	cloudURL := os.Getenv("QUIESCEBUS_CLOUD_URL")
	if token == "" && discordToken == "" && cloudURL == "" {
		return nil, fmt.Errorf("TELEGRAM_BOT_TOKEN, DISCORD_BOT_TOKEN or QUIESCEBUS_CLOUD_URL is required")
	}

	stateRoot := os.Getenv("QUIESCEBUS_STATE_ROOT")
	if stateRoot == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("resolve default state root: %w", err)
		}
		stateRoot = home + "/.quiescebus"
	}

	cfg := &Config{
		TelegramToken:  token,
		AllowedUserIDs: []int64{},
		DiscordToken:   discordToken,
		DiscordGuildID: os.Getenv("DISCORD_GUILD_ID"),
		CloudBridgeURL: cloudURL,
		StateRoot:      stateRoot,
		ChatID:         os.Getenv("QUIESCEBUS_CHAT_ID"),

		MenuPollInterval:     defaultMenuPoll,
		ProgressPollInterval: defaultProgressPoll,
		IdleCheckInterval:    defaultIdleCheck,
		IdleShutdown:         defaultIdleShutdown,
		CallbackTTL:          defaultCallbackTTL,
		DedupTTL:             defaultDedupTTL,
		ClaudeCLITimeout:     defaultCLITimeout,
		MetricsAddr:          os.Getenv("QUIESCEBUS_METRICS_ADDR"),
	}

	if userIDs := os.Getenv("ALLOWED_USER_IDS"); userIDs != "" {
		for _, idStr := range strings.Split(userIDs, ",") {
			id, err := strconv.ParseInt(strings.TrimSpace(idStr), 10, 64)
			if err != nil {
				return nil, fmt.Errorf("invalid user ID %q: %w", idStr, err)
			}
			cfg.AllowedUserIDs = append(cfg.AllowedUserIDs, id)
		}
	}

	if err := overrideDuration(&cfg.IdleShutdown, "QUIESCEBUS_IDLE_SHUTDOWN_SECONDS"); err != nil {
		return nil, err
	}
	if err := overrideDuration(&cfg.ClaudeCLITimeout, "CLAUDE_CLI_TIMEOUT"); err != nil {
		return nil, err
	}

	if cloudURL == "" && cfg.ChatID == "" {
		return nil, fmt.Errorf("QUIESCEBUS_CHAT_ID is required when talking to Telegram/Discord directly")
	}

	return cfg, nil
}

func overrideDuration(field *time.Duration, envVar string) error {
	raw := os.Getenv(envVar)
	if raw == "" {
		return nil
	}
	secs, err := strconv.Atoi(raw)
	if err != nil {
		return fmt.Errorf("invalid %s %q: %w", envVar, raw, err)
	}
	*field = time.Duration(secs) * time.Second
	return nil
}
