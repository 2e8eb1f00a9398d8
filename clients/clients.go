package clients

import (
	"botwatch/clients/discord"
	"botwatch/clients/notifier"
	"botwatch/clients/realtime"
	"botwatch/clients/supabase"
	"botwatch/clients/telegram"
	"botwatch/config"

	"go.uber.org/zap"
)

type Clients struct {
	Logger *zap.Logger

	Discord  *discord.DiscordClient
	Telegram *telegram.TelegramClient
	Notifier notifier.Notifier // Combined notifier for all channels
	Store    *supabase.Client
	Realtime *realtime.Client
}

func NewClients(logger *zap.Logger, cfg *config.Config) *Clients {
	discordClient := discord.NewDiscordClient(logger, cfg)
	telegramClient := telegram.NewTelegramClient(logger, cfg)

	// Create combined notifier for all channels
	multiNotifier := notifier.NewMultiNotifier(discordClient, telegramClient)

	c := &Clients{
		Logger:   logger,
		Discord:  discordClient,
		Telegram: telegramClient,
		Notifier: multiNotifier,
		Store:    supabase.NewClient(logger, cfg),
	}

	// Only create the fill feed when streak tracking is on
	if cfg.FillSync.Enabled {
		c.Realtime = realtime.NewClient(logger, cfg)
	}

	return c
}

// Close releases notifier sessions and the fill feed.
func (c *Clients) Close() error {
	if c.Realtime != nil {
		_ = c.Realtime.Close()
	}
	if c.Notifier != nil {
		return c.Notifier.Close()
	}
	return nil
}
