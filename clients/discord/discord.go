package discord

import (
	"fmt"
	"strings"
	"time"

	"botwatch/clients/notifier"
	"botwatch/config"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
)

const (
	colorGreen  = 0x2ECC71
	colorYellow = 0xF1C40F
	colorRed    = 0xE74C3C
	colorOrange = 0xE67E22
)

// discordSender is the slice of *discordgo.Session the client uses.
type discordSender interface {
	ChannelMessageSendEmbed(channelID string, embed *discordgo.MessageEmbed, options ...discordgo.RequestOption) (*discordgo.Message, error)
	Close() error
}

// DiscordClient sends alerts to Discord.
// Implements notifier.Notifier interface.
type DiscordClient struct {
	logger    *zap.Logger
	session   discordSender
	channelID string
	isProd    bool
}

func NewDiscordClient(logger *zap.Logger, cfg *config.Config) *DiscordClient {
	if logger == nil {
		logger = zap.NewNop()
	}

	channelID := cfg.Discord.BetaChannelID
	if cfg.IsProd {
		channelID = cfg.Discord.ProdChannelID
	}
	dc := &DiscordClient{
		logger:    logger,
		channelID: channelID,
		isProd:    cfg.IsProd,
	}

	token := cfg.Discord.BotToken
	if token == "" {
		logger.Warn("DISCORD_BOT_TOKEN not set, Discord alerts disabled")
		return dc
	}

	session, err := discordgo.New("Bot " + token)
	if err != nil {
		logger.Error("failed to create discord session", zap.Error(err))
		return dc
	}
	dc.session = session

	logger.Info("discord bot initialized",
		zap.Bool("isProd", cfg.IsProd),
		zap.String("channelID", channelID),
	)
	return dc
}

// Enabled reports whether alerts will actually be delivered.
func (dc *DiscordClient) Enabled() bool {
	return dc.session != nil && dc.channelID != ""
}

// SendHealthAlert posts an embed coloured by the new status.
func (dc *DiscordClient) SendHealthAlert(alert notifier.HealthAlert) {
	if !dc.Enabled() {
		dc.logger.Debug("discord disabled, skipping health alert", zap.String("bot", alert.BotID))
		return
	}
	if _, err := dc.session.ChannelMessageSendEmbed(dc.channelID, buildHealthEmbed(alert)); err != nil {
		dc.logger.Error("failed to send discord health alert", zap.Error(err))
		return
	}
	dc.logger.Info("sent discord health alert",
		zap.String("bot", alert.BotID),
		zap.String("status", alert.Current),
	)
}

// SendStreakAlert posts a fill-streak embed.
func (dc *DiscordClient) SendStreakAlert(alert notifier.StreakAlert) {
	if !dc.Enabled() {
		dc.logger.Debug("discord disabled, skipping streak alert", zap.String("market", alert.MarketID))
		return
	}
	if _, err := dc.session.ChannelMessageSendEmbed(dc.channelID, buildStreakEmbed(alert)); err != nil {
		dc.logger.Error("failed to send discord streak alert", zap.Error(err))
		return
	}
	dc.logger.Info("sent discord streak alert",
		zap.String("market", alert.MarketID),
		zap.String("side", alert.Side),
	)
}

func statusColor(status string) int {
	switch strings.ToUpper(status) {
	case "RED":
		return colorRed
	case "YELLOW":
		return colorYellow
	default:
		return colorGreen
	}
}

func statusEmoji(status string) string {
	switch strings.ToUpper(status) {
	case "RED":
		return "🔴"
	case "YELLOW":
		return "🟡"
	default:
		return "🟢"
	}
}

func buildHealthEmbed(alert notifier.HealthAlert) *discordgo.MessageEmbed {
	title := fmt.Sprintf("%s %s is %s", statusEmoji(alert.Current), alert.BotID, alert.Current)
	if alert.IsRecovery() {
		title = fmt.Sprintf("%s %s recovered", statusEmoji(alert.Current), alert.BotID)
	}

	transition := alert.Current
	if alert.Previous != "" {
		transition = alert.Previous + " → " + alert.Current
	}

	description := "All checks passing."
	if len(alert.Reasons) > 0 {
		lines := make([]string, len(alert.Reasons))
		for i, r := range alert.Reasons {
			lines[i] = "• " + r
		}
		description = strings.Join(lines, "\n")
	}

	skew := fmt.Sprintf("%.1f%%", alert.WorstSkewPct)
	if alert.WorstSkewMarket != "" {
		skew += "\n" + alert.WorstSkewMarket
	}

	fields := []*discordgo.MessageEmbedField{
		{Name: "Status", Value: transition, Inline: true},
		{Name: "Max / side", Value: fmt.Sprintf("%.0f", alert.MaxSharesPerSide), Inline: true},
		{Name: "Max / market", Value: fmt.Sprintf("%.0f", alert.MaxTotalShares), Inline: true},
		{Name: "Emergencies / hr", Value: fmt.Sprintf("%.1f", alert.EmergencyPerHour), Inline: true},
		{Name: "Order failures", Value: fmt.Sprintf("%.1f%%", alert.OrderFailureRate), Inline: true},
		{Name: "Worst skew", Value: skew, Inline: true},
	}
	if !alert.WindowStart.IsZero() {
		fields = append(fields, &discordgo.MessageEmbedField{
			Name:  "Window",
			Value: fmt.Sprintf("%s – %s UTC", alert.WindowStart.UTC().Format("Jan 2 15:04"), alert.WindowEnd.UTC().Format("15:04")),
		})
	}

	ts := alert.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	return &discordgo.MessageEmbed{
		Title:       title,
		Description: description,
		Color:       statusColor(alert.Current),
		Fields:      fields,
		Footer:      &discordgo.MessageEmbedFooter{Text: "botwatch * " + ts.UTC().Format("1/2/2006, 15:04:05 UTC")},
		Timestamp:   ts.Format(time.RFC3339),
	}
}

func buildStreakEmbed(alert notifier.StreakAlert) *discordgo.MessageEmbed {
	ts := alert.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	return &discordgo.MessageEmbed{
		Title:       fmt.Sprintf("⚠️ One-sided fills: %s paused", alert.Side),
		Description: alert.Reason,
		Color:       colorOrange,
		Fields: []*discordgo.MessageEmbedField{
			{Name: "Market", Value: alert.MarketID, Inline: true},
			{Name: "Side", Value: alert.Side, Inline: true},
			{Name: "Streak", Value: fmt.Sprintf("%d (max %d)", alert.Streak, alert.MaxStreak), Inline: true},
		},
		Footer:    &discordgo.MessageEmbedFooter{Text: "botwatch * " + ts.UTC().Format("1/2/2006, 15:04:05 UTC")},
		Timestamp: ts.Format(time.RFC3339),
	}
}

// Close closes the Discord session.
func (dc *DiscordClient) Close() error {
	if dc.session != nil {
		return dc.session.Close()
	}
	return nil
}
