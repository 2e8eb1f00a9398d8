package telegram

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"botwatch/clients/notifier"
	"botwatch/config"

	"go.uber.org/zap"
)

const defaultAPIBase = "https://api.telegram.org"

// TelegramClient sends alerts to Telegram.
// Implements notifier.Notifier interface.
type TelegramClient struct {
	logger   *zap.Logger
	botToken string
	chatID   string
	isProd   bool
	apiBase  string
	client   *http.Client
}

func NewTelegramClient(logger *zap.Logger, cfg *config.Config) *TelegramClient {
	if logger == nil {
		logger = zap.NewNop()
	}

	chatID := cfg.Telegram.BetaChatID
	if cfg.IsProd {
		chatID = cfg.Telegram.ProdChatID
	}
	tc := &TelegramClient{
		logger:  logger,
		chatID:  chatID,
		isProd:  cfg.IsProd,
		apiBase: defaultAPIBase,
		client:  &http.Client{Timeout: 10 * time.Second},
	}

	if cfg.Telegram.BotToken == "" {
		logger.Warn("TELEGRAM_BOT_TOKEN not set, Telegram alerts disabled")
		return tc
	}
	tc.botToken = cfg.Telegram.BotToken

	logger.Info("telegram bot initialized",
		zap.Bool("isProd", cfg.IsProd),
		zap.String("chatID", chatID),
	)
	return tc
}

// Enabled reports whether alerts will actually be delivered.
func (tc *TelegramClient) Enabled() bool {
	return tc.botToken != "" && tc.chatID != ""
}

// SendHealthAlert sends a health status change notification.
func (tc *TelegramClient) SendHealthAlert(alert notifier.HealthAlert) {
	if !tc.Enabled() {
		tc.logger.Debug("telegram not configured, skipping health alert", zap.String("bot", alert.BotID))
		return
	}
	if err := tc.sendMessage(buildHealthMessage(alert)); err != nil {
		tc.logger.Error("failed to send telegram health alert", zap.Error(err))
		return
	}
	tc.logger.Info("sent telegram health alert",
		zap.String("bot", alert.BotID),
		zap.String("status", alert.Current),
	)
}

// SendStreakAlert sends a one-sided fill streak notification.
func (tc *TelegramClient) SendStreakAlert(alert notifier.StreakAlert) {
	if !tc.Enabled() {
		tc.logger.Debug("telegram not configured, skipping streak alert", zap.String("market", alert.MarketID))
		return
	}
	if err := tc.sendMessage(buildStreakMessage(alert)); err != nil {
		tc.logger.Error("failed to send telegram streak alert", zap.Error(err))
		return
	}
	tc.logger.Info("sent telegram streak alert",
		zap.String("market", alert.MarketID),
		zap.String("side", alert.Side),
	)
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

func buildHealthMessage(alert notifier.HealthAlert) string {
	var sb strings.Builder

	title := fmt.Sprintf("%s %s is %s", statusEmoji(alert.Current), alert.BotID, alert.Current)
	if alert.IsRecovery() {
		title = fmt.Sprintf("%s %s recovered", statusEmoji(alert.Current), alert.BotID)
	}
	sb.WriteString(fmt.Sprintf("*%s*\n\n", escapeMarkdown(title)))

	if alert.Previous != "" {
		sb.WriteString(fmt.Sprintf("*Status:* %s → %s\n", alert.Previous, alert.Current))
	} else {
		sb.WriteString(fmt.Sprintf("*Status:* %s\n", alert.Current))
	}

	if len(alert.Reasons) > 0 {
		sb.WriteString("\n*Reasons:*\n")
		for _, r := range alert.Reasons {
			sb.WriteString("• " + escapeMarkdown(r) + "\n")
		}
	}

	sb.WriteString("\n")
	sb.WriteString(fmt.Sprintf("*Max/side:* %.0f  *Max/market:* %.0f\n", alert.MaxSharesPerSide, alert.MaxTotalShares))
	sb.WriteString(fmt.Sprintf("*Emergencies/hr:* %.1f  *Order failures:* %.1f%%\n", alert.EmergencyPerHour, alert.OrderFailureRate))
	skew := fmt.Sprintf("%.1f%%", alert.WorstSkewPct)
	if alert.WorstSkewMarket != "" {
		skew += " (" + escapeMarkdown(alert.WorstSkewMarket) + ")"
	}
	sb.WriteString("*Worst skew:* " + skew + "\n")

	ts := alert.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	sb.WriteString(fmt.Sprintf("\n_%s UTC_", ts.UTC().Format("2006-01-02 15:04:05")))
	return sb.String()
}

func buildStreakMessage(alert notifier.StreakAlert) string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("*⚠️ One-sided fills: %s paused*\n\n", alert.Side))
	sb.WriteString("*Market:* " + escapeMarkdown(alert.MarketID) + "\n")
	sb.WriteString(fmt.Sprintf("*Streak:* %d (max %d)\n", alert.Streak, alert.MaxStreak))
	if alert.Reason != "" {
		sb.WriteString("\n" + escapeMarkdown(alert.Reason) + "\n")
	}
	return sb.String()
}

func (tc *TelegramClient) sendMessage(text string) error {
	url := fmt.Sprintf("%s/bot%s/sendMessage", tc.apiBase, tc.botToken)

	payload := map[string]interface{}{
		"chat_id":                  tc.chatID,
		"text":                     text,
		"parse_mode":               "Markdown",
		"disable_web_page_preview": true,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	resp, err := tc.client.Post(url, "application/json", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("telegram API returned status %d", resp.StatusCode)
	}
	return nil
}

// Close cleans up resources. Implements notifier.Notifier interface.
func (tc *TelegramClient) Close() error {
	return nil
}

// escapeMarkdown escapes special characters for Telegram Markdown.
func escapeMarkdown(s string) string {
	replacer := strings.NewReplacer(
		"_", "\\_",
		"*", "\\*",
		"[", "\\[",
		"]", "\\]",
		"`", "\\`",
	)
	return replacer.Replace(s)
}
