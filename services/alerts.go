package services

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"exoskeleton/clock"
	"exoskeleton/models"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
)

// AlertThrottle suppresses repeats of the same alert within this window.
const AlertThrottle = 15 * time.Second

// AlertSender delivers one formatted alert.
type AlertSender interface {
	Send(text string) error
}

// TelegramSender sends alerts to one Telegram chat.
type TelegramSender struct {
	bot    *tgbotapi.BotAPI
	chatID int64
	logger *zap.Logger
}

// NewTelegramSender authorizes the bot, retrying the connection test a few
// times.
func NewTelegramSender(token, chatID string, logger *zap.Logger) (*TelegramSender, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("error creating telegram bot: %w", err)
	}

	id, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("error parsing chat ID: %w", err)
	}

	logger.Info("Telegram bot authorized", zap.String("username", bot.Self.UserName))

	ts := &TelegramSender{bot: bot, chatID: id, logger: logger}
	if err := ts.testConnection(); err != nil {
		return nil, fmt.Errorf("telegram connection test failed: %w", err)
	}
	return ts, nil
}

func (ts *TelegramSender) testConnection() error {
	maxRetries := 3

	for attempt := 1; attempt <= maxRetries; attempt++ {
		_, err := ts.bot.GetMe()
		if err == nil {
			return nil
		}

		ts.logger.Warn("Telegram connection failed",
			zap.Int("attempt", attempt),
			zap.Int("max_retries", maxRetries),
			zap.Error(err))

		if attempt < maxRetries {
			time.Sleep(time.Duration(attempt) * time.Second)
		}
	}

	return fmt.Errorf("failed to connect to Telegram after %d attempts", maxRetries)
}

// Send posts text to the configured chat as HTML.
func (ts *TelegramSender) Send(text string) error {
	msg := tgbotapi.NewMessage(ts.chatID, text)
	msg.ParseMode = "HTML"
	msg.DisableWebPagePreview = true

	if _, err := ts.bot.Send(msg); err != nil {
		return fmt.Errorf("error sending telegram message: %w", err)
	}
	return nil
}

// AlertService forwards ERROR statuses and restart escalations to an
// AlertSender from its own goroutine, so the control loop never waits on
// the network.
type AlertService struct {
	module string
	sender AlertSender
	clock  clock.Clock
	logger *zap.Logger
	queue  chan string

	mu             sync.Mutex
	lastAlertTimes map[string]time.Time
}

// NewAlertService creates an alert service for module.
func NewAlertService(module string, sender AlertSender, clk clock.Clock, logger *zap.Logger) *AlertService {
	return &AlertService{
		module:         module,
		sender:         sender,
		clock:          clk,
		logger:         logger,
		queue:          make(chan string, 16),
		lastAlertTimes: make(map[string]time.Time),
	}
}

// OnStatus is a StatusReporter listener. Only ERROR statuses alert.
func (a *AlertService) OnStatus(msg models.StatusMessage) {
	if msg.State != models.StatusError {
		return
	}
	if a.shouldThrottle(msg.Message) {
		a.logger.Debug("Throttling alert", zap.String("message", msg.Message))
		return
	}

	select {
	case a.queue <- a.formatStatusAlert(msg):
	default:
		a.logger.Warn("Alert queue full, alert dropped", zap.String("message", msg.Message))
	}
}

// OnRestart is a restart hook. The process exits right after, so the alert
// is sent synchronously.
func (a *AlertService) OnRestart(reason string) {
	var sb strings.Builder
	sb.WriteString("🔄 <b>UNIT RESTARTING</b>\n\n")
	sb.WriteString(fmt.Sprintf("📱 <b>Module:</b> %s\n", a.module))
	sb.WriteString(fmt.Sprintf("🕐 <b>Time:</b> %s\n", a.clock.Now().Format("2006-01-02 15:04:05")))
	sb.WriteString(fmt.Sprintf("⚠️ <b>Reason:</b> %s", reason))

	if err := a.sender.Send(sb.String()); err != nil {
		a.logger.Error("Failed to send restart alert", zap.Error(err))
	}
}

// Run delivers queued alerts until ctx is done.
func (a *AlertService) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case text := <-a.queue:
			if err := a.sender.Send(text); err != nil {
				a.logger.Error("Failed to send alert", zap.Error(err))
				continue
			}
			a.logger.Info("Sent alert", zap.String("module", a.module))
		}
	}
}

// shouldThrottle reports whether the same alert went out within
// AlertThrottle, and records it otherwise.
func (a *AlertService) shouldThrottle(key string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	now := a.clock.Now()
	if last, ok := a.lastAlertTimes[key]; ok && now.Sub(last) < AlertThrottle {
		return true
	}
	a.lastAlertTimes[key] = now
	return false
}

func (a *AlertService) formatStatusAlert(msg models.StatusMessage) string {
	var sb strings.Builder
	sb.WriteString("🚨 <b>ACTUATION ERROR</b> 🚨\n\n")
	sb.WriteString(fmt.Sprintf("📱 <b>Module:</b> %s\n", msg.Module))
	sb.WriteString(fmt.Sprintf("🕐 <b>Uptime:</b> %s\n", time.Duration(msg.Timestamp)*time.Millisecond))
	sb.WriteString(fmt.Sprintf("⚠️ <b>Error:</b> %s\n\n", msg.Message))
	sb.WriteString("🔴 <b>Status:</b> ATTENTION REQUIRED")
	return sb.String()
}
