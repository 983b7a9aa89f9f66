package services

import (
	"errors"
	"fmt"

	"github.com/codeak/portal/internal/config"
	"github.com/codeak/portal/internal/metrics"
	"github.com/codeak/portal/internal/models"
	"github.com/codeak/portal/pkg/logger"
	"gopkg.in/telebot.v4"
	"gorm.io/gorm"
)

var ErrReportNotFound = errors.New("report not found for replied message")

// Sender is the part of *telebot.Bot the relay needs.
type Sender interface {
	Send(to telebot.Recipient, what interface{}, opts ...interface{}) (*telebot.Message, error)
}

// SupportRelay forwards support reports to the admin chat and resolves them
// when an admin replies to the forwarded message.
type SupportRelay struct {
	DB        *gorm.DB
	sender    Sender
	bot       *telebot.Bot
	adminChat telebot.ChatID
}

// NewSupportRelay returns a disabled relay when no bot token is configured.
func NewSupportRelay(db *gorm.DB, cfg config.TelegramConfig) (*SupportRelay, error) {
	if cfg.Token == "" {
		logger.Warn("support_relay_disabled", map[string]interface{}{
			"reason": "telegram token not configured",
		})
		return &SupportRelay{DB: db}, nil
	}

	bot, err := telebot.NewBot(telebot.Settings{
		Token: cfg.Token,
		Poller: &telebot.LongPoller{
			Timeout:        cfg.PollTimeout,
			AllowedUpdates: []string{"message"},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("creating telegram bot: %w", err)
	}

	relay := NewSupportRelayWithSender(db, bot, cfg.AdminChatID)
	relay.bot = bot
	bot.Handle(telebot.OnText, relay.onText)
	return relay, nil
}

func NewSupportRelayWithSender(db *gorm.DB, sender Sender, adminChatID int64) *SupportRelay {
	return &SupportRelay{DB: db, sender: sender, adminChat: telebot.ChatID(adminChatID)}
}

func (r *SupportRelay) Enabled() bool {
	return r.sender != nil
}

// Start blocks polling updates until Stop is called. No-op when disabled.
func (r *SupportRelay) Start() {
	if r.bot == nil {
		return
	}
	logger.Info("support_relay_started", nil)
	r.bot.Start()
}

func (r *SupportRelay) Stop() {
	if r.bot == nil {
		return
	}
	r.bot.Stop()
	logger.Info("support_relay_stopped", nil)
}

// Forward posts the report to the admin chat and stores the message id used
// to match the admin's reply.
func (r *SupportRelay) Forward(report *models.Report, user *models.User) error {
	if !r.Enabled() {
		metrics.ReportsTotal.WithLabelValues("stored").Inc()
		logger.WarnWithUser(user.ID.String(), "report_not_relayed", map[string]interface{}{
			"report_id": report.ID.String(),
			"reason":    "support relay disabled",
		})
		return nil
	}

	text := fmt.Sprintf("New report from %s (%s):\n\n%s", user.Login, user.Email, report.Message)
	msg, err := r.sender.Send(r.adminChat, text)
	if err != nil {
		metrics.ReportsTotal.WithLabelValues("relay_failed").Inc()
		return fmt.Errorf("sending report to admin chat: %w", err)
	}

	messageID := int64(msg.ID)
	if err := r.DB.Model(&models.Report{}).Where("id = ?", report.ID).Update("relay_message_id", messageID).Error; err != nil {
		return err
	}
	report.RelayMessageID = &messageID
	metrics.ReportsTotal.WithLabelValues("relayed").Inc()
	return nil
}

// HandleReply resolves the report whose forwarded message was replied to.
func (r *SupportRelay) HandleReply(replyToID int64, text string) error {
	var report models.Report
	if err := r.DB.First(&report, "relay_message_id = ?", replyToID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			r.notifyAdmins("Report not found for this message.")
			return ErrReportNotFound
		}
		return err
	}

	if err := r.DB.Model(&report).Updates(map[string]interface{}{
		"status":         models.ReportStatusResolved,
		"admin_response": text,
	}).Error; err != nil {
		return err
	}
	metrics.ReportsTotal.WithLabelValues("resolved").Inc()

	var user models.User
	if err := r.DB.Select("id", "email").First(&user, "id = ?", report.UserID).Error; err != nil {
		logger.Warn("report_user_missing", map[string]interface{}{
			"report_id": report.ID.String(),
		})
		return nil
	}
	r.notifyAdmins(fmt.Sprintf("Reply to %s saved:\n\n%q", user.Email, text))
	return nil
}

func (r *SupportRelay) onText(c telebot.Context) error {
	msg := c.Message()
	if msg == nil || msg.ReplyTo == nil {
		return nil
	}
	if c.Chat() == nil || telebot.ChatID(c.Chat().ID) != r.adminChat {
		return nil
	}

	if err := r.HandleReply(int64(msg.ReplyTo.ID), msg.Text); err != nil && !errors.Is(err, ErrReportNotFound) {
		logger.Error("report_reply_failed", err, map[string]interface{}{
			"reply_to": msg.ReplyTo.ID,
		})
	}
	return nil
}

func (r *SupportRelay) notifyAdmins(text string) {
	if !r.Enabled() {
		return
	}
	if _, err := r.sender.Send(r.adminChat, text); err != nil {
		logger.Error("admin_chat_notify_failed", err, nil)
	}
}
