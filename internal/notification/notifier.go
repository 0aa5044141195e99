package notification

import (
	"context"
	"fmt"
	"net/smtp"
	"time"

	"rcaflow/pkg/httputil"
)

// Notifier 通知器接口
type Notifier interface {
	Send(ctx context.Context, notification *Notification) error
}

// Notification 通知消息
type Notification struct {
	Channel string         // dashboard, email, webhook
	To      string         // 接收者（邮箱/URL）
	Subject string         // 主题
	Body    string         // 内容
	Data    map[string]any // 附加数据
}

// MultiNotifier 多通道通知器
// dashboard 通道只落库不外发；email/webhook 未配置时降级为落库成功
type MultiNotifier struct {
	email   *EmailNotifier
	webhook *WebhookNotifier
}

// NewMultiNotifier 创建多通道通知器
func NewMultiNotifier(emailConfig *EmailConfig, webhookConfig *WebhookConfig) *MultiNotifier {
	return &MultiNotifier{
		email:   NewEmailNotifier(emailConfig),
		webhook: NewWebhookNotifier(webhookConfig),
	}
}

// Send 发送通知
func (m *MultiNotifier) Send(ctx context.Context, notification *Notification) error {
	switch notification.Channel {
	case ChannelDashboard:
		// 看板通知以 notifications 表为准，无需外发
		return nil
	case ChannelEmail:
		if m.email == nil {
			return nil
		}
		return m.email.Send(ctx, notification)
	case ChannelWebhook:
		if m.webhook == nil {
			return nil
		}
		return m.webhook.Send(ctx, notification)
	}
	return fmt.Errorf("不支持的通知通道: %s", notification.Channel)
}

// EmailConfig 邮件配置
type EmailConfig struct {
	SMTPHost string
	SMTPPort int
	Username string
	Password string
	From     string
	FromName string
}

// EmailNotifier 邮件通知器
type EmailNotifier struct {
	config *EmailConfig
}

// NewEmailNotifier 创建邮件通知器
func NewEmailNotifier(config *EmailConfig) *EmailNotifier {
	if config == nil || config.SMTPHost == "" {
		return nil
	}
	return &EmailNotifier{config: config}
}

// Send 发送邮件
func (e *EmailNotifier) Send(ctx context.Context, notification *Notification) error {
	if notification.To == "" {
		return fmt.Errorf("邮件接收者为空")
	}

	// 构建 MIME 邮件
	message := fmt.Sprintf(
		"From: %s <%s>\r\n"+
			"To: %s\r\n"+
			"Subject: %s\r\n"+
			"MIME-Version: 1.0\r\n"+
			"Content-Type: text/plain; charset=UTF-8\r\n"+
			"\r\n"+
			"%s",
		e.config.FromName,
		e.config.From,
		notification.To,
		notification.Subject,
		notification.Body,
	)

	auth := smtp.PlainAuth("", e.config.Username, e.config.Password, e.config.SMTPHost)
	addr := fmt.Sprintf("%s:%d", e.config.SMTPHost, e.config.SMTPPort)

	if err := smtp.SendMail(addr, auth, e.config.From, []string{notification.To}, []byte(message)); err != nil {
		return fmt.Errorf("发送邮件失败: %w", err)
	}

	return nil
}

// WebhookConfig Webhook 配置
type WebhookConfig struct {
	DefaultURL string
	Timeout    time.Duration
	Headers    map[string]string
}

// WebhookNotifier Webhook 通知器
type WebhookNotifier struct {
	config *WebhookConfig
	client *httputil.Client
}

// NewWebhookNotifier 创建 Webhook 通知器
func NewWebhookNotifier(config *WebhookConfig) *WebhookNotifier {
	if config == nil || config.DefaultURL == "" {
		return nil
	}
	if config.Timeout <= 0 {
		config.Timeout = 10 * time.Second
	}

	headers := map[string]string{"User-Agent": "RCAFlow-Notifier/1.0"}
	for k, v := range config.Headers {
		headers[k] = v
	}

	return &WebhookNotifier{
		config: config,
		client: httputil.NewClient(
			httputil.WithTimeout(config.Timeout),
			httputil.WithHeaders(headers),
			httputil.WithRetries(2),
		),
	}
}

// Send 发送 Webhook
func (w *WebhookNotifier) Send(ctx context.Context, notification *Notification) error {
	url := notification.To
	if url == "" {
		url = w.config.DefaultURL
	}

	payload := map[string]any{
		"subject":   notification.Subject,
		"body":      notification.Body,
		"data":      notification.Data,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}

	if err := w.client.PostJSON(ctx, url, payload); err != nil {
		return fmt.Errorf("发送 Webhook 失败: %w", err)
	}

	return nil
}
