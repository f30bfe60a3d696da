// Пакет notifier — отправка уведомлений оператору в чат через webhook.
// Ошибки доставки не прерывают основную обработку: уведомление —
// best effort, неудача только логируется.
package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/arturkryukov/pickup-module/internal/config"
)

// Prometheus-метрики уведомлений.
var (
	notificationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pm_notifications_total",
		Help: "Общее количество отправленных уведомлений по виду и результату.",
	}, []string{"kind", "result"})
)

// Виды уведомлений.
const (
	KindError    = "ошибка"
	KindRegister = "регистрация"
	KindTransfer = "передача"
	KindCancel   = "отмена"
	KindDeleted  = "удаление"
)

// DefaultChannel — канал, в который уходят уведомления без явного канала.
const DefaultChannel = "default"

// Notifier — интерфейс отправки уведомлений.
type Notifier interface {
	// Notify отправляет уведомление вида kind с текстом text
	// в канал channel. Пустой channel — канал по умолчанию.
	Notify(ctx context.Context, channel, kind, text string)
}

// WebhookNotifier — отправка уведомлений в чат через webhook.
type WebhookNotifier struct {
	webhooks     map[string]string
	mentionUser  string
	mentionKinds map[string]bool
	httpClient   *http.Client
	logger       *slog.Logger
}

// webhookPayload — тело POST-запроса к webhook чата.
type webhookPayload struct {
	Text string `json:"text"`
}

// New создаёт webhook-нотификатор из конфигурации.
// При пустом PM_NOTIFY_WEBHOOKS уведомления отключены.
func New(cfg *config.Config, logger *slog.Logger) *WebhookNotifier {
	mentionKinds := make(map[string]bool, len(cfg.NotifyMentionKinds))
	for _, k := range cfg.NotifyMentionKinds {
		mentionKinds[k] = true
	}

	return &WebhookNotifier{
		webhooks:     cfg.NotifyWebhooks,
		mentionUser:  cfg.NotifyMentionUser,
		mentionKinds: mentionKinds,
		httpClient:   &http.Client{Timeout: 10 * time.Second},
		logger:       logger.With(slog.String("component", "notifier")),
	}
}

// Notify отправляет уведомление. Ошибки доставки только логируются.
func (n *WebhookNotifier) Notify(ctx context.Context, channel, kind, text string) {
	if len(n.webhooks) == 0 {
		return
	}

	if channel == "" {
		channel = DefaultChannel
	}
	webhookURL, ok := n.webhooks[channel]
	if !ok {
		webhookURL, ok = n.webhooks[DefaultChannel]
		if !ok {
			n.logger.Warn("Webhook для канала не настроен, уведомление пропущено",
				slog.String("channel", channel),
				slog.String("kind", kind),
			)
			notificationsTotal.WithLabelValues(kind, "skipped").Inc()
			return
		}
	}

	message := fmt.Sprintf("【%s】\n%s", kind, text)
	if n.mentionUser != "" && n.mentionKinds[kind] {
		message = "@" + n.mentionUser + "\n" + message
	}

	if err := n.post(ctx, webhookURL, message); err != nil {
		n.logger.Error("Ошибка отправки уведомления",
			slog.String("channel", channel),
			slog.String("kind", kind),
			slog.String("error", err.Error()),
		)
		notificationsTotal.WithLabelValues(kind, "error").Inc()
		return
	}

	notificationsTotal.WithLabelValues(kind, "ok").Inc()
}

// post выполняет POST-запрос к webhook.
func (n *WebhookNotifier) post(ctx context.Context, webhookURL, message string) error {
	data, err := json.Marshal(webhookPayload{Text: message})
	if err != nil {
		return fmt.Errorf("сериализация уведомления: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, webhookURL, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("создание запроса: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("запрос к webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("webhook вернул статус %d: %s", resp.StatusCode, string(body))
	}
	return nil
}
