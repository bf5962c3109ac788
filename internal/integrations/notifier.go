package integrations

import (
	"context"
	"go.uber.org/zap"
	"lifeboat/logger"
	"net/http"
	"time"
)

type (
	// Notification is a fire-and-forget message about an operation outcome.
	Notification struct {
		Event      string    `json:"event"`
		Subject    string    `json:"subject"`
		Message    string    `json:"message"`
		Recipients []string  `json:"recipients"`
		TenantID   *string   `json:"tenant_id,omitempty"`
		ResourceID string    `json:"resource_id"`
		Success    bool      `json:"success"`
		SentAt     time.Time `json:"sent_at"`
	}

	Notifier interface {
		Notify(ctx context.Context, n Notification) error
	}

	webhookNotifier struct {
		client HttpClient
	}

	logNotifier struct{}
)

const notifyTimeout = 15 * time.Second

// NewWebhookNotifier posts every notification as JSON to url.
func NewWebhookNotifier(url string) Notifier {
	return &webhookNotifier{client: NewHttpClient(url)}
}

func (w *webhookNotifier) Notify(ctx context.Context, n Notification) error {
	return w.client.Do(ctx, http.MethodPost, "", n, nil)
}

// NewLogNotifier only records notifications in the process log.
func NewLogNotifier() Notifier {
	return logNotifier{}
}

func (logNotifier) Notify(_ context.Context, n Notification) error {
	logger.Info("notification",
		zap.String("event", n.Event),
		zap.String("subject", n.Subject),
		zap.Strings("recipients", n.Recipients),
		zap.Bool("success", n.Success))
	return nil
}

// Dispatch sends n on its own goroutine. Failures are logged and dropped.
func Dispatch(notifier Notifier, n Notification) {
	if notifier == nil {
		return
	}
	if n.SentAt.IsZero() {
		n.SentAt = time.Now()
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), notifyTimeout)
		defer cancel()
		if err := notifier.Notify(ctx, n); err != nil {
			logger.Warn("failed to deliver notification",
				zap.String("event", n.Event),
				zap.String("resource_id", n.ResourceID),
				zap.Error(err))
		}
	}()
}
