// Package alert implements the fire-and-forget delivery of Alert
// contracts to zero or more configured sinks. The
// always-on structured-log sink is always present: an operator
// should never run this service with zero visibility into emitted alerts.
package alert

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"

	"github.com/ONEONUORA/stellar-insights/internal/domain/entities"
	"github.com/ONEONUORA/stellar-insights/pkg/logger"
	"github.com/ONEONUORA/stellar-insights/pkg/metrics"
)

// Config configures the optional delivery sinks. Leaving a URL/key empty
// disables that sink; the structured-log sink is always active.
type Config struct {
	WebhookURL    string
	WebhookSecret string

	EmailAPIKey string
	EmailFrom   string
	EmailTo     string
}

// Dispatcher fans an Alert out to every configured sink without blocking
// the caller that emitted it.
type Dispatcher struct {
	cfg    Config
	http   *http.Client
	logger *logger.Logger
}

// New builds a Dispatcher.
func New(cfg Config, log *logger.Logger) *Dispatcher {
	return &Dispatcher{
		cfg:    cfg,
		http:   &http.Client{Timeout: 10 * time.Second},
		logger: log,
	}
}

// Emit logs the alert immediately and asynchronously delivers it to every
// configured sink. Delivery failures are logged, never returned or
// retried: an alerting outage must not perturb the reconciliation loop
// that triggered it.
func (d *Dispatcher) Emit(alert entities.Alert) {
	metrics.AlertsEmittedTotal.WithLabelValues(string(alert.Kind)).Inc()
	d.logger.Warn("alert emitted", "kind", alert.Kind, "severity", alert.Severity, "epoch", alert.Epoch, "message", alert.ErrorMessage)

	if d.cfg.WebhookURL != "" {
		go d.deliverWebhook(context.Background(), alert)
	}
	if d.cfg.EmailAPIKey != "" && d.cfg.EmailTo != "" {
		go d.deliverEmail(alert)
	}
}

func (d *Dispatcher) deliverWebhook(ctx context.Context, alert entities.Alert) {
	body, err := json.Marshal(alert)
	if err != nil {
		d.logger.Error("failed to marshal webhook alert payload", "error", err)
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.cfg.WebhookURL, bytes.NewReader(body))
	if err != nil {
		d.logger.Error("failed to build webhook alert request", "error", err)
		return
	}
	req.Header.Set("Content-Type", "application/json")

	if d.cfg.WebhookSecret != "" {
		mac := hmac.New(sha256.New, []byte(d.cfg.WebhookSecret))
		mac.Write(body)
		req.Header.Set("X-Webhook-Signature", hex.EncodeToString(mac.Sum(nil)))
	}

	resp, err := d.http.Do(req)
	if err != nil {
		d.logger.Error("webhook alert delivery failed", "error", err)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		d.logger.Error("webhook alert sink returned error status", "status", resp.StatusCode, "kind", alert.Kind)
		return
	}
	d.logger.Info("webhook alert delivered", "kind", alert.Kind)
}

func (d *Dispatcher) deliverEmail(alert entities.Alert) {
	subject := fmt.Sprintf("[%s] %s", alert.Severity, alert.Kind)
	body := fmt.Sprintf("epoch=%d expected=%s actual=%s message=%s", alert.Epoch, alert.ExpectedHash, alert.ActualHash, alert.ErrorMessage)

	from := mail.NewEmail("stellar-insights", d.cfg.EmailFrom)
	to := mail.NewEmail("", d.cfg.EmailTo)
	msg := mail.NewSingleEmail(from, subject, to, body, body)

	client := sendgrid.NewSendClient(d.cfg.EmailAPIKey)
	resp, err := client.Send(msg)
	if err != nil {
		d.logger.Error("email alert delivery failed", "error", err)
		return
	}
	if resp.StatusCode >= 400 {
		d.logger.Error("email alert sink returned error status", "status", resp.StatusCode, "kind", alert.Kind)
		return
	}
	d.logger.Info("email alert delivered", "kind", alert.Kind)
}
