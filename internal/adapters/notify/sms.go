package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"medbrief/internal/domain"
	"medbrief/internal/infra/metrics"
)

const smsTextLimit = 480

// SMSConfig задаёт параметры HTTP-шлюза SMS.
type SMSConfig struct {
	URL      string
	Token    string
	Sender   string
	Timeout  time.Duration
	LinkBase string
	Location *time.Location
}

// SMS отправляет короткое уведомление через HTTP-шлюз с JSON API.
type SMS struct {
	cfg    SMSConfig
	client *http.Client
}

var _ domain.ChannelTransport = (*SMS)(nil)

// NewSMS создаёт SMS-транспорт.
func NewSMS(cfg SMSConfig) *SMS {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &SMS{cfg: cfg, client: &http.Client{Timeout: cfg.Timeout}}
}

// Kind реализует domain.ChannelTransport.
func (s *SMS) Kind() domain.ChannelKind { return domain.ChannelSMS }

type smsRequest struct {
	Sender string   `json:"sender"`
	To     []string `json:"to"`
	Text   string   `json:"text"`
}

// Send реализует domain.ChannelTransport.
func (s *SMS) Send(ctx context.Context, d domain.Delivery) error {
	if s.cfg.URL == "" {
		return errors.New("sms: SMS_GATEWAY_URL не задан")
	}
	if len(d.Recipients) == 0 {
		return errors.New("sms: нет получателей")
	}
	text := clipRunes(Compose(d, s.cfg.LinkBase, s.cfg.Location).Body, smsTextLimit)
	payload, err := json.Marshal(smsRequest{Sender: s.cfg.Sender, To: d.Recipients, Text: text})
	if err != nil {
		return fmt.Errorf("sms: marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.URL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("sms: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+s.cfg.Token)
	}

	start := time.Now()
	resp, err := s.client.Do(req)
	if err != nil {
		metrics.ObserveNetworkRequest("sms", "send", req.URL.Host, start, err)
		return domain.Transient(fmt.Errorf("sms: %w", err))
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		err := fmt.Errorf("sms: status %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
		metrics.ObserveNetworkRequest("sms", "send", req.URL.Host, start, err)
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			return domain.Transient(err)
		}
		return err
	}
	metrics.ObserveNetworkRequest("sms", "send", req.URL.Host, start, nil)
	return nil
}

func clipRunes(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit-1]) + "…"
}
