package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"medbrief/internal/domain"
	"medbrief/internal/infra/queue"
)

// DialFunc открывает новое подключение к брокеру.
type DialFunc func() (queue.Publisher, error)

// AppPush публикует событие о готовом отчёте в RabbitMQ; мобильный бэкенд рассылает push.
// Подключение создаётся лениво и пересоздаётся после ошибки публикации.
type AppPush struct {
	dial       DialFunc
	routingKey string
	linkBase   string

	mu  sync.Mutex
	pub queue.Publisher
}

var _ domain.ChannelTransport = (*AppPush)(nil)

// NewAppPush создаёт транспорт app.
func NewAppPush(dial DialFunc, routingKey, linkBase string) *AppPush {
	if routingKey == "" {
		routingKey = "report.ready"
	}
	return &AppPush{dial: dial, routingKey: routingKey, linkBase: linkBase}
}

// Kind реализует domain.ChannelTransport.
func (a *AppPush) Kind() domain.ChannelKind { return domain.ChannelApp }

// AppEvent описывает тело сообщения в очереди.
type AppEvent struct {
	TopicName   string    `json:"topic_name"`
	Recipients  []string  `json:"recipients"`
	Filename    string    `json:"filename"`
	Link        string    `json:"link,omitempty"`
	DiffSummary *string   `json:"diff_summary,omitempty"`
	GeneratedAt time.Time `json:"generated_at"`
}

// Send реализует domain.ChannelTransport.
func (a *AppPush) Send(ctx context.Context, d domain.Delivery) error {
	if len(d.Recipients) == 0 {
		return errors.New("app: нет получателей")
	}
	body, err := json.Marshal(AppEvent{
		TopicName:   d.TopicName,
		Recipients:  d.Recipients,
		Filename:    d.Artifact.Filename,
		Link:        Link(a.linkBase, d.Artifact.Filename),
		DiffSummary: d.DiffSummary,
		GeneratedAt: d.GeneratedAt,
	})
	if err != nil {
		return fmt.Errorf("app: marshal event: %w", err)
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.pub == nil {
		pub, err := a.dial()
		if err != nil {
			return domain.Transient(fmt.Errorf("app: %w", err))
		}
		a.pub = pub
	}
	err = a.pub.Publish(ctx, a.routingKey, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    uuid.NewString(),
		Timestamp:    time.Now().UTC(),
		Body:         body,
	})
	if err != nil {
		_ = a.pub.Close()
		a.pub = nil
		return domain.Transient(fmt.Errorf("app: %w", err))
	}
	return nil
}

// Close закрывает подключение к брокеру, если оно открыто.
func (a *AppPush) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.pub == nil {
		return nil
	}
	err := a.pub.Close()
	a.pub = nil
	return err
}
