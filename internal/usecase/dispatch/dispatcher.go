package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"medbrief/internal/domain"
	"medbrief/internal/infra/metrics"
	"medbrief/internal/infra/retry"
)

// ErrNoTransport возвращается если для канала не настроен транспорт.
var ErrNoTransport = errors.New("channel transport is not configured")

// ErrNoRecipients возвращается если у канала нет ни одного получателя.
var ErrNoRecipients = errors.New("no recipients for channel")

// Request описывает одну рассылку отчёта.
type Request struct {
	Topic       domain.Topic
	Artifact    domain.ArtifactRef
	DiffSummary *string
	GeneratedAt time.Time
}

// Result описывает итог рассылки по всем каналам темы.
type Result struct {
	Records   []domain.PushRecord
	Succeeded int
}

// AnySucceeded сообщает, дошёл ли отчёт хотя бы по одному каналу.
func (r Result) AnySucceeded() bool {
	return r.Succeeded > 0
}

// Dispatcher рассылает отчёт по каналам темы независимо друг от друга.
type Dispatcher struct {
	history    domain.HistoryStore
	transports map[domain.ChannelKind]domain.ChannelTransport
	defaults   map[domain.ChannelKind][]string
	policy     retry.Policy
	log        zerolog.Logger
	now        func() time.Time
}

// NewDispatcher создаёт рассыльщика. defaults задаёт получателей для каналов, где тема их не задала.
func NewDispatcher(history domain.HistoryStore, transports []domain.ChannelTransport, defaults map[domain.ChannelKind][]string, policy retry.Policy, logger zerolog.Logger) *Dispatcher {
	byKind := make(map[domain.ChannelKind]domain.ChannelTransport, len(transports))
	for _, tr := range transports {
		if tr == nil {
			continue
		}
		byKind[tr.Kind()] = tr
	}
	return &Dispatcher{
		history:    history,
		transports: byKind,
		defaults:   defaults,
		policy:     policy,
		log:        logger,
		now:        time.Now,
	}
}

// Dispatch отправляет отчёт по всем каналам темы параллельно. Каждый канал даёт ровно одну
// запись доставки: pending при старте и итог success/failed после отправки. Ошибка
// возвращается только при сбое записи в историю; неудачная доставка отражается в Result.
// Все записи одной рассылки получают общий push_time.
func (d *Dispatcher) Dispatch(ctx context.Context, req Request) (Result, error) {
	channels := req.Topic.Channels
	pushTime := d.now()
	records := make([]domain.PushRecord, len(channels))
	ok := make([]bool, len(channels))

	var (
		mu      sync.Mutex
		journal []error
	)
	g, gctx := errgroup.WithContext(context.WithoutCancel(ctx))
	for i, kind := range channels {
		i, kind := i, kind
		g.Go(func() error {
			rec, sent, err := d.deliver(gctx, req, kind, pushTime)
			records[i] = rec
			ok[i] = sent
			if err != nil {
				mu.Lock()
				journal = append(journal, err)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	res := Result{Records: records}
	for _, sent := range ok {
		if sent {
			res.Succeeded++
		}
	}
	return res, errors.Join(journal...)
}

func (d *Dispatcher) deliver(ctx context.Context, req Request, kind domain.ChannelKind, pushTime time.Time) (domain.PushRecord, bool, error) {
	logger := d.log.With().Str("channel", string(kind)).Int64("topic", req.Topic.ID).Logger()
	recipients := d.recipients(req.Topic, kind)

	pending, err := d.history.AppendPushRecord(ctx, domain.PushRecord{
		PushTime:    pushTime,
		TopicID:     req.Topic.ID,
		TopicName:   req.Topic.Name,
		Filename:    req.Artifact.Filename,
		Recipients:  recipients,
		Channel:     kind,
		Status:      domain.PushPending,
		DiffSummary: req.DiffSummary,
	})
	if err != nil {
		logger.Error().Err(err).Msg("dispatch: не удалось записать pending")
		metrics.IncPush(string(kind), string(domain.PushFailed))
		return domain.PushRecord{TopicID: req.Topic.ID, Channel: kind, Status: domain.PushFailed}, false, fmt.Errorf("запись доставки %s: %w", kind, err)
	}

	sendErr := d.send(ctx, logger, kind, domain.Delivery{
		TopicName:   req.Topic.Name,
		Recipients:  recipients,
		Artifact:    req.Artifact,
		DiffSummary: req.DiffSummary,
		GeneratedAt: req.GeneratedAt,
	})
	status := domain.PushSuccess
	if sendErr != nil {
		status = domain.PushFailed
		logger.Warn().Err(sendErr).Msg("dispatch: канал не доставил отчёт")
	}
	metrics.IncPush(string(kind), string(status))

	pending.Status = status
	if err := d.history.ResolvePushRecord(ctx, pending.ID, status, d.now()); err != nil {
		logger.Error().Err(err).Int64("push_record", pending.ID).Msg("dispatch: не удалось записать итог")
		return pending, sendErr == nil, fmt.Errorf("итог доставки %s: %w", kind, err)
	}
	return pending, sendErr == nil, nil
}

func (d *Dispatcher) send(ctx context.Context, logger zerolog.Logger, kind domain.ChannelKind, delivery domain.Delivery) error {
	tr, ok := d.transports[kind]
	if !ok {
		return ErrNoTransport
	}
	if len(delivery.Recipients) == 0 {
		return ErrNoRecipients
	}
	_, err := retry.Do(ctx, d.policy, func(attempt int) error {
		err := tr.Send(ctx, delivery)
		if err != nil {
			logger.Debug().Err(err).Int("attempt", attempt).Msg("dispatch: попытка отправки не удалась")
		}
		return err
	})
	return err
}

func (d *Dispatcher) recipients(topic domain.Topic, kind domain.ChannelKind) []string {
	if rcpt := topic.Recipients[kind]; len(rcpt) > 0 {
		return rcpt
	}
	return d.defaults[kind]
}
