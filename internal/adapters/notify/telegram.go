package notify

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"medbrief/internal/domain"
	"medbrief/internal/infra/metrics"
)

const telegramMessageLimit = 4096

// BotSender описывает часть tgbotapi.BotAPI, нужную транспорту.
type BotSender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Telegram доставляет отчёт в чаты Telegram: текст уведомления и файл отчёта документом.
type Telegram struct {
	bot      BotSender
	linkBase string
	loc      *time.Location
}

var _ domain.ChannelTransport = (*Telegram)(nil)

// NewTelegram создаёт IM-транспорт поверх готового клиента бота.
func NewTelegram(bot BotSender, linkBase string, loc *time.Location) *Telegram {
	return &Telegram{bot: bot, linkBase: linkBase, loc: loc}
}

// NewTelegramFromToken подключается к Bot API по токену.
func NewTelegramFromToken(token, linkBase string, loc *time.Location) (*Telegram, error) {
	bot, err := tgbotapi.NewBotAPIWithClient(token, tgbotapi.APIEndpoint, &http.Client{Timeout: 30 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("telegram: %w", err)
	}
	return NewTelegram(bot, linkBase, loc), nil
}

// Kind реализует domain.ChannelTransport.
func (t *Telegram) Kind() domain.ChannelKind { return domain.ChannelIM }

// Send реализует domain.ChannelTransport. Получатели задаются числовыми chat id.
// Ошибка для одного чата не останавливает остальные, итог объединяет все ошибки.
func (t *Telegram) Send(ctx context.Context, d domain.Delivery) error {
	if len(d.Recipients) == 0 {
		return errors.New("im: нет получателей")
	}
	chats := make([]int64, 0, len(d.Recipients))
	for _, r := range d.Recipients {
		id, err := strconv.ParseInt(strings.TrimSpace(r), 10, 64)
		if err != nil {
			return fmt.Errorf("im: неверный chat id %q", r)
		}
		chats = append(chats, id)
	}
	parts := SplitMessage(Compose(d, t.linkBase, t.loc).Body, telegramMessageLimit)

	var errs []error
	transient := false
	for _, chatID := range chats {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := t.sendChat(chatID, parts, d.Artifact); err != nil {
			errs = append(errs, fmt.Errorf("im: чат %d: %w", chatID, err))
			transient = transient || isTelegramTransient(err)
		}
	}
	err := errors.Join(errs...)
	if err != nil && transient {
		return domain.Transient(err)
	}
	return err
}

func (t *Telegram) sendChat(chatID int64, parts []string, artifact domain.ArtifactRef) error {
	for _, part := range parts {
		msg := tgbotapi.NewMessage(chatID, part)
		msg.DisableWebPagePreview = true
		if err := t.send(msg, "send_message"); err != nil {
			return err
		}
	}
	if artifact.Path == "" {
		return nil
	}
	if _, err := os.Stat(artifact.Path); err != nil {
		return fmt.Errorf("файл отчёта: %w", err)
	}
	doc := tgbotapi.NewDocument(chatID, tgbotapi.FilePath(artifact.Path))
	return t.send(doc, "send_document")
}

func (t *Telegram) send(c tgbotapi.Chattable, op string) error {
	start := time.Now()
	_, err := t.bot.Send(c)
	metrics.ObserveNetworkRequest("telegram", op, "api.telegram.org", start, err)
	return err
}

func isTelegramTransient(err error) bool {
	var apiErr *tgbotapi.Error
	if errors.As(err, &apiErr) {
		return apiErr.Code == http.StatusTooManyRequests || apiErr.Code >= 500 || apiErr.RetryAfter > 0
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

// SplitMessage режет текст на части не длиннее limit рун, по возможности по переводам строк.
func SplitMessage(text string, limit int) []string {
	runes := []rune(strings.TrimSpace(text))
	if len(runes) == 0 {
		return nil
	}
	if limit <= 0 || len(runes) <= limit {
		return []string{string(runes)}
	}

	var parts []string
	for len(runes) > 0 {
		if len(runes) <= limit {
			parts = appendChunk(parts, runes)
			break
		}
		cut := limit
		for i := limit; i > 0; i-- {
			if runes[i-1] == '\n' {
				cut = i
				break
			}
		}
		parts = appendChunk(parts, runes[:cut])
		runes = runes[cut:]
		for len(runes) > 0 && runes[0] == '\n' {
			runes = runes[1:]
		}
	}
	return parts
}

func appendChunk(parts []string, chunk []rune) []string {
	if s := strings.Trim(string(chunk), "\n"); s != "" {
		return append(parts, s)
	}
	return parts
}
