package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/smtp"
	"net/textproto"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	amqp "github.com/rabbitmq/amqp091-go"

	"medbrief/internal/domain"
	"medbrief/internal/infra/queue"
)

func sampleDelivery(t *testing.T, recipients ...string) domain.Delivery {
	t.Helper()
	path := filepath.Join(t.TempDir(), "Cardio_20250401_090000.md")
	if err := os.WriteFile(path, []byte("# Cardio\n"), 0o644); err != nil {
		t.Fatalf("не удалось записать отчёт: %v", err)
	}
	diff := "total +3 (12→15); trend increased"
	return domain.Delivery{
		TopicName:   "Cardio",
		Recipients:  recipients,
		Artifact:    domain.ArtifactRef{Filename: "Cardio_20250401_090000.md", Path: path},
		DiffSummary: &diff,
		GeneratedAt: time.Date(2025, 4, 1, 9, 0, 0, 0, time.UTC),
	}
}

func TestComposeFirstReport(t *testing.T) {
	d := domain.Delivery{TopicName: "Onco", Artifact: domain.ArtifactRef{Filename: "Onco 1.md"}}
	m := Compose(d, "https://reports.example.com/ppt/", nil)
	if m.Subject != "Отчёт по теме «Onco» обновлён" {
		t.Fatalf("неверная тема письма: %q", m.Subject)
	}
	if !strings.Contains(m.Body, "Изменения: первый отчёт по теме") {
		t.Fatalf("без diff должен быть признак первого отчёта: %q", m.Body)
	}
	if !strings.HasSuffix(m.Body, "Ссылка: https://reports.example.com/ppt/Onco%201.md") {
		t.Fatalf("неверная ссылка: %q", m.Body)
	}
}

func TestEmailBuildsMultipartMessage(t *testing.T) {
	var (
		gotAddr string
		gotTo   []string
		gotMsg  string
	)
	e := NewEmail(SMTPConfig{Host: "smtp.example.com", Port: 2525, From: "bot@example.com"})
	e.send = func(addr string, _ smtp.Auth, from string, to []string, msg []byte) error {
		gotAddr, gotTo, gotMsg = addr, to, string(msg)
		return nil
	}
	if err := e.Send(context.Background(), sampleDelivery(t, "a@example.com", "b@example.com")); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if gotAddr != "smtp.example.com:2525" || len(gotTo) != 2 {
		t.Fatalf("неверный адрес или получатели: %s %v", gotAddr, gotTo)
	}
	for _, want := range []string{
		"To: a@example.com, b@example.com",
		"Subject: =?utf-8?q?",
		"Content-Type: multipart/mixed; boundary=",
		"Изменения: total +3 (12→15); trend increased",
		`filename=Cardio_20250401_090000.md`,
	} {
		if !strings.Contains(gotMsg, want) {
			t.Fatalf("в письме нет %q:\n%s", want, gotMsg)
		}
	}
}

func TestEmailClassifiesErrors(t *testing.T) {
	e := NewEmail(SMTPConfig{Host: "smtp.example.com"})
	e.send = func(string, smtp.Auth, string, []string, []byte) error {
		return &textproto.Error{Code: 451, Msg: "try later"}
	}
	if err := e.Send(context.Background(), sampleDelivery(t, "a@example.com")); !domain.IsTransient(err) {
		t.Fatalf("4xx SMTP должен быть временным: %v", err)
	}
	e.send = func(string, smtp.Auth, string, []string, []byte) error {
		return &textproto.Error{Code: 550, Msg: "no such user"}
	}
	err := e.Send(context.Background(), sampleDelivery(t, "a@example.com"))
	if err == nil || domain.IsTransient(err) {
		t.Fatalf("5xx SMTP должен быть постоянным: %v", err)
	}
}

func TestEmailRequiresHost(t *testing.T) {
	if err := NewEmail(SMTPConfig{}).Send(context.Background(), sampleDelivery(t, "a@example.com")); err == nil {
		t.Fatalf("ожидали ошибку без SMTP_HOST")
	}
}

type fakeBot struct {
	sent []tgbotapi.Chattable
	err  error
}

func (f *fakeBot) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	if f.err != nil {
		return tgbotapi.Message{}, f.err
	}
	f.sent = append(f.sent, c)
	return tgbotapi.Message{MessageID: len(f.sent)}, nil
}

func TestTelegramSendsTextAndDocument(t *testing.T) {
	bot := &fakeBot{}
	tr := NewTelegram(bot, "", nil)
	if err := tr.Send(context.Background(), sampleDelivery(t, "100", " 200 ")); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if len(bot.sent) != 4 {
		t.Fatalf("ожидали сообщение и документ в каждый чат, получили %d", len(bot.sent))
	}
	msg, ok := bot.sent[0].(tgbotapi.MessageConfig)
	if !ok || msg.ChatID != 100 || !strings.Contains(msg.Text, "Cardio") {
		t.Fatalf("неверное первое сообщение: %#v", bot.sent[0])
	}
	if doc, ok := bot.sent[3].(tgbotapi.DocumentConfig); !ok || doc.ChatID != 200 {
		t.Fatalf("последним должен быть документ во второй чат: %#v", bot.sent[3])
	}
}

func TestTelegramRejectsBadChatID(t *testing.T) {
	bot := &fakeBot{}
	err := NewTelegram(bot, "", nil).Send(context.Background(), sampleDelivery(t, "@channel"))
	if err == nil || domain.IsTransient(err) || len(bot.sent) != 0 {
		t.Fatalf("ожидали постоянную ошибку без отправки: %v", err)
	}
}

func TestTelegramClassifiesErrors(t *testing.T) {
	cases := []struct {
		err       error
		transient bool
	}{
		{&tgbotapi.Error{Code: 429, Message: "Too Many Requests", ResponseParameters: tgbotapi.ResponseParameters{RetryAfter: 3}}, true},
		{&tgbotapi.Error{Code: 502, Message: "Bad Gateway"}, true},
		{&tgbotapi.Error{Code: 403, Message: "bot was blocked by the user"}, false},
	}
	for _, c := range cases {
		err := NewTelegram(&fakeBot{err: c.err}, "", nil).Send(context.Background(), sampleDelivery(t, "1"))
		if err == nil || domain.IsTransient(err) != c.transient {
			t.Fatalf("ошибка %v: ожидали transient=%v, получили %v", c.err, c.transient, err)
		}
	}
}

func TestSplitMessageRespectsLimit(t *testing.T) {
	var builder strings.Builder
	builder.WriteString(strings.Repeat("a", 3000))
	builder.WriteString("\n\n")
	builder.WriteString(strings.Repeat("b", 2000))
	builder.WriteString("\n")
	builder.WriteString(strings.Repeat("c", 500))

	parts := SplitMessage(builder.String(), telegramMessageLimit)
	if len(parts) != 2 {
		t.Fatalf("ожидали 2 части, получили %d", len(parts))
	}
	if parts[0] != strings.Repeat("a", 3000) {
		t.Fatalf("неверная первая часть")
	}
	if !strings.HasPrefix(parts[1], "b") || !strings.HasSuffix(parts[1], strings.Repeat("c", 500)) {
		t.Fatalf("неверная вторая часть")
	}
}

func TestSplitMessageHardCut(t *testing.T) {
	parts := SplitMessage(strings.Repeat("я", 25), 10)
	if len(parts) != 3 || len([]rune(parts[0])) != 10 || len([]rune(parts[2])) != 5 {
		t.Fatalf("неверная нарезка без переводов строк: %v", parts)
	}
	if SplitMessage("  \n ", 10) != nil {
		t.Fatalf("пустой текст не даёт частей")
	}
}

func TestSMSPostsJSON(t *testing.T) {
	var got smsRequest
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &got)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	s := NewSMS(SMSConfig{URL: srv.URL, Token: "t0k", Sender: "MedBrief"})
	if err := s.Send(context.Background(), sampleDelivery(t, "+10000000001")); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if auth != "Bearer t0k" || got.Sender != "MedBrief" || got.To[0] != "+10000000001" {
		t.Fatalf("неверный запрос к шлюзу: %s %+v", auth, got)
	}
	if !strings.Contains(got.Text, "Cardio") {
		t.Fatalf("неверный текст SMS: %q", got.Text)
	}
}

func TestSMSStatusClassification(t *testing.T) {
	for code, transient := range map[int]bool{http.StatusServiceUnavailable: true, http.StatusTooManyRequests: true, http.StatusBadRequest: false} {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(code)
		}))
		err := NewSMS(SMSConfig{URL: srv.URL}).Send(context.Background(), sampleDelivery(t, "+1"))
		srv.Close()
		if err == nil || domain.IsTransient(err) != transient {
			t.Fatalf("статус %d: ожидали transient=%v, получили %v", code, transient, err)
		}
	}
}

func TestClipRunes(t *testing.T) {
	if got := clipRunes("абвгд", 3); got != "аб…" {
		t.Fatalf("неверная обрезка: %q", got)
	}
	if got := clipRunes("аб", 3); got != "аб" {
		t.Fatalf("короткий текст не меняется: %q", got)
	}
}

type fakePublisher struct {
	keys   []string
	bodies [][]byte
	err    error
	closed int
}

func (f *fakePublisher) Publish(_ context.Context, key string, msg amqp.Publishing) error {
	if f.err != nil {
		return f.err
	}
	f.keys = append(f.keys, key)
	f.bodies = append(f.bodies, msg.Body)
	return nil
}

func (f *fakePublisher) Close() error {
	f.closed++
	return nil
}

func TestAppPushPublishesEvent(t *testing.T) {
	pub := &fakePublisher{}
	dials := 0
	a := NewAppPush(func() (queue.Publisher, error) {
		dials++
		return pub, nil
	}, "", "https://r.example.com")

	for i := 0; i < 2; i++ {
		if err := a.Send(context.Background(), sampleDelivery(t, "device-1")); err != nil {
			t.Fatalf("не ожидали ошибку: %v", err)
		}
	}
	if dials != 1 {
		t.Fatalf("подключение должно переиспользоваться, dials=%d", dials)
	}
	if pub.keys[0] != "report.ready" {
		t.Fatalf("неверный ключ маршрутизации: %s", pub.keys[0])
	}
	var ev AppEvent
	if err := json.Unmarshal(pub.bodies[0], &ev); err != nil {
		t.Fatalf("неверное тело события: %v", err)
	}
	if ev.TopicName != "Cardio" || ev.Recipients[0] != "device-1" || ev.Link != "https://r.example.com/Cardio_20250401_090000.md" {
		t.Fatalf("неверное событие: %+v", ev)
	}
	if err := a.Close(); err != nil || pub.closed != 1 {
		t.Fatalf("Close должен закрыть подключение: %v %d", err, pub.closed)
	}
}

func TestAppPushRedialsAfterFailure(t *testing.T) {
	broken := &fakePublisher{err: amqp.ErrClosed}
	healthy := &fakePublisher{}
	dials := 0
	a := NewAppPush(func() (queue.Publisher, error) {
		dials++
		if dials == 1 {
			return broken, nil
		}
		return healthy, nil
	}, "k", "")

	err := a.Send(context.Background(), sampleDelivery(t, "d"))
	if !domain.IsTransient(err) || !errors.Is(err, amqp.ErrClosed) {
		t.Fatalf("ошибка публикации должна быть временной: %v", err)
	}
	if broken.closed != 1 {
		t.Fatalf("сломанное подключение должно закрываться")
	}
	if err := a.Send(context.Background(), sampleDelivery(t, "d")); err != nil {
		t.Fatalf("повторная попытка должна переподключиться: %v", err)
	}
	if dials != 2 || len(healthy.keys) != 1 {
		t.Fatalf("ожидали переподключение: dials=%d", dials)
	}
}

func TestAppPushDialFailureIsTransient(t *testing.T) {
	a := NewAppPush(func() (queue.Publisher, error) { return nil, errors.New("connection refused") }, "", "")
	if err := a.Send(context.Background(), sampleDelivery(t, "d")); !domain.IsTransient(err) {
		t.Fatalf("ошибка подключения должна быть временной: %v", err)
	}
}
