package notify

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net"
	"net/smtp"
	"net/textproto"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"medbrief/internal/domain"
	"medbrief/internal/infra/metrics"
)

// SMTPConfig задаёт параметры почтового транспорта.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	LinkBase string
	Location *time.Location
}

type sendMailFunc func(addr string, auth smtp.Auth, from string, to []string, msg []byte) error

// Email отправляет отчёт письмом, файл отчёта прикладывается вложением.
type Email struct {
	cfg  SMTPConfig
	send sendMailFunc
}

var _ domain.ChannelTransport = (*Email)(nil)

// NewEmail создаёт почтовый транспорт.
func NewEmail(cfg SMTPConfig) *Email {
	if cfg.Port == 0 {
		cfg.Port = 587
	}
	return &Email{cfg: cfg, send: smtp.SendMail}
}

// Kind реализует domain.ChannelTransport.
func (e *Email) Kind() domain.ChannelKind { return domain.ChannelEmail }

// Send реализует domain.ChannelTransport.
func (e *Email) Send(ctx context.Context, d domain.Delivery) error {
	if e.cfg.Host == "" {
		return errors.New("email: SMTP_HOST не задан")
	}
	if len(d.Recipients) == 0 {
		return errors.New("email: нет получателей")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	msg, err := e.build(d)
	if err != nil {
		return err
	}
	var auth smtp.Auth
	if e.cfg.Username != "" {
		auth = smtp.PlainAuth("", e.cfg.Username, e.cfg.Password, e.cfg.Host)
	}
	addr := net.JoinHostPort(e.cfg.Host, strconv.Itoa(e.cfg.Port))

	start := time.Now()
	err = e.send(addr, auth, e.cfg.From, d.Recipients, msg)
	metrics.ObserveNetworkRequest("smtp", "send", e.cfg.Host, start, err)
	if err != nil {
		return classifySMTP(fmt.Errorf("email: %w", err))
	}
	return nil
}

func (e *Email) build(d domain.Delivery) ([]byte, error) {
	m := Compose(d, e.cfg.LinkBase, e.cfg.Location)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fmt.Fprintf(&buf, "From: %s\r\n", e.cfg.From)
	fmt.Fprintf(&buf, "To: %s\r\n", strings.Join(d.Recipients, ", "))
	fmt.Fprintf(&buf, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", m.Subject))
	buf.WriteString("MIME-Version: 1.0\r\n")
	fmt.Fprintf(&buf, "Content-Type: multipart/mixed; boundary=%s\r\n\r\n", mw.Boundary())

	text, err := mw.CreatePart(textproto.MIMEHeader{
		"Content-Type":              {"text/plain; charset=utf-8"},
		"Content-Transfer-Encoding": {"8bit"},
	})
	if err != nil {
		return nil, err
	}
	if _, err := text.Write([]byte(strings.ReplaceAll(m.Body, "\n", "\r\n"))); err != nil {
		return nil, err
	}

	if d.Artifact.Path != "" {
		data, err := os.ReadFile(d.Artifact.Path)
		if err != nil {
			return nil, fmt.Errorf("email: чтение отчёта: %w", err)
		}
		name := d.Artifact.Filename
		if name == "" {
			name = filepath.Base(d.Artifact.Path)
		}
		att, err := mw.CreatePart(textproto.MIMEHeader{
			"Content-Type":              {"text/markdown; charset=utf-8"},
			"Content-Transfer-Encoding": {"base64"},
			"Content-Disposition":       {mime.FormatMediaType("attachment", map[string]string{"filename": name})},
		})
		if err != nil {
			return nil, err
		}
		if err := writeBase64Lines(att, data); err != nil {
			return nil, err
		}
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func writeBase64Lines(w io.Writer, data []byte) error {
	encoded := base64.StdEncoding.EncodeToString(data)
	for len(encoded) > 76 {
		if _, err := w.Write([]byte(encoded[:76] + "\r\n")); err != nil {
			return err
		}
		encoded = encoded[76:]
	}
	_, err := w.Write([]byte(encoded + "\r\n"))
	return err
}

// classifySMTP помечает временными сетевые ошибки и ответы 4xx сервера.
func classifySMTP(err error) error {
	var protoErr *textproto.Error
	if errors.As(err, &protoErr) {
		if protoErr.Code >= 400 && protoErr.Code < 500 {
			return domain.Transient(err)
		}
		return err
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return domain.Transient(err)
	}
	return err
}
