package notify

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"medbrief/internal/domain"
)

// Message хранит текст уведомления, общий для всех каналов.
type Message struct {
	Subject string
	Body    string
}

// Compose строит уведомление об обновлённом отчёте. linkBase может быть пустым.
func Compose(d domain.Delivery, linkBase string, loc *time.Location) Message {
	if loc == nil {
		loc = time.UTC
	}
	subject := fmt.Sprintf("Отчёт по теме «%s» обновлён", d.TopicName)

	var b strings.Builder
	b.WriteString(subject)
	if !d.GeneratedAt.IsZero() {
		fmt.Fprintf(&b, " (%s)", d.GeneratedAt.In(loc).Format("2006-01-02 15:04"))
	}
	b.WriteString("\n")
	if d.Artifact.Filename != "" {
		fmt.Fprintf(&b, "Файл: %s\n", d.Artifact.Filename)
	}
	if d.DiffSummary != nil {
		fmt.Fprintf(&b, "Изменения: %s\n", *d.DiffSummary)
	} else {
		b.WriteString("Изменения: первый отчёт по теме\n")
	}
	if link := Link(linkBase, d.Artifact.Filename); link != "" {
		fmt.Fprintf(&b, "Ссылка: %s\n", link)
	}
	return Message{Subject: subject, Body: strings.TrimRight(b.String(), "\n")}
}

// Link возвращает ссылку на отчёт или пустую строку.
func Link(base, filename string) string {
	base = strings.TrimRight(strings.TrimSpace(base), "/")
	if base == "" || filename == "" {
		return ""
	}
	return base + "/" + url.PathEscape(filename)
}
