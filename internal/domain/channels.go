package domain

import (
	"fmt"
	"strings"
)

// ChannelKind — канал уведомлений. Набор закрыт: email, im, sms, app.
type ChannelKind string

const (
	ChannelEmail ChannelKind = "email"
	ChannelIM    ChannelKind = "im"
	ChannelSMS   ChannelKind = "sms"
	ChannelApp   ChannelKind = "app"
)

// ChannelKinds возвращает все поддерживаемые каналы в фиксированном порядке.
func ChannelKinds() []ChannelKind {
	return []ChannelKind{ChannelEmail, ChannelIM, ChannelSMS, ChannelApp}
}

// ParseChannelKind приводит строку к ChannelKind. "app_push" принимается как синоним app.
func ParseChannelKind(raw string) (ChannelKind, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "email":
		return ChannelEmail, nil
	case "im":
		return ChannelIM, nil
	case "sms":
		return ChannelSMS, nil
	case "app", "app_push":
		return ChannelApp, nil
	}
	return "", fmt.Errorf("%w: неизвестный канал %q", ErrInvalidTopic, raw)
}

// Valid сообщает, входит ли канал в закрытый набор.
func (k ChannelKind) Valid() bool {
	switch k {
	case ChannelEmail, ChannelIM, ChannelSMS, ChannelApp:
		return true
	}
	return false
}

// LiteratureType — тип публикации. Категории взаимоисключающие.
type LiteratureType string

const (
	LiteratureOriginal      LiteratureType = "original research"
	LiteratureClinicalTrial LiteratureType = "clinical trial"
	LiteratureMetaAnalysis  LiteratureType = "meta-analysis"
	LiteratureReview        LiteratureType = "review"
	LiteratureOther         LiteratureType = "other"
)

// ClassifyLiterature сопоставляет произвольные типы публикации источника одной категории.
// Порядок проверок важен: "systematic review and meta-analysis" — это мета-анализ.
func ClassifyLiterature(labels ...string) LiteratureType {
	joined := strings.ToLower(strings.Join(labels, " | "))
	switch {
	case strings.Contains(joined, "meta-analysis"), strings.Contains(joined, "meta analysis"):
		return LiteratureMetaAnalysis
	case strings.Contains(joined, "clinical trial"), strings.Contains(joined, "randomized controlled trial"):
		return LiteratureClinicalTrial
	case strings.Contains(joined, "review"):
		return LiteratureReview
	case strings.Contains(joined, "original"), strings.Contains(joined, "journal article"), strings.Contains(joined, "research"):
		return LiteratureOriginal
	}
	return LiteratureOther
}
