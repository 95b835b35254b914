package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	chi "github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"medbrief/internal/domain"
	"medbrief/internal/usecase/insights"
)

// TopicService выполняет операции записи тем.
type TopicService interface {
	Create(ctx context.Context, cfg domain.TopicConfig) (domain.Topic, error)
	Update(ctx context.Context, id int64, cfg domain.TopicConfig) (domain.Topic, error)
	Delete(ctx context.Context, id int64) error
}

// Reader отдаёт проекции для чтения.
type Reader interface {
	Topics(ctx context.Context) ([]domain.Topic, error)
	Topic(ctx context.Context, id int64) (domain.Topic, error)
	Analysis(ctx context.Context, topicID int64, skip, limit int) (insights.Analysis, error)
	History(ctx context.Context, topicID int64) ([]domain.TopicUpdate, error)
	PushRecords(ctx context.Context, topicID int64, limit int) ([]domain.PushRecord, error)
}

// Handler обслуживает JSON API тем, истории и доставок.
type Handler struct {
	topics TopicService
	reader Reader
	log    zerolog.Logger
}

// NewHandler создаёт обработчик.
func NewHandler(topics TopicService, reader Reader, logger zerolog.Logger) *Handler {
	return &Handler{topics: topics, reader: reader, log: logger.With().Str("component", "api").Logger()}
}

// Mount регистрирует маршруты.
func (h *Handler) Mount(r chi.Router) {
	r.Route("/topics", func(r chi.Router) {
		r.Get("/", h.listTopics)
		r.Post("/", h.createTopic)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", h.getTopic)
			r.Put("/", h.updateTopic)
			r.Delete("/", h.deleteTopic)
			r.Get("/history", h.history)
			r.Get("/literature-analysis", h.analysis)
		})
	})
	r.Get("/push-records", h.pushRecords)
	r.Get("/ppt-history", h.pushRecords)
}

func (h *Handler) listTopics(w http.ResponseWriter, r *http.Request) {
	topics, err := h.reader.Topics(r.Context())
	if err != nil {
		h.fail(w, err)
		return
	}
	if topics == nil {
		topics = []domain.Topic{}
	}
	writeJSON(w, http.StatusOK, topics)
}

func (h *Handler) createTopic(w http.ResponseWriter, r *http.Request) {
	cfg, ok := decodeTopic(w, r)
	if !ok {
		return
	}
	topic, err := h.topics.Create(r.Context(), cfg)
	if err != nil {
		h.fail(w, err)
		return
	}
	h.log.Info().Int64("topic", topic.ID).Str("name", topic.Name).Msg("api: тема создана")
	writeJSON(w, http.StatusCreated, topic)
}

func (h *Handler) getTopic(w http.ResponseWriter, r *http.Request) {
	id, ok := topicID(w, r)
	if !ok {
		return
	}
	topic, err := h.reader.Topic(r.Context(), id)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, topic)
}

func (h *Handler) updateTopic(w http.ResponseWriter, r *http.Request) {
	id, ok := topicID(w, r)
	if !ok {
		return
	}
	cfg, ok := decodeTopic(w, r)
	if !ok {
		return
	}
	topic, err := h.topics.Update(r.Context(), id, cfg)
	if err != nil {
		h.fail(w, err)
		return
	}
	h.log.Info().Int64("topic", id).Msg("api: тема обновлена")
	writeJSON(w, http.StatusOK, topic)
}

func (h *Handler) deleteTopic(w http.ResponseWriter, r *http.Request) {
	id, ok := topicID(w, r)
	if !ok {
		return
	}
	if err := h.topics.Delete(r.Context(), id); err != nil {
		h.fail(w, err)
		return
	}
	h.log.Info().Int64("topic", id).Msg("api: тема удалена")
	w.WriteHeader(http.StatusNoContent)
}

type historyResponse struct {
	TopicID int64                `json:"topic_id"`
	Updates []domain.TopicUpdate `json:"updates"`
}

func (h *Handler) history(w http.ResponseWriter, r *http.Request) {
	id, ok := topicID(w, r)
	if !ok {
		return
	}
	updates, err := h.reader.History(r.Context(), id)
	if err != nil {
		h.fail(w, err)
		return
	}
	if updates == nil {
		updates = []domain.TopicUpdate{}
	}
	writeJSON(w, http.StatusOK, historyResponse{TopicID: id, Updates: updates})
}

func (h *Handler) analysis(w http.ResponseWriter, r *http.Request) {
	id, ok := topicID(w, r)
	if !ok {
		return
	}
	skip, ok := intParam(w, r, "skip")
	if !ok {
		return
	}
	limit, ok := intParam(w, r, "limit")
	if !ok {
		return
	}
	out, err := h.reader.Analysis(r.Context(), id, skip, limit)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) pushRecords(w http.ResponseWriter, r *http.Request) {
	topic, ok := intParam(w, r, "topic_id")
	if !ok {
		return
	}
	limit, ok := intParam(w, r, "limit")
	if !ok {
		return
	}
	records, err := h.reader.PushRecords(r.Context(), int64(topic), limit)
	if err != nil {
		h.fail(w, err)
		return
	}
	if records == nil {
		records = []domain.PushRecord{}
	}
	writeJSON(w, http.StatusOK, records)
}

func (h *Handler) fail(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrInvalidTopic):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrTopicNotFound):
		writeError(w, http.StatusNotFound, "topic not found")
	default:
		h.log.Error().Err(err).Msg("api: внутренняя ошибка")
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func decodeTopic(w http.ResponseWriter, r *http.Request) (domain.TopicConfig, bool) {
	defer r.Body.Close()
	var cfg domain.TopicConfig
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return domain.TopicConfig{}, false
	}
	return cfg, true
}

func topicID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid topic id")
		return 0, false
	}
	return id, true
}

func intParam(w http.ResponseWriter, r *http.Request, name string) (int, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, true
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		writeError(w, http.StatusBadRequest, "invalid "+name)
		return 0, false
	}
	return v, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"error": msg})
}
