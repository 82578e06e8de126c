package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/saluslabs/clinic-assistant/internal/conversation"
	"github.com/saluslabs/clinic-assistant/internal/observability/metrics"
	"github.com/saluslabs/clinic-assistant/pkg/logging"
)

// InboundPipeline accepts a normalized message for processing.
type InboundPipeline interface {
	Inbound(ctx context.Context, msg conversation.IncomingMessage) error
}

// evolutionEvent mirrors the Evolution API messages.upsert webhook payload.
type evolutionEvent struct {
	Event string `json:"event"`
	Data  struct {
		Key struct {
			RemoteJID string `json:"remoteJid"`
			FromMe    bool   `json:"fromMe"`
			ID        string `json:"id"`
		} `json:"key"`
		PushName string `json:"pushName"`
		Message  struct {
			Conversation        string `json:"conversation"`
			ExtendedTextMessage *struct {
				Text string `json:"text"`
			} `json:"extendedTextMessage"`
			AudioMessage *struct {
				Mimetype string `json:"mimetype"`
			} `json:"audioMessage"`
			ImageMessage *struct {
				Caption  string `json:"caption"`
				Mimetype string `json:"mimetype"`
			} `json:"imageMessage"`
		} `json:"message"`
	} `json:"data"`
}

// WebhookHandler receives Evolution API events and feeds the pipeline.
type WebhookHandler struct {
	pipeline InboundPipeline
	metrics  *metrics.AssistantMetrics
	logger   *logging.Logger
}

func NewWebhookHandler(pipeline InboundPipeline, m *metrics.AssistantMetrics, logger *logging.Logger) *WebhookHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &WebhookHandler{pipeline: pipeline, metrics: m, logger: logger}
}

// Handle processes one webhook delivery. Events that carry nothing the
// assistant acts on (own messages, status updates) are acknowledged with
// success so Evolution does not retry them.
func (h *WebhookHandler) Handle(w http.ResponseWriter, r *http.Request) {
	var event evolutionEvent
	if err := json.NewDecoder(r.Body).Decode(&event); err != nil {
		h.logger.Warn("webhook payload undecodable", "error", err)
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"status":  "error",
			"message": "invalid payload",
		})
		return
	}

	if !strings.EqualFold(event.Event, "messages.upsert") || event.Data.Key.FromMe {
		writeJSON(w, http.StatusOK, map[string]string{"status": "success", "message": "ignored"})
		return
	}

	msg := normalize(event)
	if msg.Kind == "" {
		writeJSON(w, http.StatusOK, map[string]string{"status": "success", "message": "ignored"})
		return
	}

	if err := h.pipeline.Inbound(r.Context(), msg); err != nil {
		h.logger.Error("inbound message rejected", "error", err, "remotejid", msg.RemoteJID)
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{
			"status":  "error",
			"message": err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "success", "message": "accepted"})
}

// normalize flattens the Evolution message variants into one shape. An empty
// Kind means the event carries no supported content.
func normalize(event evolutionEvent) conversation.IncomingMessage {
	msg := conversation.IncomingMessage{
		RemoteJID: event.Data.Key.RemoteJID,
		PushName:  event.Data.PushName,
		MessageID: event.Data.Key.ID,
	}
	body := event.Data.Message
	switch {
	case body.Conversation != "":
		msg.Kind = "text"
		msg.Text = body.Conversation
	case body.ExtendedTextMessage != nil && body.ExtendedTextMessage.Text != "":
		msg.Kind = "text"
		msg.Text = body.ExtendedTextMessage.Text
	case body.AudioMessage != nil:
		msg.Kind = "audio"
	case body.ImageMessage != nil:
		msg.Kind = "image"
		msg.Text = body.ImageMessage.Caption
	}
	return msg
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
