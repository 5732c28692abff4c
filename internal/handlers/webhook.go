package handlers

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/kanalhq/kanal/internal/config"
	"github.com/kanalhq/kanal/internal/ingest"
	"github.com/kanalhq/kanal/internal/platform"
)

// processTimeout bounds the background processing of one webhook delivery.
const processTimeout = 30 * time.Second

// WebhookHandler receives Meta webhook deliveries for WhatsApp and Instagram.
// Deliveries are acknowledged immediately and processed in the background;
// Meta redelivers on anything but a fast 200.
type WebhookHandler struct {
	pipeline *ingest.Pipeline
	meta     config.MetaConfig
	logger   *slog.Logger
}

// NewWebhookHandler creates a webhook handler.
func NewWebhookHandler(log *slog.Logger, pipeline *ingest.Pipeline, meta config.MetaConfig) *WebhookHandler {
	return &WebhookHandler{
		pipeline: pipeline,
		meta:     meta,
		logger:   log.With(slog.String("handler", "webhook")),
	}
}

func (h *WebhookHandler) Register(e *echo.Echo) {
	e.GET("/webhooks/whatsapp", h.Verify)
	e.POST("/webhooks/whatsapp", h.HandleWhatsApp)
	e.GET("/webhooks/instagram", h.Verify)
	e.POST("/webhooks/instagram", h.HandleInstagram)
}

// Verify answers the Meta subscription handshake by echoing hub.challenge.
func (h *WebhookHandler) Verify(c echo.Context) error {
	mode := c.QueryParam("hub.mode")
	token := c.QueryParam("hub.verify_token")
	challenge := c.QueryParam("hub.challenge")

	if mode == "subscribe" && token == h.meta.VerifyToken && token != "" {
		return c.String(http.StatusOK, challenge)
	}
	h.logger.Warn("webhook verification failed", slog.String("mode", mode))
	return echo.NewHTTPError(http.StatusForbidden, "verification failed")
}

// HandleWhatsApp accepts a WhatsApp Cloud API delivery.
func (h *WebhookHandler) HandleWhatsApp(c echo.Context) error {
	return h.handle(c, platform.WhatsApp, whatsappEvents)
}

// HandleInstagram accepts an Instagram messaging delivery.
func (h *WebhookHandler) HandleInstagram(c echo.Context) error {
	return h.handle(c, platform.Instagram, instagramEvents)
}

func (h *WebhookHandler) handle(c echo.Context, p platform.Platform, extract func(metaWebhookPayload) []ingest.Event) error {
	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "failed to read body")
	}

	if h.meta.AppSecret != "" {
		signature := c.Request().Header.Get("X-Hub-Signature-256")
		if !verifyMetaSignature(h.meta.AppSecret, body, signature) {
			h.logger.Warn("invalid webhook signature", slog.String("platform", p.String()))
			return echo.NewHTTPError(http.StatusUnauthorized, "invalid signature")
		}
	}

	var payload metaWebhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid payload")
	}

	events := extract(payload)

	// Acknowledge before processing; the ingestion pipeline absorbs
	// redeliveries of anything that fails mid-flight.
	ctx := context.WithoutCancel(c.Request().Context())
	go h.process(ctx, events)

	return c.String(http.StatusOK, "EVENT_RECEIVED")
}

func (h *WebhookHandler) process(ctx context.Context, events []ingest.Event) {
	ctx, cancel := context.WithTimeout(ctx, processTimeout)
	defer cancel()

	for _, ev := range events {
		if _, err := h.pipeline.Process(ctx, ev); err != nil {
			h.logger.Error("process inbound event",
				slog.String("platform", ev.Platform.String()),
				slog.String("upstream_message_id", ev.UpstreamMessageID),
				slog.String("error", err.Error()),
			)
		}
	}
}

// verifyMetaSignature checks the X-Hub-Signature-256 header against the HMAC
// SHA-256 of the raw body.
func verifyMetaSignature(secret string, body []byte, signature string) bool {
	signature = strings.TrimPrefix(signature, "sha256=")
	if signature == "" {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(signature), []byte(expected))
}

// metaWebhookPayload is the Meta webhook envelope. WhatsApp deliveries carry
// entry[].changes[].value; Instagram messaging carries entry[].messaging[].
type metaWebhookPayload struct {
	Object string `json:"object"`
	Entry  []struct {
		ID      string `json:"id"`
		Time    int64  `json:"time"`
		Changes []struct {
			Field string `json:"field"`
			Value struct {
				MessagingProduct string `json:"messaging_product"`
				Contacts         []struct {
					Profile struct {
						Name string `json:"name"`
					} `json:"profile"`
					WaID string `json:"wa_id"`
				} `json:"contacts"`
				Messages []struct {
					ID        string `json:"id"`
					From      string `json:"from"`
					Timestamp string `json:"timestamp"`
					Type      string `json:"type"`
					Text      struct {
						Body string `json:"body"`
					} `json:"text"`
				} `json:"messages"`
			} `json:"value"`
		} `json:"changes"`
		Messaging []struct {
			Sender struct {
				ID string `json:"id"`
			} `json:"sender"`
			Recipient struct {
				ID string `json:"id"`
			} `json:"recipient"`
			Timestamp int64 `json:"timestamp"`
			Message   struct {
				Mid    string `json:"mid"`
				Text   string `json:"text"`
				IsEcho bool   `json:"is_echo"`
			} `json:"message"`
		} `json:"messaging"`
	} `json:"entry"`
}

// whatsappEvents flattens a WhatsApp delivery into inbound events. Status
// updates and non-message changes carry no messages and yield nothing.
func whatsappEvents(payload metaWebhookPayload) []ingest.Event {
	var events []ingest.Event
	for _, entry := range payload.Entry {
		for _, change := range entry.Changes {
			names := make(map[string]string, len(change.Value.Contacts))
			for _, contact := range change.Value.Contacts {
				names[contact.WaID] = contact.Profile.Name
			}
			for _, msg := range change.Value.Messages {
				if msg.ID == "" || msg.From == "" {
					continue
				}
				contentType := msg.Type
				if contentType == "" {
					contentType = "text"
				}
				events = append(events, ingest.Event{
					Platform:          platform.WhatsApp,
					SenderExternalID:  msg.From,
					SenderName:        names[msg.From],
					Content:           msg.Text.Body,
					ContentType:       contentType,
					UpstreamMessageID: msg.ID,
					Timestamp:         whatsappTimestamp(msg.Timestamp),
				})
			}
		}
	}
	return events
}

// instagramEvents flattens an Instagram messaging delivery into inbound
// events. Echoes of the business's own messages are skipped.
func instagramEvents(payload metaWebhookPayload) []ingest.Event {
	var events []ingest.Event
	for _, entry := range payload.Entry {
		for _, messaging := range entry.Messaging {
			if messaging.Message.Mid == "" || messaging.Sender.ID == "" || messaging.Message.IsEcho {
				continue
			}
			at := time.UnixMilli(messaging.Timestamp)
			if messaging.Timestamp <= 0 {
				at = time.Now()
			}
			events = append(events, ingest.Event{
				Platform:          platform.Instagram,
				SenderExternalID:  messaging.Sender.ID,
				Content:           messaging.Message.Text,
				ContentType:       "text",
				UpstreamMessageID: messaging.Message.Mid,
				Timestamp:         at,
			})
		}
	}
	return events
}

// whatsappTimestamp parses the unix-seconds string WhatsApp puts on messages.
func whatsappTimestamp(raw string) time.Time {
	seconds, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || seconds <= 0 {
		return time.Now()
	}
	return time.Unix(seconds, 0)
}
