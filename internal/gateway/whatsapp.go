package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/kanalhq/kanal/internal/platform"
)

// WhatsAppClient delivers messages through the WhatsApp Cloud API.
type WhatsAppClient struct {
	baseURL     string
	accessToken string
	phoneID     string
	httpClient  *http.Client
}

// NewWhatsAppClient creates a WhatsApp Cloud API client. The per-request
// deadline comes from the caller's context, not the http client.
func NewWhatsAppClient(baseURL, accessToken, phoneID string) *WhatsAppClient {
	return &WhatsAppClient{
		baseURL:     baseURL,
		accessToken: accessToken,
		phoneID:     phoneID,
		httpClient:  &http.Client{},
	}
}

// Platform implements Client.
func (c *WhatsAppClient) Platform() platform.Platform {
	return platform.WhatsApp
}

type waTextPayload struct {
	MessagingProduct string `json:"messaging_product"`
	To               string `json:"to"`
	Type             string `json:"type"`
	Text             struct {
		Body string `json:"body"`
	} `json:"text"`
}

type waSendResponse struct {
	Messages []struct {
		ID string `json:"id"`
	} `json:"messages"`
}

// SendText implements Client.
func (c *WhatsAppClient) SendText(ctx context.Context, recipient, content string) (string, error) {
	payload := waTextPayload{
		MessagingProduct: "whatsapp",
		To:               recipient,
		Type:             "text",
	}
	payload.Text.Body = content

	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal whatsapp payload: %w", err)
	}

	url := fmt.Sprintf("%s/%s/messages", c.baseURL, c.phoneID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build whatsapp request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.accessToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", classifySendError(ctx, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", classifySendError(ctx, err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: status %d: %s", ErrRejected, resp.StatusCode, respBody)
	}

	var result waSendResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return "", fmt.Errorf("parse whatsapp response: %w", err)
	}
	if len(result.Messages) == 0 {
		return "", fmt.Errorf("%w: response carries no message id", ErrRejected)
	}
	return result.Messages[0].ID, nil
}
