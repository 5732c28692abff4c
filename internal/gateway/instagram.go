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

// InstagramClient delivers direct messages through the Instagram Graph API.
type InstagramClient struct {
	baseURL     string
	accessToken string
	accountID   string
	httpClient  *http.Client
}

// NewInstagramClient creates an Instagram messaging client.
func NewInstagramClient(baseURL, accessToken, accountID string) *InstagramClient {
	return &InstagramClient{
		baseURL:     baseURL,
		accessToken: accessToken,
		accountID:   accountID,
		httpClient:  &http.Client{},
	}
}

// Platform implements Client.
func (c *InstagramClient) Platform() platform.Platform {
	return platform.Instagram
}

type igMessagePayload struct {
	Recipient struct {
		ID string `json:"id"`
	} `json:"recipient"`
	Message struct {
		Text string `json:"text"`
	} `json:"message"`
}

type igSendResponse struct {
	RecipientID string `json:"recipient_id"`
	MessageID   string `json:"message_id"`
}

// SendText implements Client.
func (c *InstagramClient) SendText(ctx context.Context, recipient, content string) (string, error) {
	var payload igMessagePayload
	payload.Recipient.ID = recipient
	payload.Message.Text = content

	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal instagram payload: %w", err)
	}

	url := fmt.Sprintf("%s/%s/messages?access_token=%s", c.baseURL, c.accountID, c.accessToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build instagram request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

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

	var result igSendResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return "", fmt.Errorf("parse instagram response: %w", err)
	}
	if result.MessageID == "" {
		return "", fmt.Errorf("%w: response carries no message id", ErrRejected)
	}
	return result.MessageID, nil
}
