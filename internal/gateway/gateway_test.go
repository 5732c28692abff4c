package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/kanalhq/kanal/internal/platform"
)

func TestWhatsAppSendText(t *testing.T) {
	var gotPath string
	var gotAuth string
	var gotPayload waTextPayload
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&gotPayload); err != nil {
			t.Errorf("decode payload: %v", err)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"messages": []map[string]string{{"id": "wamid.ABC123"}},
		})
	}))
	defer server.Close()

	client := NewWhatsAppClient(server.URL, "token-1", "phone-1")
	id, err := client.SendText(context.Background(), "62811234567", "halo")
	if err != nil {
		t.Fatalf("SendText() error = %v", err)
	}
	if id != "wamid.ABC123" {
		t.Errorf("message id = %q, want wamid.ABC123", id)
	}
	if gotPath != "/phone-1/messages" {
		t.Errorf("path = %q", gotPath)
	}
	if gotAuth != "Bearer token-1" {
		t.Errorf("auth header = %q", gotAuth)
	}
	if gotPayload.To != "62811234567" || gotPayload.Text.Body != "halo" || gotPayload.MessagingProduct != "whatsapp" {
		t.Errorf("unexpected payload: %+v", gotPayload)
	}
}

func TestWhatsAppSendTextRejected(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"message":"invalid recipient"}}`, http.StatusBadRequest)
	}))
	defer server.Close()

	client := NewWhatsAppClient(server.URL, "token", "phone")
	_, err := client.SendText(context.Background(), "bad", "hi")
	if !errors.Is(err, ErrRejected) {
		t.Fatalf("expected ErrRejected, got %v", err)
	}
}

func TestWhatsAppSendTextTimeout(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer server.Close()
	defer close(release)

	client := NewWhatsAppClient(server.URL, "token", "phone")
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := client.SendText(ctx, "62811", "hi")
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
}

func TestWhatsAppSendTextUnavailable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	server.Close() // refuse connections

	client := NewWhatsAppClient(server.URL, "token", "phone")
	_, err := client.SendText(context.Background(), "62811", "hi")
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
}

func TestInstagramSendText(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("access_token"); got != "token-2" {
			t.Errorf("access_token = %q", got)
		}
		var payload igMessagePayload
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Errorf("decode payload: %v", err)
		}
		if payload.Recipient.ID != "ig-99" || payload.Message.Text != "hello" {
			t.Errorf("unexpected payload: %+v", payload)
		}
		json.NewEncoder(w).Encode(igSendResponse{RecipientID: "ig-99", MessageID: "mid.XYZ"})
	}))
	defer server.Close()

	client := NewInstagramClient(server.URL, "token-2", "acct-1")
	id, err := client.SendText(context.Background(), "ig-99", "hello")
	if err != nil {
		t.Fatalf("SendText() error = %v", err)
	}
	if id != "mid.XYZ" {
		t.Errorf("message id = %q, want mid.XYZ", id)
	}
}

func TestRegistry(t *testing.T) {
	wa := NewWhatsAppClient("http://example.invalid", "t", "p")
	registry := NewRegistry(wa, nil)

	got, err := registry.Get(platform.WhatsApp)
	if err != nil {
		t.Fatalf("Get(whatsapp) error = %v", err)
	}
	if got != wa {
		t.Error("expected the registered client back")
	}

	if _, err := registry.Get(platform.Instagram); !errors.Is(err, ErrNotConfigured) {
		t.Errorf("expected ErrNotConfigured, got %v", err)
	}
}
