package webhook

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuongdev/billgate/pkg/models"
)

func telegramPayload() *Payload {
	return &Payload{
		Gateway:         "VPBank",
		TransactionID:   "tx-1",
		TransactionDate: "2026-01-26 23:11:00",
		AccountNumber:   "123456789",
		Code:            "MM4F7B2C91",
		Content:         "Thanh toan MM4F7B2C91",
		TransferType:    "in",
		TransferAmount:  150000,
		Currency:        "VND",
	}
}

func TestTelegramHandler(t *testing.T) {
	var gotPath string
	var gotText, gotChatID, gotMode string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		var params map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&params))
		gotText = params["text"]
		gotChatID = params["chat_id"]
		gotMode = params["parse_mode"]

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"ok": true,
			"result": map[string]any{
				"message_id": 1,
				"chat":       map[string]any{"id": -100200300},
				"date":       1700000000,
			},
		})
	}))
	defer server.Close()

	handler := NewTelegramHandler(server.URL)
	result := handler.Handle(context.Background(), telegramPayload(), &models.Destination{
		ID:     "wh-1",
		Target: &models.ChatBot{BotToken: "123:abc", ChatID: -100200300},
	})

	require.True(t, result.Success, "delivery failed: %s", result.ErrorMessage)
	assert.Equal(t, "/bot123:abc/sendMessage", gotPath)
	assert.Equal(t, "-100200300", gotChatID)
	assert.Equal(t, strings.ToLower(gotMode), "html")
	assert.Contains(t, gotText, "123456789")
	assert.Contains(t, gotText, "Thanh toan MM4F7B2C91")
	assert.Contains(t, gotText, "2026-01-26 23:11:00")
}

func TestTelegramHandlerMissingTarget(t *testing.T) {
	handler := NewTelegramHandler("")

	result := handler.Handle(context.Background(), telegramPayload(), &models.Destination{
		ID:     "wh-1",
		Target: &models.ChatBot{},
	})
	assert.False(t, result.Success)
	assert.NotEmpty(t, result.ErrorMessage)

	// An http target routed here by mistake fails the same way
	result = handler.Handle(context.Background(), telegramPayload(), &models.Destination{
		ID:     "wh-2",
		Target: &models.GenericHTTP{URL: "https://example.com"},
	})
	assert.False(t, result.Success)
}

func TestTelegramHandlerAPIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]any{
			"ok":          false,
			"error_code":  400,
			"description": "Bad Request: chat not found",
		})
	}))
	defer server.Close()

	handler := NewTelegramHandler(server.URL)
	result := handler.Handle(context.Background(), telegramPayload(), &models.Destination{
		ID:     "wh-1",
		Target: &models.ChatBot{BotToken: "123:abc", ChatID: 42},
	})

	assert.False(t, result.Success)
	assert.Contains(t, result.ErrorMessage, "chat not found")
}
