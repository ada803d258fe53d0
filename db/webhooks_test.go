package db

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuongdev/billgate/pkg/models"
)

func TestDestinationRoundTrip(t *testing.T) {
	database := newTestDB(t)

	dest := &models.Destination{
		ID:                  "wh-1",
		SessionKey:          "key-1",
		UserID:              "user-1",
		Name:                "Order server",
		Enabled:             true,
		Trigger:             models.TriggerIn,
		IgnoreNoPaymentCode: true,
		PaymentCodeRegex:    `DH\d{6}`,
		Target: &models.GenericHTTP{
			URL:        "https://example.com/hook",
			Auth:       models.AuthBearer,
			AuthSecret: "s3cret",
			Headers:    map[string]string{"X-Env": "prod"},
		},
	}
	require.NoError(t, database.SaveDestination(dest))

	got, err := database.GetDestination("wh-1")
	require.NoError(t, err)
	require.NotNil(t, got)

	assert.Equal(t, models.DestinationHTTP, got.Type())
	assert.Equal(t, models.TriggerIn, got.Trigger)
	assert.True(t, got.IgnoreNoPaymentCode)

	target, ok := got.Target.(*models.GenericHTTP)
	require.True(t, ok)
	assert.Equal(t, "https://example.com/hook", target.URL)
	assert.Equal(t, models.AuthBearer, target.Auth)
	assert.Equal(t, "s3cret", target.AuthSecret)
	assert.Equal(t, "prod", target.Headers["X-Env"])

	tg := &models.Destination{
		ID:      "wh-2",
		UserID:  "user-1",
		Enabled: true,
		Trigger: models.TriggerBoth,
		Target:  &models.ChatBot{BotToken: "123:abc", ChatID: -100200300},
	}
	require.NoError(t, database.SaveDestination(tg))

	got, err = database.GetDestination("wh-2")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, models.DestinationTelegram, got.Type())
	bot, ok := got.Target.(*models.ChatBot)
	require.True(t, ok)
	assert.Equal(t, int64(-100200300), bot.ChatID)
}

func TestListDestinationsForOwner(t *testing.T) {
	database := newTestDB(t)

	save := func(id, sessionKey, userID string) {
		require.NoError(t, database.SaveDestination(&models.Destination{
			ID:         id,
			SessionKey: sessionKey,
			UserID:     userID,
			Enabled:    true,
			Trigger:    models.TriggerBoth,
			Target:     &models.GenericHTTP{URL: "https://example.com/" + id, Auth: models.AuthNone},
		}))
	}

	save("bound", "key-1", "user-1")
	save("account-wide", "", "user-1")
	save("other-session", "key-2", "user-1")
	save("other-user", "key-1", "user-2")

	destinations, err := database.ListDestinationsForOwner("user-1", "key-1")
	require.NoError(t, err)

	ids := make([]string, 0, len(destinations))
	for _, d := range destinations {
		ids = append(ids, d.ID)
	}
	// Bound plus account-wide; never another session's or another user's
	assert.ElementsMatch(t, []string{"bound", "account-wide"}, ids)
}

func TestSoftDeleteDestination(t *testing.T) {
	database := newTestDB(t)

	require.NoError(t, database.SaveDestination(&models.Destination{
		ID:      "wh-1",
		UserID:  "user-1",
		Enabled: true,
		Trigger: models.TriggerBoth,
		Target:  &models.GenericHTTP{URL: "https://example.com", Auth: models.AuthNone},
	}))
	require.NoError(t, database.AppendDispatchLog(&models.DispatchLog{
		WebhookID:    "wh-1",
		StatusCode:   200,
		DispatchedAt: time.Now(),
	}))

	require.NoError(t, database.SoftDeleteDestination("wh-1"))

	got, err := database.GetDestination("wh-1")
	require.NoError(t, err)
	assert.Nil(t, got)

	logs, err := database.GetDispatchLogs(10, "wh-1")
	require.NoError(t, err)
	assert.Empty(t, logs)
}

func TestDispatchLogTruncation(t *testing.T) {
	database := newTestDB(t)

	require.NoError(t, database.AppendDispatchLog(&models.DispatchLog{
		WebhookID:    "wh-1",
		StatusCode:   500,
		RequestBody:  strings.Repeat("a", 6000),
		ResponseBody: strings.Repeat("b", 6000),
		DispatchedAt: time.Now(),
	}))

	logs, err := database.GetDispatchLogs(10, "wh-1")
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Len(t, logs[0].RequestBody, maxLoggedBodyLen)
	assert.Len(t, logs[0].ResponseBody, maxLoggedBodyLen)
}
