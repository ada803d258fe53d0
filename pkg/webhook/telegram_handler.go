package webhook

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"sync"

	tele "gopkg.in/telebot.v3"

	"github.com/cuongdev/billgate/pkg/models"
)

// TelegramHandler renders the payload into a chat message and sends it
// with the destination's bot token and chat id. Bots are constructed
// offline (no getMe round trip) and cached per token.
type TelegramHandler struct {
	apiURL string

	mu   sync.Mutex
	bots map[string]*tele.Bot
}

// NewTelegramHandler creates the handler. apiURL overrides the Bot API
// base URL when non-empty (used by tests); otherwise telebot's default
// is used.
func NewTelegramHandler(apiURL string) *TelegramHandler {
	return &TelegramHandler{apiURL: apiURL, bots: make(map[string]*tele.Bot)}
}

// Handle implements Handler.
func (h *TelegramHandler) Handle(ctx context.Context, payload *Payload, d *models.Destination) *Result {
	target, ok := d.Target.(*models.ChatBot)
	if !ok || target.BotToken == "" || target.ChatID == 0 {
		return &Result{ErrorMessage: "missing Telegram bot token or chat ID"}
	}

	message := renderMessage(payload)

	bot, err := h.botFor(target.BotToken)
	if err != nil {
		return &Result{RequestBody: message, ErrorMessage: err.Error()}
	}

	if _, err := bot.Send(tele.ChatID(target.ChatID), message, tele.ModeHTML); err != nil {
		return &Result{RequestBody: message, ErrorMessage: err.Error()}
	}

	return &Result{
		StatusCode:  http.StatusOK,
		RequestBody: message,
		Success:     true,
	}
}

func (h *TelegramHandler) botFor(token string) (*tele.Bot, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if bot, ok := h.bots[token]; ok {
		return bot, nil
	}

	bot, err := tele.NewBot(tele.Settings{
		Token:   token,
		URL:     h.apiURL,
		Offline: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to build telegram bot: %w", err)
	}
	h.bots[token] = bot
	return bot, nil
}

func renderMessage(p *Payload) string {
	amount := models.Amount{
		Value:    strconv.FormatFloat(p.TransferAmount, 'f', -1, 64),
		Currency: p.Currency,
	}
	return fmt.Sprintf(
		"💰 <b>Giao dịch mới</b>\n"+
			"--------------\n"+
			"🗓 Ngày: %s\n"+
			"💳 Tài khoản: %s\n"+
			"💰 Số tiền: %s\n"+
			"📝 Nội dung: %s\n"+
			"--------------",
		p.TransactionDate,
		p.AccountNumber,
		amount.ToMoney().Display(),
		p.Content,
	)
}
