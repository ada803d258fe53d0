package models

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/Rhymond/go-money"
)

// Transaction is an immutable fact once persisted. BankTxID is the
// content hash of the raw upstream record and, together with the owning
// session key, forms the idempotency key.
type Transaction struct {
	SessionKey    string    `json:"sessionKey"`
	BankTxID      string    `json:"bankTransactionId"`
	Amount        Amount    `json:"amount"`
	Date          time.Time `json:"date"`
	Note          string    `json:"note"`
	SenderAccount string    `json:"senderAccount"`
	CreatedAt     time.Time `json:"createdAt"`
}

// Inbound reports whether the transaction credits the account.
func (t *Transaction) Inbound() bool {
	return !strings.HasPrefix(strings.TrimSpace(t.Amount.Value), "-")
}

// Amount represents a monetary amount
type Amount struct {
	Value    string `json:"value"`
	Currency string `json:"currency"`
}

// Float returns the amount as a float64 for webhook payloads. Stored
// values never carry more than two decimal digits.
func (a *Amount) Float() float64 {
	f, err := strconv.ParseFloat(a.Value, 64)
	if err != nil {
		return 0
	}
	return f
}

func (a *Amount) ToMoney() *money.Money {
	currency := money.GetCurrency(a.Currency)
	if currency == nil {
		currency = money.GetCurrency(money.VND)
	}
	split := strings.SplitN(strings.TrimSpace(a.Value), ".", 2)
	if len(split) == 1 {
		split = append(split, "")
	}
	if len(split[1]) < currency.Fraction {
		split[1] += strings.Repeat("0", currency.Fraction-len(split[1]))
	} else {
		split[1] = split[1][:currency.Fraction]
	}
	intTranslation, err := strconv.ParseInt(split[0]+split[1], 10, 64)
	if err != nil {
		panic(fmt.Sprintf("failed to parse amount: original split %v: %v", split, err))
	}
	return money.New(intTranslation, currency.Code)
}
