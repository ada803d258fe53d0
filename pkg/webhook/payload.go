package webhook

import (
	"time"

	"github.com/cuongdev/billgate/pkg/models"
)

// Payload is the normalized body delivered to every destination type.
type Payload struct {
	Gateway         string  `json:"gateway"`
	TransactionID   string  `json:"transactionId"`
	TransactionDate string  `json:"transactionDate"`
	AccountNumber   string  `json:"accountNumber"`
	Code            string  `json:"code,omitempty"`
	Content         string  `json:"content"`
	TransferType    string  `json:"transferType"`
	TransferAmount  float64 `json:"transferAmount"`
	Currency        string  `json:"currency"`
	Description     string  `json:"description"`
}

const gatewayTag = "VPBank"

// BuildPayload assembles the payload for one (transaction, destination)
// pair. The destination's custom pattern, when valid, overrides the
// built-in payment-code extractor.
func BuildPayload(tx *models.Transaction, d *models.Destination) *Payload {
	code := ExtractPaymentCode(tx.Note)
	if d != nil && d.PaymentCodeRegex != "" {
		if re := SafeUserPattern(d.PaymentCodeRegex); re != nil {
			if match := re.FindStringSubmatch(tx.Note); match != nil {
				code = match[0]
				if len(match) > 1 && match[1] != "" {
					code = match[1]
				}
			}
		}
	}

	transferType := "in"
	if !tx.Inbound() {
		transferType = "out"
	}

	return &Payload{
		Gateway:         gatewayTag,
		TransactionID:   tx.BankTxID,
		TransactionDate: tx.Date.Format(time.DateTime),
		AccountNumber:   tx.SenderAccount,
		Code:            code,
		Content:         tx.Note,
		TransferType:    transferType,
		TransferAmount:  tx.Amount.Float(),
		Currency:        tx.Amount.Currency,
		Description:     tx.Note,
	}
}
