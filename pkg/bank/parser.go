package bank

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/cuongdev/billgate/pkg/models"
)

// RecordID derives the bank transaction identifier: the content hash of
// the raw record string. Identical records always hash identically,
// which is what makes ingestion idempotent.
func RecordID(raw string) string {
	sum := md5.Sum([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// ParseRawRecord decodes one pipe-delimited upstream record:
//
//	26/01/2026 23:11|123456789|150,000VND|X|Thanh toan MM4F7B2C91
//
// Field 0 may carry a "VPB:" prefix. The amount's trailing three
// characters are the currency; commas are thousand separators. The
// timestamp has no offset and is treated as already-local.
func ParseRawRecord(raw string) (*models.Transaction, error) {
	parts := strings.Split(raw, "|")
	if len(parts) < 3 {
		return nil, fmt.Errorf("%w: expected at least 3 fields, got %d", ErrMalformedRecord, len(parts))
	}

	dateRaw := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(parts[0]), "VPB:"))
	account := strings.TrimSpace(parts[1])
	amountWithCur := strings.TrimSpace(parts[2])
	note := ""
	if len(parts) > 4 {
		note = strings.TrimSpace(parts[4])
	}

	if len(amountWithCur) <= 3 {
		return nil, fmt.Errorf("%w: amount %q too short", ErrMalformedRecord, amountWithCur)
	}
	currency := amountWithCur[len(amountWithCur)-3:]
	amountStr := strings.TrimSpace(strings.ReplaceAll(amountWithCur[:len(amountWithCur)-3], ",", ""))
	if _, err := strconv.ParseFloat(amountStr, 64); err != nil {
		return nil, fmt.Errorf("%w: unparsable amount %q", ErrMalformedRecord, amountWithCur)
	}

	date, err := parseRecordDate(dateRaw)
	if err != nil {
		return nil, err
	}

	return &models.Transaction{
		Amount:        models.Amount{Value: amountStr, Currency: currency},
		Date:          date,
		Note:          note,
		SenderAccount: account,
	}, nil
}

// parseRecordDate parses "26/01/2026 23:11" (DD/MM/YYYY HH:mm); the
// time part may be absent.
func parseRecordDate(dateRaw string) (time.Time, error) {
	if dateRaw == "" {
		return time.Time{}, fmt.Errorf("%w: empty date", ErrMalformedRecord)
	}

	fields := strings.Fields(dateRaw)
	layout := "02/01/2006 15:04"
	value := fields[0] + " 00:00"
	if len(fields) > 1 {
		value = fields[0] + " " + fields[1]
	}

	date, err := time.ParseInLocation(layout, value, time.Local)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: unparsable date %q", ErrMalformedRecord, dateRaw)
	}
	return date, nil
}
