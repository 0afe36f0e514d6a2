package services

import (
	"bytes"
	"encoding/json"
	"strings"
)

// BankWebhookPayload is the body the bank posts for an incoming transfer.
type BankWebhookPayload struct {
	Reference       string `json:"reference"`
	Amount          int64  `json:"amount"`
	Currency        string `json:"currency"`
	TransactionID   string `json:"transactionId"`
	AccountNo       string `json:"accountNo"`
	BankCode        string `json:"bankCode"`
	AccountName     string `json:"accountName"`
	TransactionDate string `json:"transactionDate"`
	Description     string `json:"description"`
}

// ExternalPayload is the narrower schema posted by the payment gateway that
// watches the receiving account.
type ExternalPayload struct {
	ID              FlexibleID `json:"id"`
	Gateway         string     `json:"gateway"`
	TransactionDate string     `json:"transactionDate"`
	AccountNumber   string     `json:"accountNumber"`
	Code            *string    `json:"code"`
	Content         string     `json:"content"`
	TransferType    string     `json:"transferType"`
	TransferAmount  int64      `json:"transferAmount"`
	ReferenceCode   string     `json:"referenceCode"`
	Description     string     `json:"description"`
}

// Outgoing reports whether the transfer left the account.
func (p ExternalPayload) Outgoing() bool {
	return strings.EqualFold(strings.TrimSpace(p.TransferType), "out")
}

// FlexibleID accepts a JSON string or number.
type FlexibleID string

func (f *FlexibleID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*f = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = FlexibleID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*f = FlexibleID(n.String())
	return nil
}

// externalOrderCode applies the extraction priority: explicit code, then a
// description with the primary prefix, then content with either prefix.
func externalOrderCode(g ReferenceGrammar, p ExternalPayload) (string, bool) {
	if p.Code != nil {
		if code := strings.TrimSpace(*p.Code); code != "" {
			if parsed, ok := g.ExtractOrderCode(code, true); ok {
				return parsed, true
			}
			return code, true
		}
	}
	if code, ok := g.ExtractOrderCode(p.Description, false); ok {
		return code, true
	}
	return g.ExtractOrderCode(p.Content, true)
}
