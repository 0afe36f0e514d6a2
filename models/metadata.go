package models

import "time"

type MetadataKind string

const (
	MetadataNone         MetadataKind = ""
	MetadataBankTransfer MetadataKind = "bank_transfer"
	MetadataCash         MetadataKind = "cash"
	MetadataCompletion   MetadataKind = "completion"
	MetadataExpiry       MetadataKind = "expiry"
	MetadataCancellation MetadataKind = "cancellation"
)

// IntentMetadata is a tagged union: Kind names the one populated variant.
// Extra carries provider fields the engine does not interpret.
type IntentMetadata struct {
	Kind         MetadataKind         `json:"kind,omitempty"`
	BankTransfer *BankTransferDetails `json:"bank_transfer,omitempty"`
	Cash         *CashDetails         `json:"cash,omitempty"`
	Completion   *CompletionDetails   `json:"completion,omitempty"`
	Expiry       *ExpiryDetails       `json:"expiry,omitempty"`
	Cancellation *CancellationDetails `json:"cancellation,omitempty"`
	Extra        map[string]any       `json:"extra,omitempty"`
}

type BankTransferDetails struct {
	BankCode    string    `json:"bank_code"`
	AccountNo   string    `json:"account_no"`
	AccountName string    `json:"account_name"`
	Amount      int64     `json:"amount"`
	Description string    `json:"description"`
	PaymentCode string    `json:"payment_code"`
	ExpiresAt   time.Time `json:"expires_at"`
}

type CashDetails struct {
	CollectOnDelivery bool  `json:"collect_on_delivery"`
	Amount            int64 `json:"amount"`
}

type CompletionDetails struct {
	Source        string     `json:"source"`
	TransactionID string     `json:"transaction_id,omitempty"`
	Gateway       string     `json:"gateway,omitempty"`
	AccountNo     string     `json:"account_no,omitempty"`
	BankCode      string     `json:"bank_code,omitempty"`
	AccountName   string     `json:"account_name,omitempty"`
	Amount        int64      `json:"amount"`
	Currency      string     `json:"currency,omitempty"`
	Reference     string     `json:"reference,omitempty"`
	PaidAt        *time.Time `json:"paid_at,omitempty"`
	VerifiedBy    string     `json:"verified_by,omitempty"`
}

type ExpiryDetails struct {
	ExpiredAt time.Time `json:"expired_at"`
	Trigger   string    `json:"trigger"`
}

type CancellationDetails struct {
	Reason      string    `json:"reason"`
	CancelledAt time.Time `json:"cancelled_at"`
}

func BankTransferMetadata(d BankTransferDetails) IntentMetadata {
	return IntentMetadata{Kind: MetadataBankTransfer, BankTransfer: &d}
}

func CashMetadata(d CashDetails) IntentMetadata {
	return IntentMetadata{Kind: MetadataCash, Cash: &d}
}

func CompletionMetadata(d CompletionDetails, extra map[string]any) IntentMetadata {
	return IntentMetadata{Kind: MetadataCompletion, Completion: &d, Extra: extra}
}

func ExpiryMetadata(d ExpiryDetails) IntentMetadata {
	return IntentMetadata{Kind: MetadataExpiry, Expiry: &d}
}

func CancellationMetadata(d CancellationDetails) IntentMetadata {
	return IntentMetadata{Kind: MetadataCancellation, Cancellation: &d}
}
