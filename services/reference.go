package services

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"
)

type ReferenceKind string

const (
	RefUnknown ReferenceKind = "unknown"
	RefPayment ReferenceKind = "payment"
	RefRefund  ReferenceKind = "refund"
)

// Reference is what could be read out of a remittance text. Reason explains
// an unknown result.
type Reference struct {
	Kind      ReferenceKind
	OrderCode string
	PaymentID *uuid.UUID
	RefundID  uuid.UUID
	Reason    string
}

// ReferenceGrammar recognises "<PREFIX> <orderCode>[ | pay:<paymentId>]" and
// "<REFUND_PREFIX> <refundId>" anywhere inside free text, ignoring case. Some
// banks strip spaces and punctuation from memos, so the alternate prefix
// also matches when glued to the code.
type ReferenceGrammar struct {
	PaymentPrefix string
	RefundPrefix  string
	AltPrefix     string

	payment *regexp.Regexp
	refund  *regexp.Regexp
	alt     *regexp.Regexp
}

func NewReferenceGrammar(paymentPrefix, refundPrefix, altPrefix string) ReferenceGrammar {
	g := ReferenceGrammar{
		PaymentPrefix: strings.TrimSpace(paymentPrefix),
		RefundPrefix:  strings.TrimSpace(refundPrefix),
		AltPrefix:     strings.TrimSpace(altPrefix),
	}
	g.payment = regexp.MustCompile(`(?i)\b` + regexp.QuoteMeta(g.PaymentPrefix) +
		`\s+([A-Z0-9][A-Z0-9_-]*)(?:\s*\|\s*pay:\s*(\S+))?`)
	g.refund = regexp.MustCompile(`(?i)\b` + regexp.QuoteMeta(g.RefundPrefix) + `\s+(\S+)`)
	if g.AltPrefix != "" {
		g.alt = regexp.MustCompile(`(?i)\b` + regexp.QuoteMeta(g.AltPrefix) + `\s*([A-Z0-9][A-Z0-9_-]*)`)
	}
	return g
}

// PaymentDescription renders the remittance description a payer must quote.
func (g ReferenceGrammar) PaymentDescription(orderCode string) string {
	return g.PaymentPrefix + " " + orderCode
}

// PaymentReference renders a description that also pins the payment id.
func (g ReferenceGrammar) PaymentReference(orderCode string, paymentID uuid.UUID) string {
	return fmt.Sprintf("%s | pay:%s", g.PaymentDescription(orderCode), paymentID)
}

func (g ReferenceGrammar) RefundReference(refundID uuid.UUID) string {
	return g.RefundPrefix + " " + refundID.String()
}

// Parse tries the refund grammar first, then the payment grammar.
func (g ReferenceGrammar) Parse(text string) Reference {
	if strings.TrimSpace(text) == "" {
		return Reference{Kind: RefUnknown, Reason: "empty reference"}
	}
	if ref := g.ParseRefund(text); ref.Kind == RefRefund || ref.Reason != reasonNoRefund {
		return ref
	}
	if ref := g.ParsePayment(text); ref.Kind == RefPayment || ref.Reason != reasonNoPayment {
		return ref
	}
	return Reference{Kind: RefUnknown, Reason: "reference matches neither payment nor refund format"}
}

const (
	reasonNoPayment = "no payment reference found"
	reasonNoRefund  = "no refund reference found"
)

func (g ReferenceGrammar) ParsePayment(text string) Reference {
	m := g.payment.FindStringSubmatch(text)
	if m == nil {
		return Reference{Kind: RefUnknown, Reason: reasonNoPayment}
	}
	ref := Reference{Kind: RefPayment, OrderCode: m[1]}
	if m[2] != "" {
		id, err := uuid.Parse(strings.TrimRight(m[2], ".,;"))
		if err != nil {
			return Reference{Kind: RefUnknown, OrderCode: m[1], Reason: "malformed payment id"}
		}
		ref.PaymentID = &id
	}
	return ref
}

func (g ReferenceGrammar) ParseRefund(text string) Reference {
	m := g.refund.FindStringSubmatch(text)
	if m == nil {
		return Reference{Kind: RefUnknown, Reason: reasonNoRefund}
	}
	id, err := uuid.Parse(strings.TrimRight(m[1], ".,;"))
	if err != nil {
		return Reference{Kind: RefUnknown, Reason: "malformed refund id"}
	}
	return Reference{Kind: RefRefund, RefundID: id}
}

// ExtractOrderCode finds an order code using the primary prefix and, when
// allowAlt is set, the alternate one.
func (g ReferenceGrammar) ExtractOrderCode(text string, allowAlt bool) (string, bool) {
	if ref := g.ParsePayment(text); ref.Kind == RefPayment {
		return ref.OrderCode, true
	}
	if allowAlt && g.alt != nil {
		if m := g.alt.FindStringSubmatch(text); m != nil {
			return m[1], true
		}
	}
	return "", false
}
