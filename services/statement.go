package services

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

// StatementRow is one line of a bank statement.
type StatementRow struct {
	Date          string `json:"date" validate:"required"`
	Amount        int64  `json:"amount" validate:"gt=0"`
	Reference     string `json:"reference" validate:"required,max=512"`
	TransactionID string `json:"transaction_id" validate:"omitempty,max=128"`
}

var statementColumns = []string{"date", "amount", "reference", "transaction_id"}

// ParseStatementCSV reads "date,amount,reference,transaction_id" rows. A
// header line is optional. Amounts may carry thousands separators but must
// be whole minor units.
func ParseStatementCSV(r io.Reader) ([]StatementRow, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	var rows []StatementRow
	for line := 1; ; line++ {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		if line == 1 && isStatementHeader(record) {
			continue
		}
		if len(record) < 3 {
			return nil, fmt.Errorf("line %d: expected at least 3 columns, got %d", line, len(record))
		}
		amount, err := parseStatementAmount(record[1])
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		row := StatementRow{
			Date:      strings.TrimSpace(record[0]),
			Amount:    amount,
			Reference: strings.TrimSpace(record[2]),
		}
		if len(record) > 3 {
			row.TransactionID = strings.TrimSpace(record[3])
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func isStatementHeader(record []string) bool {
	if len(record) < 2 {
		return false
	}
	return strings.EqualFold(strings.TrimSpace(record[0]), statementColumns[0]) &&
		strings.EqualFold(strings.TrimSpace(record[1]), statementColumns[1])
}

func parseStatementAmount(raw string) (int64, error) {
	raw = strings.ReplaceAll(strings.TrimSpace(raw), ",", "")
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid amount %q", raw)
	}
	if !d.Equal(d.Truncate(0)) {
		return 0, fmt.Errorf("amount %q has a fractional part", raw)
	}
	return d.IntPart(), nil
}

func parseStatementDate(raw string) (time.Time, error) {
	for _, layout := range []string{"2006-01-02", time.RFC3339, "2006-01-02 15:04:05", "02/01/2006"} {
		if t, err := time.Parse(layout, strings.TrimSpace(raw)); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised date %q", raw)
}

// rowProblem turns a validator error into a short reason.
func rowProblem(err error) string {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		return fmt.Sprintf("%s failed %s", strings.ToLower(fe.Field()), fe.Tag())
	}
	return err.Error()
}
