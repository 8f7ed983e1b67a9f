package importer

import (
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

var (
	ErrEmptyStatement = errors.New("statement contains no rows")
	ErrNoHeader       = errors.New("statement has no recognizable header")
)

// Header names accepted for each column, lowercased. Swedish bank exports and
// generic English headers both work.
var csvColumns = map[string][]string{
	"date":        {"date", "datum", "bokföringsdag", "transaktionsdag", "booking date"},
	"description": {"description", "beskrivning", "text", "specifikation", "meddelande"},
	"amount":      {"amount", "belopp", "summa"},
	"currency":    {"currency", "valuta"},
	"payee":       {"payee", "mottagare", "motpart"},
}

var csvDateLayouts = []string{
	"2006-01-02",
	"02.01.2006",
	"2006/01/02",
	"02/01/2006",
}

// ParseCSVStatement reads an uploaded bank statement into import records for
// the given account. The file needs a header row naming at least date,
// description and amount columns; currency and payee are optional. A row that
// does not parse becomes a RowError, numbered by file line, and never fails
// the rest of the file; the error return is for file-level problems only.
func ParseCSVStatement(r io.Reader, accountID, defaultCurrency string) ([]Record, []RowError, error) {
	buffered := bufio.NewReader(r)
	reader := csv.NewReader(buffered)
	reader.Comma = detectDelimiter(buffered)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	rows, err := reader.ReadAll()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read statement: %w", err)
	}
	if len(rows) == 0 {
		return nil, nil, ErrEmptyStatement
	}

	cols, err := mapHeader(rows[0])
	if err != nil {
		return nil, nil, err
	}
	if len(rows) == 1 {
		return nil, nil, ErrEmptyStatement
	}

	records := make([]Record, 0, len(rows)-1)
	var rowErrs []RowError
	for i, row := range rows[1:] {
		record, err := parseRow(row, cols, accountID, defaultCurrency)
		if err != nil {
			rowErrs = append(rowErrs, RowError{Row: i + 2, Reason: err.Error()})
			continue
		}
		records = append(records, record)
	}
	return records, rowErrs, nil
}

// detectDelimiter sniffs the header line without consuming it. Swedish bank
// exports favor semicolons since the decimal separator is a comma.
func detectDelimiter(r *bufio.Reader) rune {
	head, _ := r.Peek(512)
	line, _, _ := strings.Cut(string(head), "\n")
	if strings.Count(line, ";") > strings.Count(line, ",") {
		return ';'
	}
	return ','
}

func mapHeader(header []string) (map[string]int, error) {
	cols := make(map[string]int)
	for idx, cell := range header {
		name := strings.ToLower(strings.TrimSpace(cell))
		for field, aliases := range csvColumns {
			for _, alias := range aliases {
				if name == alias {
					if _, taken := cols[field]; !taken {
						cols[field] = idx
					}
				}
			}
		}
	}

	for _, required := range []string{"date", "description", "amount"} {
		if _, ok := cols[required]; !ok {
			return nil, fmt.Errorf("%w: missing %s column", ErrNoHeader, required)
		}
	}
	return cols, nil
}

func parseRow(row []string, cols map[string]int, accountID, defaultCurrency string) (Record, error) {
	cell := func(field string) string {
		idx, ok := cols[field]
		if !ok || idx >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[idx])
	}

	date, err := parseStatementDate(cell("date"))
	if err != nil {
		return Record{}, err
	}

	amount, err := parseStatementAmount(cell("amount"))
	if err != nil {
		return Record{}, err
	}

	currency := cell("currency")
	if currency == "" {
		currency = defaultCurrency
	}

	return Record{
		AccountID:   accountID,
		Amount:      amount,
		Currency:    currency,
		Description: cell("description"),
		Payee:       cell("payee"),
		Date:        date,
	}, nil
}

func parseStatementDate(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, errors.New("empty date")
	}
	for _, layout := range csvDateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unparseable date %q", s)
}

// parseStatementAmount handles Swedish exports: "1 234,56", "−1 234,56 kr",
// non-breaking thousands separators, comma decimals.
func parseStatementAmount(s string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, errors.New("empty amount")
	}

	cleaned := strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\u00a0', '\u202f': // space, nbsp, narrow nbsp
			return -1
		case ',':
			return '.'
		case '\u2212': // typographic minus
			return '-'
		default:
			return r
		}
	}, s)
	cleaned = strings.TrimSuffix(strings.ToLower(cleaned), "kr")

	amount, err := decimal.NewFromString(cleaned)
	if err != nil {
		return decimal.Zero, fmt.Errorf("unparseable amount %q", s)
	}
	return amount, nil
}
