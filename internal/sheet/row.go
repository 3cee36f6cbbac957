// Package sheet mirrors credentials into an Excel worksheet, one row per
// identity.
package sheet

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/wesm/recoverybot/internal/apperr"
)

// Column layout, A through E.
const (
	colIdentity = iota
	colRefreshToken
	colAccessToken
	colExpiresIn
	colExtExpiresIn
	columnCount
)

// Row is one positional worksheet row.
type Row []any

// Record is the typed form of a row.
type Record struct {
	Identity     string
	RefreshToken string
	AccessToken  string
	ExpiresIn    int64 // seconds
	ExtExpiresIn int64 // seconds
}

// RecordToRow lays out r in column order.
func RecordToRow(r Record) Row {
	row := make(Row, columnCount)
	row[colIdentity] = r.Identity
	row[colRefreshToken] = r.RefreshToken
	row[colAccessToken] = r.AccessToken
	row[colExpiresIn] = r.ExpiresIn
	row[colExtExpiresIn] = r.ExtExpiresIn
	return row
}

// RecordFromRow parses a worksheet row. Text columns must be strings;
// numeric columns accept numbers or numeric strings, and empty cells read
// as zero.
func RecordFromRow(row Row) (Record, error) {
	if len(row) < columnCount {
		return Record{}, apperr.New(apperr.KindValidation, "row has %d columns, want %d", len(row), columnCount)
	}

	var (
		r    Record
		errs []string
	)
	text := func(i int, dst *string) {
		switch v := row[i].(type) {
		case string:
			*dst = strings.TrimSpace(v)
		case nil:
		default:
			errs = append(errs, fmt.Sprintf("column %c: want text, got %T", 'A'+i, v))
		}
	}
	number := func(i int, dst *int64) {
		n, err := toInt64(row[i])
		if err != nil {
			errs = append(errs, fmt.Sprintf("column %c: %v", 'A'+i, err))
			return
		}
		*dst = n
	}

	text(colIdentity, &r.Identity)
	text(colRefreshToken, &r.RefreshToken)
	text(colAccessToken, &r.AccessToken)
	number(colExpiresIn, &r.ExpiresIn)
	number(colExtExpiresIn, &r.ExtExpiresIn)

	if r.Identity == "" && len(errs) == 0 {
		errs = append(errs, "column A: identity is empty")
	}
	if len(errs) > 0 {
		return Record{}, apperr.New(apperr.KindValidation, "invalid row: %s", strings.Join(errs, "; "))
	}
	return r, nil
}

func toInt64(v any) (int64, error) {
	switch n := v.(type) {
	case nil:
		return 0, nil
	case int64:
		return n, nil
	case int:
		return int64(n), nil
	case float64:
		if n != math.Trunc(n) || math.IsInf(n, 0) || math.IsNaN(n) {
			return 0, fmt.Errorf("want whole number, got %v", n)
		}
		return int64(n), nil
	case string:
		s := strings.TrimSpace(n)
		if s == "" {
			return 0, nil
		}
		if i, err := strconv.ParseInt(s, 10, 64); err == nil {
			return i, nil
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil || f != math.Trunc(f) {
			return 0, fmt.Errorf("want number, got %q", n)
		}
		return int64(f), nil
	default:
		return 0, fmt.Errorf("want number, got %T", v)
	}
}

// cellIdentity returns column A of row as a comparable identity.
func cellIdentity(row []any) string {
	if len(row) == 0 {
		return ""
	}
	s, _ := row[colIdentity].(string)
	return strings.ToLower(strings.TrimSpace(s))
}

// tableAddress returns the A1 range covering worksheet rows 1 through n.
func tableAddress(n int) string {
	return fmt.Sprintf("A1:%c%d", 'A'+columnCount-1, n)
}

// rowAddress returns the A1 range covering worksheet row n (1-based).
func rowAddress(n int) string {
	return fmt.Sprintf("A%d:%c%d", n, 'A'+columnCount-1, n)
}
