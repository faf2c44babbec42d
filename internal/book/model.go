package book

import (
	"math"
	"strconv"
	"time"

	"github.com/pkg/errors"
)

// Transaction is a loaded transaction with all of its splits.
type Transaction struct {
	GUID        string
	Num         string
	Description string
	PostDate    time.Time
	Splits      []*Split
}

// Split assigns part of a transaction's value to one account.
type Split struct {
	GUID        string
	Memo        string
	ValueNum    int64
	ValueDenom  int64
	Account     *Account
	Transaction *Transaction
}

// Value renders the split amount as a decimal string.
func (s *Split) Value() string {
	return formatAmount(s.ValueNum, s.ValueDenom)
}

// Other returns the counterpart split when the transaction has exactly two.
func (s *Split) Other() (*Split, bool) {
	t := s.Transaction
	if t == nil || len(t.Splits) != 2 {
		return nil, false
	}
	if t.Splits[0] == s {
		return t.Splits[1], true
	}
	if t.Splits[1] == s {
		return t.Splits[0], true
	}
	return nil, false
}

func formatAmount(num, denom int64) string {
	if denom <= 0 {
		return strconv.FormatInt(num, 10)
	}
	sign := ""
	if num < 0 {
		sign = "-"
		num = -num
	}
	exp := 0
	for d := denom; d > 1 && d%10 == 0; d /= 10 {
		exp++
	}
	if exp > 18 || int64(math.Pow10(exp)) != denom {
		return sign + strconv.FormatFloat(float64(num)/float64(denom), 'f', -1, 64)
	}
	if exp == 0 {
		return sign + strconv.FormatInt(num, 10)
	}
	digits := strconv.FormatInt(num, 10)
	for len(digits) <= exp {
		digits = "0" + digits
	}
	return sign + digits[:len(digits)-exp] + "." + digits[len(digits)-exp:]
}

// GnuCash has stored timestamps both as "2006-01-02 15:04:05" and as the
// compact "20060102150405" form, depending on version.
var bookTimeLayouts = []string{
	"2006-01-02 15:04:05",
	"20060102150405",
	"2006-01-02",
}

func parseBookTime(s string) (time.Time, error) {
	for _, layout := range bookTimeLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t, nil
		}
	}
	return time.Time{}, errors.Errorf("unrecognized timestamp %q", s)
}

func formatBookTime(t time.Time) string {
	return t.UTC().Format("2006-01-02 15:04:05")
}
