// Package format converts raw magnitudes into display strings.
package format

import (
	"math"
	"strconv"

	"github.com/shopspring/decimal"
	"golang.org/x/text/currency"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/number"
)

// DefaultLocale matches the locale the server renders pages in.
var DefaultLocale = language.Italian

var suffixes = []struct {
	threshold float64
	suffix    string
}{
	{1e12, "T"},
	{1e9, "B"},
	{1e6, "M"},
	{1e3, "K"},
}

// Formatter formats numbers, prices and labels for one locale.
// It is safe for concurrent use.
type Formatter struct {
	printer *message.Printer
}

// New creates a Formatter for the given locale.
func New(tag language.Tag) *Formatter {
	return &Formatter{
		printer: message.NewPrinter(tag, message.Catalog(labels)),
	}
}

// Default formats with DefaultLocale.
var Default = New(DefaultLocale)

// Abbreviate formats n with Default. See Formatter.Abbreviate.
func Abbreviate(n float64, decimals int) string {
	return Default.Abbreviate(n, decimals)
}

// Abbreviate renders n with a T/B/M/K suffix. A value at or above 100 times
// the chosen threshold is rounded to an integer, otherwise it keeps decimals
// fractional digits. Magnitudes below 1000 use locale-grouped plain
// formatting.
func (f *Formatter) Abbreviate(n float64, decimals int) string {
	if decimals < 0 {
		decimals = 0
	}

	abs := math.Abs(n)
	sign := ""
	if n < 0 {
		sign = "-"
	}

	for _, s := range suffixes {
		if abs < s.threshold {
			continue
		}
		value := abs / s.threshold
		if value >= 100 {
			return sign + strconv.FormatFloat(math.Round(value), 'f', 0, 64) + s.suffix
		}
		return sign + strconv.FormatFloat(value, 'f', decimals, 64) + s.suffix
	}

	return f.Plain(n)
}

// Plain renders n with locale digit grouping and at most three fraction digits.
func (f *Formatter) Plain(n float64) string {
	return f.printer.Sprint(number.Decimal(n, number.MaxFractionDigits(3)))
}

// CurrencySymbol returns the narrow symbol for an ISO 4217 code, or the code
// itself when it is unknown.
func (f *Formatter) CurrencySymbol(code string) string {
	unit, err := currency.ParseISO(code)
	if err != nil {
		return code
	}
	return f.printer.Sprint(currency.NarrowSymbol(unit))
}

// Price renders an amount the way price displays show it, e.g. "€125.50".
func (f *Formatter) Price(amount decimal.Decimal, code string) string {
	return f.CurrencySymbol(code) + amount.StringFixed(2)
}

// IsValidCurrency reports whether code is a known ISO 4217 currency.
func IsValidCurrency(code string) bool {
	if len(code) != 3 {
		return false
	}
	_, err := currency.ParseISO(code)
	return err == nil
}
