package compositor

import (
	"fmt"
	"math"

	"golang.org/x/text/currency"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/number"
)

// PriceFormatter renders whole-unit prices with locale digit grouping,
// prefixed by the ISO currency code.
type PriceFormatter struct {
	printer *message.Printer
	unit    currency.Unit
}

func NewPriceFormatter(locale, code string) (*PriceFormatter, error) {
	tag, err := language.Parse(locale)
	if err != nil {
		return nil, fmt.Errorf("parse locale %q: %w", locale, err)
	}
	unit, err := currency.ParseISO(code)
	if err != nil {
		return nil, fmt.Errorf("parse currency %q: %w", code, err)
	}
	return &PriceFormatter{printer: message.NewPrinter(tag), unit: unit}, nil
}

func (f *PriceFormatter) Format(amount float64) string {
	rounded := math.Round(amount)
	return f.unit.String() + " " + f.printer.Sprint(number.Decimal(rounded, number.MaxFractionDigits(0)))
}
