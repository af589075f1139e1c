package common

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Report widths.
const (
	DefaultWidth = 80
	WideWidth    = 100
)

// PrintHeader opens a report with a title framed by rules.
func PrintHeader(title string, width int) {
	rule := strings.Repeat("=", width)
	fmt.Printf("\n%s\n%s\n%s\n", rule, title, rule)
}

// PrintFooter closes a report with a summary line.
func PrintFooter(summary string, width int) {
	rule := strings.Repeat("=", width)
	fmt.Printf("\n%s\n%s\n%s\n\n", rule, summary, rule)
}

// PrintBoxSeparator ends an account block in tree output.
func PrintBoxSeparator(width int) {
	fmt.Println("├" + strings.Repeat("─", width))
}

// TreePrefixes returns the branch drawn before a tree entry and the indent for
// the detail lines under it. The last entry closes the trunk.
func TreePrefixes(isLast bool) (entry, detail string) {
	if isLast {
		return "└  ", "   "
	}
	return "│  ", "│  "
}

// ShortId truncates ids for tabular output.
func ShortId(id string) string {
	if id == "" {
		return "none"
	}
	if len(id) > 8 {
		return id[:8] + "..."
	}
	return id
}

// FormatMoney renders an amount with two decimals, an explicit sign and the currency code.
func FormatMoney(amount decimal.Decimal, currency string) string {
	s := amount.StringFixed(2)
	if amount.IsPositive() {
		s = "+" + s
	}
	if currency == "" {
		return s
	}
	return s + " " + currency
}
