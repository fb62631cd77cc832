// Package format renders numbers for prompts, logs and reports. Price
// scales in this market span eight orders of magnitude, so one fixed
// precision cannot serve both BTC and the 1000-prefixed meme pairs.
package format

import (
	"fmt"
	"math"
	"strings"
)

// Smart picks a display format by magnitude: scientific for millions,
// thousands separators above 1000, four decimals above 1, eight
// decimals for sub-unit prices and scientific below 1e-4.
func Smart(value float64) string {
	if value == 0 {
		return "0"
	}
	abs := math.Abs(value)
	switch {
	case abs >= 1e6:
		return fmt.Sprintf("%.2e", value)
	case abs >= 1000:
		return withThousands(value)
	case abs >= 1:
		return fmt.Sprintf("%.4f", value)
	case abs >= 1e-4:
		return fmt.Sprintf("%.8f", value)
	default:
		return fmt.Sprintf("%.8e", value)
	}
}

// Price formats a price for display.
func Price(price float64) string {
	return Smart(price)
}

// Percent formats a percent value (5.5 means 5.5%), signed by default.
func Percent(value float64, withSign bool) string {
	if withSign && value >= 0 {
		return fmt.Sprintf("+%.2f%%", value)
	}
	return fmt.Sprintf("%.2f%%", value)
}

// Volume formats a volume with K/M/B suffixes.
func Volume(volume float64) string {
	if volume == 0 {
		return "0"
	}
	abs := math.Abs(volume)
	switch {
	case abs >= 1e9:
		return fmt.Sprintf("%.2fB", volume/1e9)
	case abs >= 1e6:
		return fmt.Sprintf("%.2fM", volume/1e6)
	case abs >= 1e3:
		return fmt.Sprintf("%.2fK", volume/1e3)
	default:
		return fmt.Sprintf("%.2f", volume)
	}
}

// withThousands renders value with two decimals and comma separators.
func withThousands(value float64) string {
	s := fmt.Sprintf("%.2f", value)
	neg := strings.HasPrefix(s, "-")
	if neg {
		s = s[1:]
	}
	intPart, fracPart, _ := strings.Cut(s, ".")

	var b strings.Builder
	if neg {
		b.WriteByte('-')
	}
	n := len(intPart)
	for i, r := range intPart {
		if i > 0 && (n-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(r)
	}
	b.WriteByte('.')
	b.WriteString(fracPart)
	return b.String()
}
