// Package symbols parses and normalizes trading pair symbols across the
// formats different exchanges use (BTCUSDT, BTC/USDT, BTC-USDT, BTC_USDT).
package symbols

import (
	"fmt"
	"sort"
	"strings"
)

// quoteCurrencies are the quote assets recognized when splitting a
// concatenated symbol. Order matters: the first suffix match wins.
var quoteCurrencies = []string{
	"USDT", "USDC", "BUSD", "USD", "TUSD",
	"BTC", "ETH", "BNB",
	"EUR", "GBP", "JPY", "CNY",
}

// Pair is a parsed trading symbol.
type Pair struct {
	Symbol    string `json:"symbol"`    // original input
	Base      string `json:"base"`      // e.g. BTC
	Quote     string `json:"quote"`     // e.g. USDT
	Formatted string `json:"formatted"` // BASE/QUOTE
}

// Parse splits a symbol into base and quote. It first tries explicit
// separators, then quote-suffix matching for concatenated forms.
func Parse(symbol string) (Pair, bool) {
	original := symbol
	s := strings.ToUpper(strings.TrimSpace(symbol))
	if s == "" {
		return Pair{}, false
	}

	base, quote, ok := splitBySeparator(s)
	if !ok {
		base, quote, ok = splitBySuffix(s)
	}
	if !ok {
		return Pair{}, false
	}

	return Pair{
		Symbol:    original,
		Base:      base,
		Quote:     quote,
		Formatted: base + "/" + quote,
	}, true
}

func splitBySeparator(s string) (base, quote string, ok bool) {
	for _, sep := range []string{"/", "-", "_"} {
		if strings.Contains(s, sep) {
			parts := strings.Split(s, sep)
			if len(parts) == 2 && parts[0] != "" && parts[1] != "" {
				return parts[0], parts[1], true
			}
			return "", "", false
		}
	}
	return "", "", false
}

func splitBySuffix(s string) (base, quote string, ok bool) {
	for _, q := range quoteCurrencies {
		if strings.HasSuffix(s, q) && len(s) > len(q) {
			return s[:len(s)-len(q)], q, true
		}
	}
	return "", "", false
}

// Format is a target symbol layout.
type Format string

const (
	FormatBinance    Format = "binance"    // BTCUSDT
	FormatStandard   Format = "standard"   // BTC/USDT
	FormatHyphen     Format = "hyphen"     // BTC-USDT
	FormatUnderscore Format = "underscore" // BTC_USDT
)

// Normalize re-renders a symbol in the requested format. Unparseable
// input is returned unchanged.
func Normalize(symbol string, format Format) string {
	p, ok := Parse(symbol)
	if !ok {
		return symbol
	}
	switch format {
	case FormatBinance:
		return p.Base + p.Quote
	case FormatHyphen:
		return p.Base + "-" + p.Quote
	case FormatUnderscore:
		return p.Base + "_" + p.Quote
	default:
		return p.Base + "/" + p.Quote
	}
}

// Quote returns the quote currency, or "" when unparseable.
func Quote(symbol string) string {
	p, ok := Parse(symbol)
	if !ok {
		return ""
	}
	return p.Quote
}

// Base returns the base currency, or "" when unparseable.
func Base(symbol string) string {
	p, ok := Parse(symbol)
	if !ok {
		return ""
	}
	return p.Base
}

// IsValid reports whether the symbol parses as a pair.
func IsValid(symbol string) bool {
	_, ok := Parse(symbol)
	return ok
}

// FilterByQuote keeps the symbols quoted in the given currency.
func FilterByQuote(list []string, quote string) []string {
	quote = strings.ToUpper(quote)
	var out []string
	for _, s := range list {
		if Quote(s) == quote {
			out = append(out, s)
		}
	}
	return out
}

// GroupByQuote buckets symbols by their quote currency.
func GroupByQuote(list []string) map[string][]string {
	groups := make(map[string][]string)
	for _, s := range list {
		if q := Quote(s); q != "" {
			groups[q] = append(groups[q], s)
		}
	}
	return groups
}

// GroupByBase buckets symbols by their base currency.
func GroupByBase(list []string) map[string][]string {
	groups := make(map[string][]string)
	for _, s := range list {
		if b := Base(s); b != "" {
			groups[b] = append(groups[b], s)
		}
	}
	return groups
}

// SearchByCurrency returns the symbols whose base or quote matches the
// given currency code.
func SearchByCurrency(currency string, list []string) []string {
	currency = strings.ToUpper(strings.TrimSpace(currency))
	var out []string
	for _, s := range list {
		p, ok := Parse(s)
		if !ok {
			continue
		}
		if p.Base == currency || p.Quote == currency {
			out = append(out, s)
		}
	}
	return out
}

// SmartSearch resolves user input against the known symbol list. A full
// pair matches exactly (after normalization); a bare currency expands to
// every pair containing it, with defaultQuote pairs ranked first.
func SmartSearch(input string, list []string, defaultQuote string) []string {
	input = strings.ToUpper(strings.TrimSpace(input))
	if input == "" {
		return nil
	}

	if IsValid(input) {
		want := Normalize(input, FormatBinance)
		var out []string
		for _, s := range list {
			if Normalize(s, FormatBinance) == want {
				out = append(out, s)
			}
		}
		return out
	}

	matches := SearchByCurrency(input, list)
	var priority, rest []string
	for _, s := range matches {
		p, _ := Parse(s)
		if p.Base == input && p.Quote == defaultQuote {
			priority = append(priority, s)
		} else {
			rest = append(rest, s)
		}
	}
	return append(priority, rest...)
}

// SuggestPairs proposes candidate pairs for a bare currency.
func SuggestPairs(currency string, quotes []string) []string {
	currency = strings.ToUpper(strings.TrimSpace(currency))
	if len(quotes) == 0 {
		quotes = []string{"USDT", "USDC", "BUSD", "BTC", "ETH"}
	}
	var out []string
	for _, q := range quotes {
		if currency != q {
			out = append(out, currency+q)
		}
	}
	return out
}

// ParseCustomSymbols splits a comma-separated configuration value into
// normalized exchange symbols. Entries that do not parse as a pair are
// kept uppercased so the scanner can smart-search them later.
func ParseCustomSymbols(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if IsValid(part) {
			out = append(out, Normalize(part, FormatBinance))
		} else {
			out = append(out, strings.ToUpper(part))
		}
	}
	return out
}

// Stats summarizes a symbol list for diagnostics.
type Stats struct {
	Total             int            `json:"total"`
	UniqueBases       int            `json:"unique_bases"`
	UniqueQuotes      int            `json:"unique_quotes"`
	QuoteDistribution map[string]int `json:"quote_distribution"`
	TopBases          []string       `json:"top_bases"`
}

// Summarize computes distribution stats over a symbol list.
func Summarize(list []string) Stats {
	byQuote := GroupByQuote(list)
	byBase := GroupByBase(list)

	dist := make(map[string]int, len(byQuote))
	for q, ss := range byQuote {
		dist[q] = len(ss)
	}

	bases := make([]string, 0, len(byBase))
	for b := range byBase {
		bases = append(bases, b)
	}
	sort.Slice(bases, func(i, j int) bool {
		if len(byBase[bases[i]]) != len(byBase[bases[j]]) {
			return len(byBase[bases[i]]) > len(byBase[bases[j]])
		}
		return bases[i] < bases[j]
	})
	if len(bases) > 10 {
		bases = bases[:10]
	}

	return Stats{
		Total:             len(list),
		UniqueBases:       len(byBase),
		UniqueQuotes:      len(byQuote),
		QuoteDistribution: dist,
		TopBases:          bases,
	}
}

// String implements fmt.Stringer for log output.
func (p Pair) String() string {
	return fmt.Sprintf("%s (%s)", p.Formatted, p.Symbol)
}
