package indicators

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"
)

// supportedIndicators maps each indicator to its expected parameter
// count. Configs with fewer parameters fall back to defaults.
var supportedIndicators = map[string]int{
	"ma":     1,
	"ema":    1,
	"rsi":    1,
	"macd":   3,
	"bbands": 3,
	"kdj":    3,
	"atr":    1,
}

// Config maps indicator name to its parameter list, e.g.
// {"ema": [20, 120], "macd": [12, 26, 9]}.
type Config map[string][]float64

// ParseConfig parses a configuration string of the form
// "ema=20,120;rsi=14;macd=12,26,9". Entries are separated by semicolons
// or newlines; lines starting with '#' are skipped. Unknown indicators
// are dropped with a warning.
func ParseConfig(raw string) Config {
	cfg := Config{}
	raw = strings.ReplaceAll(raw, ";", "\n")
	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		name, params, err := parseConfigLine(line)
		if err != nil {
			log.Warn().Str("line", line).Err(err).Msg("Skipping indicator config entry")
			continue
		}
		cfg[name] = params
	}
	return cfg
}

func parseConfigLine(line string) (string, []float64, error) {
	key, value, found := strings.Cut(line, "=")
	if !found {
		return "", nil, fmt.Errorf("missing '='")
	}
	name := strings.ToLower(strings.TrimSpace(key))
	if _, ok := supportedIndicators[name]; !ok {
		return "", nil, fmt.Errorf("unsupported indicator %q", name)
	}

	var params []float64
	for _, p := range strings.Split(value, ",") {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		f, err := strconv.ParseFloat(p, 64)
		if err != nil {
			return "", nil, fmt.Errorf("bad parameter %q", p)
		}
		params = append(params, f)
	}
	return name, params, nil
}

// ParseConfigFromEnv collects INDICATOR_<name>=<params> environment
// entries (prefix configurable) into a Config.
func ParseConfigFromEnv(prefix string) Config {
	cfg := Config{}
	for _, kv := range os.Environ() {
		key, value, _ := strings.Cut(kv, "=")
		if !strings.HasPrefix(key, prefix+"_") || strings.TrimSpace(value) == "" {
			continue
		}
		name := strings.ToLower(key[len(prefix)+1:])
		parsedName, params, err := parseConfigLine(name + "=" + value)
		if err != nil {
			log.Warn().Str("env", key).Err(err).Msg("Skipping indicator env entry")
			continue
		}
		cfg[parsedName] = params
	}
	return cfg
}

// Validate returns a list of problems with the config; an empty list
// means the config is usable.
func (c Config) Validate() []string {
	var errs []string
	for name, params := range c {
		want, ok := supportedIndicators[name]
		if !ok {
			errs = append(errs, fmt.Sprintf("unsupported indicator: %s", name))
			continue
		}
		if name != "ma" && name != "ema" && len(params) < want {
			errs = append(errs, fmt.Sprintf("%s: want %d parameters, got %d", name, want, len(params)))
		}
		for _, p := range params {
			if p <= 0 {
				errs = append(errs, fmt.Sprintf("%s: parameters must be positive", name))
				break
			}
		}
	}
	sort.Strings(errs)
	return errs
}

// String renders the config back into its canonical string form.
func (c Config) String() string {
	names := make([]string, 0, len(c))
	for n := range c {
		names = append(names, n)
	}
	sort.Strings(names)

	var lines []string
	for _, n := range names {
		parts := make([]string, len(c[n]))
		for i, p := range c[n] {
			parts[i] = strconv.FormatFloat(p, 'f', -1, 64)
		}
		lines = append(lines, n+"="+strings.Join(parts, ","))
	}
	return strings.Join(lines, ";")
}
