// Package timeutil provides timeframe parsing and kline boundary math.
//
// All boundary alignment is done in the exchange display timezone
// (Asia/Shanghai, UTC+8) so that daily and weekly candles line up with
// what traders see on the exchange UI.
package timeutil

import (
	"fmt"
	"regexp"
	"strconv"
	"time"
)

// Shanghai is the fixed UTC+8 zone used for all candle alignment.
var Shanghai = time.FixedZone("Asia/Shanghai", 8*3600)

var timeframeRe = regexp.MustCompile(`^(\d+)([mhdwM])$`)

// unit durations; a month is approximated as 30 days, matching the
// exchange's kline bucketing for scan scheduling purposes.
var unitSeconds = map[string]int64{
	"m": 60,
	"h": 3600,
	"d": 86400,
	"w": 604800,
	"M": 2592000,
}

// ParseTimeframe parses strings like "1m", "15m", "4h", "1d" and returns
// the period duration.
func ParseTimeframe(timeframe string) (time.Duration, error) {
	m := timeframeRe.FindStringSubmatch(timeframe)
	if m == nil {
		return 0, fmt.Errorf("invalid timeframe format: %q", timeframe)
	}
	n, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid timeframe value: %q", timeframe)
	}
	secs, ok := unitSeconds[m[2]]
	if !ok {
		return 0, fmt.Errorf("unsupported timeframe unit: %q", m[2])
	}
	return time.Duration(n*secs) * time.Second, nil
}

// Direction controls which boundary AlignToTimeframe snaps to.
type Direction int

const (
	Floor Direction = iota
	Ceil
	Round
)

// AlignToTimeframe snaps t to a timeframe boundary in the Shanghai zone.
func AlignToTimeframe(t time.Time, timeframe string, dir Direction) (time.Time, error) {
	period, err := ParseTimeframe(timeframe)
	if err != nil {
		return time.Time{}, err
	}
	ps := int64(period / time.Second)
	ts := t.Unix()

	var aligned int64
	switch dir {
	case Floor:
		aligned = (ts / ps) * ps
	case Ceil:
		aligned = ((ts + ps - 1) / ps) * ps
	case Round:
		aligned = ((ts + ps/2) / ps) * ps
	default:
		return time.Time{}, fmt.Errorf("unsupported align direction: %d", dir)
	}
	return time.Unix(aligned, 0).In(Shanghai), nil
}

// NextKlineTime returns the open time of the candle after the one
// containing t.
func NextKlineTime(t time.Time, timeframe string) (time.Time, error) {
	start, err := AlignToTimeframe(t, timeframe, Floor)
	if err != nil {
		return time.Time{}, err
	}
	period, _ := ParseTimeframe(timeframe)
	return start.Add(period), nil
}

// KlineRange returns the [open, close) interval of the candle containing t.
func KlineRange(t time.Time, timeframe string) (start, end time.Time, err error) {
	start, err = AlignToTimeframe(t, timeframe, Floor)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	end, err = NextKlineTime(start, timeframe)
	return start, end, err
}

// IsKlineClosed reports whether the candle containing klineTime has
// finished as of checkTime.
func IsKlineClosed(klineTime, checkTime time.Time, timeframe string) (bool, error) {
	_, end, err := KlineRange(klineTime, timeframe)
	if err != nil {
		return false, err
	}
	return !checkTime.Before(end), nil
}

// UntilNextKline returns how long from now until the next candle opens.
func UntilNextKline(now time.Time, timeframe string) (time.Duration, error) {
	next, err := NextKlineTime(now, timeframe)
	if err != nil {
		return 0, err
	}
	return next.Sub(now), nil
}

// FromTimestamp converts a unix timestamp to Shanghai time. Values above
// 1e10 are treated as milliseconds, everything else as seconds.
func FromTimestamp(ts int64) time.Time {
	if ts > 1e10 {
		return time.UnixMilli(ts).In(Shanghai)
	}
	return time.Unix(ts, 0).In(Shanghai)
}

// ToMillis returns t as a millisecond unix timestamp.
func ToMillis(t time.Time) int64 {
	return t.UnixMilli()
}

// NowShanghai returns the current time in the Shanghai zone.
func NowShanghai() time.Time {
	return time.Now().In(Shanghai)
}

// FormatTime renders t in one of the fixed display layouts used across
// logs and saved results.
func FormatTime(t time.Time, layout string) string {
	switch layout {
	case "date":
		return t.Format("2006-01-02")
	case "time":
		return t.Format("15:04:05")
	case "short":
		return t.Format("01-02 15:04")
	case "full":
		return t.Format("2006年01月02日 15:04:05")
	case "iso":
		return t.Format(time.RFC3339)
	default:
		return t.Format("2006-01-02 15:04:05")
	}
}

// TimeAgo renders how far in the past t is, in compact Chinese units
// ("3秒前", "5分钟前"). Anything older than a month falls back to the date.
func TimeAgo(t, now time.Time) string {
	d := now.Sub(t)
	switch {
	case d < 0:
		return "未来"
	case d < time.Minute:
		return fmt.Sprintf("%d秒前", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%d分钟前", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%d小时前", int(d.Hours()))
	case d < 30*24*time.Hour:
		return fmt.Sprintf("%d天前", int(d.Hours()/24))
	default:
		return FormatTime(t, "date")
	}
}
