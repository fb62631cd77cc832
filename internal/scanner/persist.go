package scanner

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/rdone4425/trading-ai/internal/timeutil"
)

const (
	retentionDays       = 2
	cleanupIntervalDays = 1
	lastCleanupMarker   = ".last_cleanup"
)

// SaveResults writes the scan to ResultsDir/YYYY-MM-DD/analysis_HHMMSS.json
// and runs the retention sweep first.
func (s *Scanner) SaveResults(result *ScanResult) (string, error) {
	if n := s.CleanupOldResults(); n > 0 {
		s.logger.Info().Int("deleted", n).Msg("已清理过期分析结果")
	}

	now := timeutil.NowShanghai()
	dateDir := filepath.Join(s.cfg.ResultsDir, now.Format("2006-01-02"))
	if err := os.MkdirAll(dateDir, 0o755); err != nil {
		return "", err
	}

	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return "", err
	}
	path := filepath.Join(dateDir, "analysis_"+now.Format("150405")+".json")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", err
	}
	return path, nil
}

// CleanupOldResults deletes date directories older than the retention
// window. The sweep itself runs at most once per cleanup interval,
// tracked by a marker file. Returns the number of files removed.
func (s *Scanner) CleanupOldResults() int {
	base := s.cfg.ResultsDir
	if _, err := os.Stat(base); err != nil {
		return 0
	}

	today := timeutil.NowShanghai().Format("2006-01-02")
	marker := filepath.Join(base, lastCleanupMarker)
	if raw, err := os.ReadFile(marker); err == nil {
		if last, err := time.ParseInLocation("2006-01-02", string(raw), timeutil.Shanghai); err == nil {
			todayDate, _ := time.ParseInLocation("2006-01-02", today, timeutil.Shanghai)
			if int(todayDate.Sub(last).Hours()/24) < cleanupIntervalDays {
				return 0
			}
		}
	}

	cutoff := timeutil.NowShanghai().AddDate(0, 0, -retentionDays).Format("2006-01-02")
	deleted := 0

	entries, err := os.ReadDir(base)
	if err != nil {
		return 0
	}
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		if _, err := time.ParseInLocation("2006-01-02", entry.Name(), timeutil.Shanghai); err != nil {
			continue
		}
		if entry.Name() >= cutoff {
			continue
		}
		dir := filepath.Join(base, entry.Name())
		files, _ := filepath.Glob(filepath.Join(dir, "analysis_*.json"))
		deleted += len(files)
		if err := os.RemoveAll(dir); err != nil {
			s.logger.Warn().Str("dir", dir).Err(err).Msg("删除分析目录失败")
		} else {
			s.logger.Debug().Str("dir", entry.Name()).Msg("已删除分析目录")
		}
	}

	if err := os.WriteFile(marker, []byte(today), 0o644); err != nil {
		s.logger.Warn().Err(err).Msg("更新清理时间失败")
	}
	return deleted
}
