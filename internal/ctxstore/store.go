// Package ctxstore persists the advisor's accumulated context between
// runs: learning notes, trade reviews, strategy revisions and the
// registry of already-reviewed trades. Everything lives in small JSON
// files written atomically, so a crash mid-write never corrupts state.
package ctxstore

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Retention caps per store. Older entries fall off the front.
const (
	MaxLearnings  = 20
	MaxReviews    = 20
	MaxStrategies = 10

	// reviewedRetention bounds the reviewed-trade registry: keys older
	// than this are swept on the next write.
	reviewedRetention = 30 * 24 * time.Hour

	storeVersion = 1
)

// Store file names.
const (
	learningsFile  = "learning_results.json"
	reviewsFile    = "review_knowledge.json"
	strategiesFile = "optimized_strategies.json"
	reviewedFile   = "reviewed_symbols.json"
)

// Learning is one market-learning note produced by the learning flow.
type Learning struct {
	Time    string `json:"time"`
	Topic   string `json:"topic"`
	Content string `json:"content"`
}

// Review is the post-trade review of one closed trade.
type Review struct {
	Time         string   `json:"time"`
	Symbol       string   `json:"symbol"`
	Direction    string   `json:"direction"`
	EntryPrice   float64  `json:"entry_price"`
	ExitPrice    float64  `json:"exit_price"`
	Pnl          float64  `json:"pnl"`
	Summary      string   `json:"summary"`
	Lessons      []string `json:"lessons"`
	Improvements []string `json:"improvements"`
	Weaknesses   []string `json:"weaknesses"`
}

// Strategy is one revision of the trading strategy.
type Strategy struct {
	Name      string   `json:"name"`
	Version   string   `json:"version"`
	CreatedAt string   `json:"created_at"`
	Rules     []string `json:"rules"`
	Entry     []string `json:"entry"`
	Exit      []string `json:"exit"`
	Notes     string   `json:"notes"`
}

// envelope wraps every store file with versioning metadata.
type envelope struct {
	Version   int             `json:"version"`
	UpdatedAt string          `json:"updated_at"`
	Count     int             `json:"count"`
	Payload   json.RawMessage `json:"payload"`
}

// Store is the on-disk context store. Safe for concurrent use.
type Store struct {
	dir    string
	logger zerolog.Logger

	mu sync.Mutex
}

// New opens a store rooted at dir, creating it if needed.
func New(dir string, logger zerolog.Logger) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create context dir: %w", err)
	}
	return &Store{
		dir:    dir,
		logger: logger.With().Str("component", "ctxstore").Logger(),
	}, nil
}

func (s *Store) path(name string) string {
	return filepath.Join(s.dir, name)
}

// load reads one envelope file into dst. A missing file is not an
// error; dst is left untouched.
func (s *Store) load(name string, dst any) error {
	data, err := os.ReadFile(s.path(name))
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read %s: %w", name, err)
	}
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return fmt.Errorf("decode %s: %w", name, err)
	}
	if err := json.Unmarshal(env.Payload, dst); err != nil {
		return fmt.Errorf("decode %s payload: %w", name, err)
	}
	return nil
}

// save writes payload wrapped in an envelope, via temp file and rename.
func (s *Store) save(name string, payload any, count int) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode %s payload: %w", name, err)
	}
	env := envelope{
		Version:   storeVersion,
		UpdatedAt: time.Now().Format(time.RFC3339),
		Count:     count,
		Payload:   raw,
	}
	data, err := json.MarshalIndent(env, "", "  ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", name, err)
	}

	tmp, err := os.CreateTemp(s.dir, name+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp for %s: %w", name, err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write temp for %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp for %s: %w", name, err)
	}
	if err := os.Rename(tmpName, s.path(name)); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace %s: %w", name, err)
	}
	return nil
}

// AddLearning appends a learning note, trimming to MaxLearnings.
func (s *Store) AddLearning(l Learning) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var items []Learning
	if err := s.load(learningsFile, &items); err != nil {
		s.logger.Warn().Err(err).Msg("学习记录读取失败，重建文件")
		items = nil
	}
	items = append(items, l)
	if len(items) > MaxLearnings {
		items = items[len(items)-MaxLearnings:]
	}
	return s.save(learningsFile, items, len(items))
}

// Learnings returns the stored learning notes, oldest first.
func (s *Store) Learnings() ([]Learning, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var items []Learning
	err := s.load(learningsFile, &items)
	return items, err
}

// AddReview appends a trade review, trimming to MaxReviews.
func (s *Store) AddReview(r Review) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var items []Review
	if err := s.load(reviewsFile, &items); err != nil {
		s.logger.Warn().Err(err).Msg("复盘记录读取失败，重建文件")
		items = nil
	}
	items = append(items, r)
	if len(items) > MaxReviews {
		items = items[len(items)-MaxReviews:]
	}
	return s.save(reviewsFile, items, len(items))
}

// Reviews returns the stored trade reviews, oldest first.
func (s *Store) Reviews() ([]Review, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var items []Review
	err := s.load(reviewsFile, &items)
	return items, err
}

// AddStrategy appends a strategy revision, trimming to MaxStrategies.
func (s *Store) AddStrategy(st Strategy) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var items []Strategy
	if err := s.load(strategiesFile, &items); err != nil {
		s.logger.Warn().Err(err).Msg("策略记录读取失败，重建文件")
		items = nil
	}
	items = append(items, st)
	if len(items) > MaxStrategies {
		items = items[len(items)-MaxStrategies:]
	}
	return s.save(strategiesFile, items, len(items))
}

// Strategies returns all strategy revisions, oldest first.
func (s *Store) Strategies() ([]Strategy, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var items []Strategy
	err := s.load(strategiesFile, &items)
	return items, err
}

// LatestStrategy returns the newest strategy revision, if any.
func (s *Store) LatestStrategy() (Strategy, bool, error) {
	items, err := s.Strategies()
	if err != nil || len(items) == 0 {
		return Strategy{}, false, err
	}
	return items[len(items)-1], true, nil
}

// MarkReviewed records a trade key so its review never runs twice.
// Keys are "symbol|orderId". Each write also sweeps keys older than
// reviewedRetention so the registry cannot grow without bound.
func (s *Store) MarkReviewed(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	reviewed := map[string]string{}
	if err := s.load(reviewedFile, &reviewed); err != nil {
		s.logger.Warn().Err(err).Msg("复盘登记读取失败，重建文件")
		reviewed = map[string]string{}
	}
	cutoff := time.Now().Add(-reviewedRetention)
	for k, marked := range reviewed {
		ts, err := time.Parse(time.RFC3339, marked)
		if err != nil || ts.Before(cutoff) {
			delete(reviewed, k)
		}
	}
	reviewed[key] = time.Now().Format(time.RFC3339)
	return s.save(reviewedFile, reviewed, len(reviewed))
}

// IsReviewed reports whether a trade key was already reviewed.
func (s *Store) IsReviewed(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	reviewed := map[string]string{}
	if err := s.load(reviewedFile, &reviewed); err != nil {
		return false
	}
	_, ok := reviewed[key]
	return ok
}

// Stats summarizes the store contents.
type Stats struct {
	Learnings  int `json:"learnings"`
	Reviews    int `json:"reviews"`
	Strategies int `json:"strategies"`
	Reviewed   int `json:"reviewed"`
}

// Stats counts the entries in every store file.
func (s *Store) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	var learnings []Learning
	var reviews []Review
	var strategies []Strategy
	reviewed := map[string]string{}
	_ = s.load(learningsFile, &learnings)
	_ = s.load(reviewsFile, &reviews)
	_ = s.load(strategiesFile, &strategies)
	_ = s.load(reviewedFile, &reviewed)

	return Stats{
		Learnings:  len(learnings),
		Reviews:    len(reviews),
		Strategies: len(strategies),
		Reviewed:   len(reviewed),
	}
}
