package ctxstore

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(t.TempDir(), zerolog.Nop())
	require.NoError(t, err)
	return s
}

func TestLearningsRoundTrip(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, s.AddLearning(Learning{Time: "2026-08-24", Topic: "趋势", Content: "上升趋势中回调是入场机会"}))
	require.NoError(t, s.AddLearning(Learning{Time: "2026-08-24", Topic: "量能", Content: "放量突破更可靠"}))

	items, err := s.Learnings()
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "趋势", items[0].Topic)
	assert.Equal(t, "放量突破更可靠", items[1].Content)
}

func TestLearningsCapped(t *testing.T) {
	s := newTestStore(t)

	for i := 0; i < MaxLearnings+5; i++ {
		require.NoError(t, s.AddLearning(Learning{Topic: fmt.Sprintf("t%d", i)}))
	}
	items, err := s.Learnings()
	require.NoError(t, err)
	require.Len(t, items, MaxLearnings)
	// oldest entries dropped
	assert.Equal(t, "t5", items[0].Topic)
	assert.Equal(t, fmt.Sprintf("t%d", MaxLearnings+4), items[len(items)-1].Topic)
}

func TestReviewsCapped(t *testing.T) {
	s := newTestStore(t)

	for i := 0; i < 25; i++ {
		require.NoError(t, s.AddReview(Review{Symbol: fmt.Sprintf("S%d", i)}))
	}
	items, err := s.Reviews()
	require.NoError(t, err)
	// the newest 20 reviews survive
	require.Len(t, items, 20)
	assert.Equal(t, "S5", items[0].Symbol)
	assert.Equal(t, "S24", items[19].Symbol)
}

func TestStrategiesCapped(t *testing.T) {
	s := newTestStore(t)

	for i := 0; i < 15; i++ {
		require.NoError(t, s.AddStrategy(Strategy{Notes: fmt.Sprintf("n%d", i)}))
	}
	items, err := s.Strategies()
	require.NoError(t, err)
	// the newest 10 strategy revisions survive
	require.Len(t, items, 10)
	assert.Equal(t, "n5", items[0].Notes)
}

func TestStrategiesAndLatest(t *testing.T) {
	s := newTestStore(t)

	_, ok, err := s.LatestStrategy()
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.AddStrategy(Strategy{Version: "1.0.0"}))
	require.NoError(t, s.AddStrategy(Strategy{Version: "1.1.0", Rules: []string{"严格止损"}}))

	latest, ok, err := s.LatestStrategy()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "1.1.0", latest.Version)
	assert.Equal(t, []string{"严格止损"}, latest.Rules)
}

func TestReviewedRegistry(t *testing.T) {
	s := newTestStore(t)

	key := "BTCUSDT|12345"
	assert.False(t, s.IsReviewed(key))
	require.NoError(t, s.MarkReviewed(key))
	assert.True(t, s.IsReviewed(key))
	assert.False(t, s.IsReviewed("ETHUSDT|1"))
}

func TestReviewedRegistrySweepsStaleKeys(t *testing.T) {
	s := newTestStore(t)

	seeded := map[string]string{
		"BTCUSDT|1": time.Now().Add(-reviewedRetention - 24*time.Hour).Format(time.RFC3339),
		"ETHUSDT|2": time.Now().Add(-time.Hour).Format(time.RFC3339),
		"SOLUSDT|3": "not-a-timestamp",
	}
	require.NoError(t, s.save(reviewedFile, seeded, len(seeded)))

	require.NoError(t, s.MarkReviewed("XRPUSDT|4"))

	assert.False(t, s.IsReviewed("BTCUSDT|1"))
	assert.True(t, s.IsReviewed("ETHUSDT|2"))
	// unparseable timestamps are treated as stale
	assert.False(t, s.IsReviewed("SOLUSDT|3"))
	assert.True(t, s.IsReviewed("XRPUSDT|4"))
}

func TestStoreFileNames(t *testing.T) {
	dir := t.TempDir()
	s, err := New(dir, zerolog.Nop())
	require.NoError(t, err)

	require.NoError(t, s.AddLearning(Learning{Topic: "趋势"}))
	require.NoError(t, s.AddReview(Review{Symbol: "BTCUSDT"}))
	require.NoError(t, s.AddStrategy(Strategy{Name: "优化策略_0824_1200"}))
	require.NoError(t, s.MarkReviewed("BTCUSDT|1"))

	for _, name := range []string{
		"learning_results.json",
		"review_knowledge.json",
		"optimized_strategies.json",
		"reviewed_symbols.json",
	} {
		_, err := os.Stat(filepath.Join(dir, name))
		assert.NoError(t, err, name)
	}
}

func TestEnvelopeFormat(t *testing.T) {
	dir := t.TempDir()
	s, err := New(dir, zerolog.Nop())
	require.NoError(t, err)
	require.NoError(t, s.AddLearning(Learning{Topic: "x"}))

	data, err := os.ReadFile(filepath.Join(dir, "learning_results.json"))
	require.NoError(t, err)

	var env map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(data, &env))
	assert.Contains(t, env, "version")
	assert.Contains(t, env, "updated_at")
	assert.Contains(t, env, "count")
	assert.Contains(t, env, "payload")

	var count int
	require.NoError(t, json.Unmarshal(env["count"], &count))
	assert.Equal(t, 1, count)
}

func TestCorruptFileRebuilt(t *testing.T) {
	dir := t.TempDir()
	s, err := New(dir, zerolog.Nop())
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "learning_results.json"), []byte("{broken"), 0o644))
	require.NoError(t, s.AddLearning(Learning{Topic: "after"}))

	items, err := s.Learnings()
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "after", items[0].Topic)
}

func TestNoStaleTempFiles(t *testing.T) {
	dir := t.TempDir()
	s, err := New(dir, zerolog.Nop())
	require.NoError(t, err)
	require.NoError(t, s.AddReview(Review{Symbol: "BTCUSDT"}))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	for _, e := range entries {
		assert.NotContains(t, e.Name(), ".tmp-")
	}
}

func TestStats(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.AddLearning(Learning{}))
	require.NoError(t, s.AddReview(Review{}))
	require.NoError(t, s.AddReview(Review{}))
	require.NoError(t, s.MarkReviewed("a|1"))

	stats := s.Stats()
	assert.Equal(t, 1, stats.Learnings)
	assert.Equal(t, 2, stats.Reviews)
	assert.Equal(t, 0, stats.Strategies)
	assert.Equal(t, 1, stats.Reviewed)
}
