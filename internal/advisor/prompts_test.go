package advisor

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFillTemplate(t *testing.T) {
	out := fillTemplate("分析 {symbol}，价格 {current_price}，未知 {missing}", map[string]string{
		"symbol":        "BTCUSDT",
		"current_price": "95,000.00",
	})
	assert.Equal(t, "分析 BTCUSDT，价格 95,000.00，未知 {missing}", out)
}

func TestBuiltinPrompts(t *testing.T) {
	pm := NewPromptManager("")

	for _, kind := range []string{PromptAnalysis, PromptLearning, PromptReview} {
		system, err := pm.System(kind)
		require.NoError(t, err, kind)
		assert.NotEmpty(t, system, kind)

		user, err := pm.User(kind, nil)
		require.NoError(t, err, kind)
		assert.NotEmpty(t, user, kind)
	}

	_, err := pm.System("bogus")
	assert.Error(t, err)

	cfg := pm.Config(PromptAnalysis)
	assert.Equal(t, 0.3, cfg.Temperature)
	assert.Equal(t, 2000, cfg.MaxTokens)

	cfg = pm.Config(PromptLearning)
	assert.Equal(t, 0.7, cfg.Temperature)
	assert.Equal(t, 3000, cfg.MaxTokens)
}

func TestPromptOverrideFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "prompts.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"analysis": {"system": "自定义系统提示词", "temperature": 0.1}
	}`), 0o644))

	pm := NewPromptManager(path)

	system, err := pm.System(PromptAnalysis)
	require.NoError(t, err)
	assert.Equal(t, "自定义系统提示词", system)

	// user template falls back to the builtin
	user, err := pm.User(PromptAnalysis, map[string]string{"symbol": "ETHUSDT"})
	require.NoError(t, err)
	assert.Contains(t, user, "ETHUSDT")

	cfg := pm.Config(PromptAnalysis)
	assert.Equal(t, 0.1, cfg.Temperature)
	assert.Equal(t, 2000, cfg.MaxTokens)
}

func TestPromptOverrideMissingFile(t *testing.T) {
	pm := NewPromptManager(filepath.Join(t.TempDir(), "nope.json"))
	system, err := pm.System(PromptReview)
	require.NoError(t, err)
	assert.NotEmpty(t, system)
}
