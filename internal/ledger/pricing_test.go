package ledger

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testPricing() *Pricing {
	return NewPricing(map[string]ModelPrice{
		"openai/gpt-4o":   {InputPerMTok: 2_500_000, OutputPerMTok: 10_000_000},
		"openai/gpt-4o-mini": {InputPerMTok: 150_000, OutputPerMTok: 600_000},
	})
}

func TestCostIsPureAndDeterministic(t *testing.T) {
	p := testPricing()

	first, err := p.Cost("openai", "gpt-4o", 12_345, 6_789)
	require.NoError(t, err)
	for i := 0; i < 100; i++ {
		again, err := p.Cost("openai", "gpt-4o", 12_345, 6_789)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestCostValues(t *testing.T) {
	p := testPricing()

	// 1M input at $2.50/MTok plus 1M output at $10/MTok.
	cost, err := p.Cost("openai", "gpt-4o", 1_000_000, 1_000_000)
	require.NoError(t, err)
	assert.Equal(t, MicroUSD(12_500_000), cost)
	assert.Equal(t, "$12.500000", cost.String())

	// Zero tokens cost nothing.
	cost, err = p.Cost("openai", "gpt-4o", 0, 0)
	require.NoError(t, err)
	assert.Equal(t, MicroUSD(0), cost)
}

func TestCostMissingPricing(t *testing.T) {
	p := testPricing()

	cost, err := p.Cost("anthropic", "claude-unknown", 1000, 1000)
	assert.Equal(t, MicroUSD(0), cost)
	assert.ErrorIs(t, err, ErrNoPricing)
	assert.False(t, p.Has("anthropic", "claude-unknown"))
	assert.True(t, p.Has("openai", "gpt-4o"))
}

func TestLoadPricingFromYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pricing.yaml")
	content := `providers:
  openai:
    gpt-4o:
      input_per_mtok: 2.50
      output_per_mtok: 10.00
  glm:
    glm-4:
      input_per_mtok: 0.60
      output_per_mtok: 2.20
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	p, err := LoadPricing(path)
	require.NoError(t, err)

	cost, err := p.Cost("glm", "glm-4", 1_000_000, 0)
	require.NoError(t, err)
	assert.Equal(t, MicroUSD(600_000), cost)

	cost, err = p.Cost("openai", "gpt-4o", 0, 500_000)
	require.NoError(t, err)
	assert.Equal(t, MicroUSD(5_000_000), cost)
}

func TestLoadPricingMissingFile(t *testing.T) {
	_, err := LoadPricing(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}
