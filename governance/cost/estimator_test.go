package cost

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEstimator_EstimateCents(t *testing.T) {
	table := NewPricingTable(nil, FallbackPrice, nil)
	e := NewEstimator(table, "", 500, nil, WithTokenCounter(func(text string) (int, error) {
		return 1000, nil
	}))

	// 1000 输入 + 500 预期输出，价格 {3, 15}: 3 + 7.5 = 10.5 → 11
	assert.Equal(t, int64(11), e.EstimateCents("claude-3-5-sonnet", "hello"))
	assert.Equal(t, int64(0), e.EstimateCents("claude-3-5-sonnet", ""))
}

func TestEstimator_FallbackCount(t *testing.T) {
	e := NewEstimator(NewPricingTable(nil, FallbackPrice, nil), "cl100k_base", -10, nil,
		WithTokenCounter(func(string) (int, error) { return 0, errors.New("encoding unavailable") }),
	)

	assert.Equal(t, 4, e.CountTokens("0123456789abcdef"))
	assert.Equal(t, int64(0), e.EstimateCents("claude-3-5-sonnet", "0123456789abcdef"), "negative expected output clamps to zero")
}
