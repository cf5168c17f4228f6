package cost

import (
	"fmt"
	"sync"

	"github.com/pkoukk/tiktoken-go"
	"go.uber.org/zap"
)

// TokenCounter 统计文本的 token 数
type TokenCounter func(text string) (int, error)

// Estimator 调用前的成本估算
type Estimator struct {
	pricing        *PricingTable
	encoding       string
	expectedOutput int64
	counter        TokenCounter
	logger         *zap.Logger

	once    sync.Once
	enc     *tiktoken.Tiktoken
	initErr error
}

// EstimatorOption 配置 Estimator
type EstimatorOption func(*Estimator)

// WithTokenCounter 替换 tiktoken 计数
func WithTokenCounter(c TokenCounter) EstimatorOption {
	return func(e *Estimator) { e.counter = c }
}

// NewEstimator 创建估算器。encoding 为空时使用 cl100k_base。
func NewEstimator(pricing *PricingTable, encoding string, expectedOutputTokens int, logger *zap.Logger, opts ...EstimatorOption) *Estimator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if encoding == "" {
		encoding = "cl100k_base"
	}
	if expectedOutputTokens < 0 {
		expectedOutputTokens = 0
	}
	e := &Estimator{
		pricing:        pricing,
		encoding:       encoding,
		expectedOutput: int64(expectedOutputTokens),
		logger:         logger.With(zap.String("component", "cost_estimator")),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.counter == nil {
		e.counter = e.tiktokenCount
	}
	return e
}

// init 延迟加载编码（首次使用时可能下载数据）
func (e *Estimator) init() error {
	e.once.Do(func() {
		enc, err := tiktoken.GetEncoding(e.encoding)
		if err != nil {
			e.initErr = fmt.Errorf("init tiktoken encoding %s: %w", e.encoding, err)
			return
		}
		e.enc = enc
	})
	return e.initErr
}

func (e *Estimator) tiktokenCount(text string) (int, error) {
	if err := e.init(); err != nil {
		return 0, err
	}
	return len(e.enc.Encode(text, nil, nil)), nil
}

// CountTokens 返回 token 数，计数失败时回退到 len(text)/4
func (e *Estimator) CountTokens(text string) int {
	n, err := e.counter(text)
	if err != nil {
		e.logger.Warn("token count failed, falling back to estimate", zap.Error(err))
		return len(text) / 4
	}
	return n
}

// EstimateCents 估算一次调用的成本，prompt 为空时返回 0
func (e *Estimator) EstimateCents(model, prompt string) int64 {
	if prompt == "" {
		return 0
	}
	u := Usage{
		InputTokens:  int64(e.CountTokens(prompt)),
		OutputTokens: e.expectedOutput,
	}
	return e.pricing.Calculate(model, u)
}
