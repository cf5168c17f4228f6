package cost

import (
	"sort"
	"strings"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/BaSui01/agentgov/config"
)

// Price 每 1000 token 的价格（分）
type Price struct {
	InputPer1K  int64 `json:"input_per_1k"`
	OutputPer1K int64 `json:"output_per_1k"`
}

func (p Price) valid() bool {
	return p.InputPer1K > 0 && p.OutputPer1K > 0
}

// FallbackPrice 未知模型的计费档位
var FallbackPrice = Price{InputPer1K: 3, OutputPer1K: 15}

var (
	// 缓存读取按输入价格的 10% 计费
	cacheReadMultiplier = decimal.New(10, -2)
	// 缓存写入额外按输入价格的 125% 计费
	cacheWriteMultiplier = decimal.New(125, -2)
	perThousand          = decimal.NewFromInt(1000)
)

// DefaultPrices 内置模型价格
func DefaultPrices() map[string]Price {
	return map[string]Price{
		"claude-3-5-sonnet": {InputPer1K: 3, OutputPer1K: 15},
		"claude-3-7-sonnet": {InputPer1K: 3, OutputPer1K: 15},
		"claude-3-5-haiku":  {InputPer1K: 1, OutputPer1K: 4},
		"claude-3-opus":     {InputPer1K: 15, OutputPer1K: 75},
		"claude-3-haiku":    {InputPer1K: 1, OutputPer1K: 2},
		"gpt-4o":            {InputPer1K: 3, OutputPer1K: 10},
		"gpt-4o-mini":       {InputPer1K: 1, OutputPer1K: 1},
		"gpt-4-turbo":       {InputPer1K: 10, OutputPer1K: 30},
	}
}

// PricingTable 模型价格表
type PricingTable struct {
	prices   map[string]Price
	prefixes []string
	fallback Price
}

// NewPricingTable 创建价格表。overrides 覆盖内置价格，非正数的覆盖被忽略并记录告警。
func NewPricingTable(overrides map[string]Price, fallback Price, logger *zap.Logger) *PricingTable {
	if logger == nil {
		logger = zap.NewNop()
	}
	prices := DefaultPrices()
	for model, p := range overrides {
		if !p.valid() {
			logger.Warn("ignoring invalid model price override",
				zap.String("model", model),
				zap.Int64("input_per_1k", p.InputPer1K),
				zap.Int64("output_per_1k", p.OutputPer1K),
			)
			continue
		}
		prices[model] = p
	}
	if !fallback.valid() {
		if fallback != (Price{}) {
			logger.Warn("ignoring invalid fallback price, using built-in default",
				zap.Int64("input_per_1k", fallback.InputPer1K),
				zap.Int64("output_per_1k", fallback.OutputPer1K),
			)
		}
		fallback = FallbackPrice
	}

	// 最长前缀优先，带日期后缀的模型 id 也能命中
	prefixes := make([]string, 0, len(prices))
	for model := range prices {
		prefixes = append(prefixes, model)
	}
	sort.Slice(prefixes, func(i, j int) bool {
		if len(prefixes[i]) != len(prefixes[j]) {
			return len(prefixes[i]) > len(prefixes[j])
		}
		return prefixes[i] < prefixes[j]
	})

	return &PricingTable{prices: prices, prefixes: prefixes, fallback: fallback}
}

// PricingFrom 从治理配置构建价格表
func PricingFrom(cfg config.PricingConfig, logger *zap.Logger) *PricingTable {
	overrides := make(map[string]Price, len(cfg.Models))
	for model, p := range cfg.Models {
		overrides[model] = Price{InputPer1K: p.InputPer1K, OutputPer1K: p.OutputPer1K}
	}
	return NewPricingTable(overrides, Price{InputPer1K: cfg.Default.InputPer1K, OutputPer1K: cfg.Default.OutputPer1K}, logger)
}

// Lookup 返回模型价格；第二个返回值表示是否为已知模型
func (t *PricingTable) Lookup(model string) (Price, bool) {
	if p, ok := t.prices[model]; ok {
		return p, true
	}
	for _, prefix := range t.prefixes {
		if strings.HasPrefix(model, prefix) {
			return t.prices[prefix], true
		}
	}
	return t.fallback, false
}

// Usage 一次调用的 token 用量
type Usage struct {
	InputTokens      int64 `json:"input_tokens"`
	OutputTokens     int64 `json:"output_tokens"`
	CacheReadTokens  int64 `json:"cache_read_tokens,omitempty"`
	CacheWriteTokens int64 `json:"cache_write_tokens,omitempty"`
}

// normalized 负数归零，缓存读取不超过输入
func (u Usage) normalized() Usage {
	clamp := func(v int64) int64 {
		if v < 0 {
			return 0
		}
		return v
	}
	n := Usage{
		InputTokens:      clamp(u.InputTokens),
		OutputTokens:     clamp(u.OutputTokens),
		CacheReadTokens:  clamp(u.CacheReadTokens),
		CacheWriteTokens: clamp(u.CacheWriteTokens),
	}
	if n.CacheReadTokens > n.InputTokens {
		n.CacheReadTokens = n.InputTokens
	}
	return n
}

// Breakdown 未取整的费用明细（分）
type Breakdown struct {
	Input      decimal.Decimal
	CacheRead  decimal.Decimal
	CacheWrite decimal.Decimal
	Output     decimal.Decimal
}

// Total 未取整的总额
func (b Breakdown) Total() decimal.Decimal {
	return b.Input.Add(b.CacheRead).Add(b.CacheWrite).Add(b.Output)
}

// Cents 四舍五入后的总额
func (b Breakdown) Cents() int64 {
	return b.Total().Round(0).IntPart()
}

// Breakdown 按价格计算费用明细
func (p Price) Breakdown(u Usage) Breakdown {
	u = u.normalized()
	inRate := decimal.NewFromInt(p.InputPer1K).Div(perThousand)
	outRate := decimal.NewFromInt(p.OutputPer1K).Div(perThousand)

	regular := decimal.NewFromInt(u.InputTokens - u.CacheReadTokens)
	return Breakdown{
		Input:      regular.Mul(inRate),
		CacheRead:  decimal.NewFromInt(u.CacheReadTokens).Mul(inRate).Mul(cacheReadMultiplier),
		CacheWrite: decimal.NewFromInt(u.CacheWriteTokens).Mul(inRate).Mul(cacheWriteMultiplier),
		Output:     decimal.NewFromInt(u.OutputTokens).Mul(outRate),
	}
}

// Calculate 计算模型用量的成本（分）
func (t *PricingTable) Calculate(model string, u Usage) int64 {
	p, _ := t.Lookup(model)
	return p.Breakdown(u).Cents()
}
