// 版权所有 2024 AgentGov Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 cost 把 token 用量换算为金额（分）并写入成本账本。

# 计费规则

  - 价格表按模型给出每 1000 token 的输入/输出价格（整数分），未知模型使用固定的兜底档位 {3, 15}，永不为零。
  - cacheReadTokens 是 inputTokens 的一部分，按输入价格的 10% 计费，替代该部分的正常输入费用。
  - cacheWriteTokens 在输入费用之外额外按输入价格的 125% 计费。
  - costCents = round(inputCost + cacheWriteCost + outputCost)，四舍五入到整数分。

计算全程使用 shopspring/decimal，避免浮点误差影响回归值。

# 估算

Estimator 在调用前用 tiktoken 统计提示词 token 数，加上配置的预期输出
token 数，估算本次调用的成本，供预算预检使用。
*/
package cost
