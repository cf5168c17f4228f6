// 版权所有 2024 AgentGov Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 budget 提供组织与个人两级的每日 AI 花费上限预检。

# 概述

Enforcer 并行汇总组织与个人当天的账本成本，加上本次调用的估算成本后
与上限比较。组织上限优先判断，其次是个人上限。

# 失败策略

预算是建议性的闸门：汇总失败时 Enforcer 放行请求，并把原因标记为
budget_check_failed。这与限流在生产环境默认故障拒绝的策略相反，是
有意为之。

# 月度视图

月度上限固定为组织每日上限 × 30，只用于状态展示，不参与放行判断。

# 告警

组织或个人当天用量达到上限的 AlertThreshold（默认 0.8）时触发一次
Alert，每个作用域每天至多一次。
*/
package budget
