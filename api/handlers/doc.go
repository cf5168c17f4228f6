// Copyright (c) AgentGov Authors.
// Licensed under the MIT License.

/*
Package handlers 提供 AgentGov HTTP API 的请求处理器实现。

# 核心类型

  - GovernanceHandler — 助手调用、预算状态、上下文失效与限流重置
  - HealthHandler     — 存活与就绪探针（/health, /healthz, /ready）
  - HealthCheck       — 可插拔检查，区分关键依赖（账本）与可降级依赖（网络缓存）
  - Response          — 统一 JSON 信封（success + data + error + timestamp）

# 状态码

策略拒绝不是服务错误：限流返回 429 并设置 Retry-After，预算拒绝返回 402，
二者都在 data 中携带拒绝详情。参数校验失败返回 400，字段错误位于 error.details。
*/
package handlers
