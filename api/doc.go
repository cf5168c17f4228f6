// Package api 定义 AgentGov HTTP API 的请求与响应结构。
//
// # API Overview
//
// 业务应用在调用 AI 助手前经由 AgentGov 做限流、预算与参数治理：
//   - POST /api/v1/assistant/invoke：治理并执行一次助手调用
//   - GET  /api/v1/assistant/budget：查询调用方的当日与本月预算
//   - POST /api/v1/assistant/context/invalidate：批量失效上下文缓存（管理员）
//   - POST /api/v1/assistant/ratelimit/reset：清空一个限流窗口（管理员）
//
// # Authentication
//
// 所有 /api/v1 端点要求 Bearer JWT，tenant_id 声明映射为组织，user_id 声明映射为个人：
//
//	Authorization: Bearer <token>
//
// # Errors
//
// 拒绝与错误统一使用 handlers.Response 信封；限流返回 429 并带 Retry-After，
// 预算拒绝返回 402，参数校验失败返回 400 并在 error.details 中列出字段错误。
package api
