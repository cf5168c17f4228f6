// 版权所有 2024 AgentGov Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 ratelimit 提供按资源类型与主体划分的滑动窗口限流。

# 概述

每个资源类型拥有独立的 {limit, window} 规则，计数保存在受熔断保护的
网络缓存中，键为 ratelimit:<resourceType>:<subjectId>。

# 降级策略

网络缓存不可用或计数失败时，行为由 FailClosed 决定：

  - true：拒绝请求，ResetAt = now + 熔断冷却时间。
  - false：放行并返回满额度结果，记录 Error 级别日志，Degraded 置为 true。

计数失败后 Limiter 丢弃缓存的窗口句柄，下一次调用重新解析。
*/
package ratelimit
