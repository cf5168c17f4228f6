// 版权所有 2024 AgentGov Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 governance 编排 AI 助手请求的治理流程。

# 概述

Governor 对每个入站请求依次完成：

 1. 并发执行限流检查、预算检查、用户上下文与组织上下文获取；
 2. 限流或预算拒绝时返回结构化的 Decision，不调用下游；
 3. 在组织时区的日历上合并并校验调用参数；
 4. 调用下游 Operation；
 5. 下游成功完成后写入成本账本。

# 失败语义

限流按 FailClosed 策略处理网络缓存故障，预算检查失败时放行。
上下文获取失败退化为 nil 上下文。调用方取消时返回 ctx.Err()，
不写入成本，但已经派发的异步缓存写入不会回滚。

# 子包

  - circuitbreaker: 网络缓存熔断器
  - store: 带内存兜底的缓存访问
  - ratelimit: 滑动窗口限流
  - budget: 日/月预算
  - cost: 定价、成本计算与估算
  - ledger: 成本账本
  - ctxcache: 用户与组织上下文缓存
  - params: 参数合并与周期展开
  - downstream: 下游调用边界
*/
package governance
