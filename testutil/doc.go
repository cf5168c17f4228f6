// Copyright 2026 AgentGov Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license.

/*
Package testutil 提供 AgentGov 测试共享的基础设施。

# 核心能力

  - 上下文辅助: TestContext / TestContextWithTimeout / CancelledContext
  - 网络缓存: NewMiniRedis 启动进程内 Redis，测试结束自动关闭
  - 账本数据库: NewSQLiteDB 打开每个测试独立的内存 SQLite 并迁移模型
  - 可控时钟: Clock 的 Now 可作为 func() time.Time 注入各组件
  - 异步断言: AssertEventuallyTrue / AssertEventuallyEqual
  - 数据工具: MustJSON / AssertJSONEqual

本包只依赖第三方库，不导入本模块的其它包，任何包的内部测试都可以使用。
*/
package testutil
