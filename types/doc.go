// Copyright (c) AgentGov Authors.
// Licensed under the MIT License.

/*
Package types 提供 AgentGov 服务的全局共享类型定义。

# 概述

types 是最底层的公共包，不依赖任何内部包，为 governance、api、cmd
等上层模块提供统一的类型契约，以避免循环依赖。

# 核心类型

  - Subject           — 限流与预算的作用域（subject + organization）
  - Metadata          — 透传给下游的无模式元数据
  - Error / ErrorCode — 结构化错误体系，含 HTTP 状态码与 Retryable 标记

# 主要能力

  - Context 传播：WithTraceID / WithRequestID / WithTenantID / WithUserID / WithRoles
  - 错误工具链：AsError / IsErrorCode / IsRetryable / GetErrorCode
*/
package types
