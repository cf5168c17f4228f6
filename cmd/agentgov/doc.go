// Copyright (c) AgentGov Authors.
// Licensed under the MIT License.

/*
Package main 提供 AgentGov 服务端程序入口。

# 概述

cmd/agentgov 是治理层的可执行入口，提供 HTTP API 服务、数据库迁移、
健康检查和版本查询等子命令。程序支持 YAML 配置文件加载、结构化日志（zap）、
Prometheus 指标采集以及 OpenTelemetry 链路追踪。

# 核心类型

  - Server      — 组装缓存、熔断器、账本与 Governor，管理 HTTP、Metrics 双端口
  - Middleware  — HTTP 中间件函数签名 func(http.Handler) http.Handler

# 主要能力

  - 子命令：serve（启动服务）、migrate（账本迁移）、version、health
  - 中间件链：Recovery、RequestID、SecurityHeaders、RequestLogger、
    Metrics、OTelTracing、CORS、IPThrottle（基于 IP）、JWTAuth
  - Metrics 服务器：独立端口暴露 /metrics（Prometheus）
  - 优雅关闭：信号 → 关闭 HTTP 与 Metrics → 排空后台写入 → 关闭缓存与数据库
  - 构建注入：Version、BuildTime、GitCommit 通过 ldflags 设置
*/
package main
