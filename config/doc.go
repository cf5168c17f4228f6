// Package config 提供 AgentGov 的配置管理功能。
//
// 配置按 默认值 → YAML 文件 → 环境变量（前缀 AGENTGOV）的顺序叠加。
// 结构性错误（端口、驱动、时区）由 Validate 报告；治理数值的非法覆盖
// 由各组件替换为默认值并记录日志，不会导致启动失败。
package config
