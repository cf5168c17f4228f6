// 版权所有 2024 AgentGov Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 migration 管理成本账本的 Schema 迁移，支持 PostgreSQL、MySQL
与 SQLite，基于 golang-migrate 实现。

# 概述

各方言的 SQL 通过 embed.FS 内嵌，迁移表默认为 schema_migrations。
New 按 config.DatabaseConfig 打开独立连接；NewWithDB 复用已有的
*sql.DB，用于服务启动时的自动迁移。

# 核心类型

  - Migrator：Up/Down/Steps/Force/Version/Status/Close。
  - CLI：agentgov migrate 子命令的终端输出层。

SQLite 使用 modernc.org/sqlite 纯 Go 驱动，不依赖 cgo。
*/
package migration
