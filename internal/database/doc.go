// 版权所有 2024 AgentGov Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 database 打开成本账本使用的 GORM 连接并管理连接池。

# 概述

Open 按 config.DatabaseConfig 选择方言：postgres、mysql 或 sqlite
（gorm.io/driver/sqlite，驱动名 sqlite3，与迁移使用的 sqlite 驱动不冲突）。
PoolManager 持有
*gorm.DB 与底层 *sql.DB，负责连接池参数、后台探活与连接数指标。

# 核心类型

  - PoolManager：DB()、Ping()、Stats()、Close()。
  - PoolConfig：最大连接数、空闲连接数、生命周期与探活间隔。
*/
package database
