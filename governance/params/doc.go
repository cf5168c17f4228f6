// 版权所有 2024 AgentGov Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 params 把多个来源的调用参数合并为一个经过校验的参数对象。

# 优先级

从低到高：

 1. Schema 声明的默认值
 2. 看板筛选条件推导出的值（命名周期展开为 startDate/endDate）
 3. 助手从自然语言中解析出的参数
 4. 界面直接操作强制指定的参数，总是生效

先按优先级浅合并（后者覆盖前者），再按 Schema 校验与类型转换，
仍缺失的字段使用 Schema 默认值。未声明的键被丢弃。

# 周期

命名周期在主体所在时区的日历上展开。自然周从周日开始，季度按
日历三个月对齐。日历周期结束于最后一纳秒，滚动周期（last_7_days 等）
从 N 天前的零点开始、结束于当前时刻。无法识别的周期按 last_30_days 处理。

# 错误

ResolveParams 返回 *ValidationError，包含逐字段的错误列表；
SafeResolveParams 不返回 error，而是返回 Result。

# Schema 文件

LoadRegistry 从 YAML 读取 Schema 列表。Reloader 持有文件对应的 Registry，
Watch 监听所在目录，文件变更后去抖重载；新内容非法时保留上一份。
*/
package params
