// Package ledger 保存 AI 调用的成本记录并按日汇总。
//
// 账本只追加：写入后的记录不会被修改或删除。日期以 YYYY-MM-DD 保存，
// 写入与汇总使用同一个 Calendar 时区，避免日边界漂移。
package ledger
