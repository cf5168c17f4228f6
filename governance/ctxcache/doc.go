// Package ctxcache 缓存身份与组织上下文快照（cache-aside）。
//
// 命中直接返回；未命中时调用数据源，再以实体 TTL 异步回写缓存，读路径
// 不等待回写，也不会因回写失败而失败。身份快照 TTL 300s，组织快照 TTL 3600s。
// 网络缓存不可用时退化为每次都回源：更慢，但结果正确。
package ctxcache
