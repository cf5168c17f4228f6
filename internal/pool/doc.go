/*
Package pool 提供后台任务池，用于不等待结果的缓存回写等异步操作。

BackgroundPool 按需扩展 worker，调用方提交任务后立即返回。任务运行在与请求
无关的 context 上，请求取消不会回滚已提交的写入。任务失败、panic 或因队列满
被拒绝时，错误经内部错误通道交给 ErrorHandler，通常是 LogErrors 加指标计数。
*/
package pool
