// 版权所有 2024 AgentGov Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 cache 提供网络缓存客户端与进程内降级存储。

# 概述

Manager 封装 go-redis 客户端，每次网络调用都带有超时上限，超时按失败
返回给上层熔断器。MemoryStore 是进程内实现，按 key 分片加锁，在网络
缓存不可用时接管读写。两者实现同一个 Store 接口。

# 核心类型

  - Store：Get/Set/Delete/Ping/SlidingWindowHit 键值契约。
  - Manager：Redis 实现，滑动窗口计数由 Lua 脚本原子完成。
  - MemoryStore：进程内实现，支持 TTL、滑动窗口与后台清理。
  - WindowResult：一次滑动窗口计数的结果（计数、是否计入、重置时间）。

# 主要能力

  - 键值读写：字符串值 + TTL。
  - 滑动窗口：有序集合记录 (now-window, now] 区间内的命中。
  - 可选 TLS：通过 tlsutil 加固连接。
  - 错误语义：ErrCacheMiss 哨兵错误与 IsCacheMiss 判断函数。
*/
package cache
