// 版权所有 2024 AgentGov Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 server 管理治理网关的 HTTP 监听器生命周期。

Manager 封装 net/http.Server：Start 非阻塞监听，Run 阻塞到
上下文取消或服务异常退出，随后在 ShutdownTimeout 内排空请求。
API 端口与 Prometheus 指标端口各用一个 Manager。
*/
package server
