/*
Package downstream 提供治理后的调用边界实现。

HTTPOperation 把 Invocation 以 JSON POST 到业务后端，并从响应中读取
token 用量；Echo 在未配置后端时回显解析后的参数，用于本地开发。
*/
package downstream
