/*
包 server 管理 REST API 的 HTTP 服务器生命周期。

Manager 经历 idle → serving → stopped 三个阶段，Run 在 errgroup 中
同时运行 Serve 与关闭监听：上下文取消（agentwrap serve 使用
signal.NotifyContext）时在 ShutdownTimeout 内排空请求，Serve 异常
退出时返回其错误。Config 由 config.ServerConfig 派生。
*/
package server
