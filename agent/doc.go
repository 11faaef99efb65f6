/*
Package agent 把“声明的输入类型 + 显式提示模板 + 声明的输出类型”包装成由 LLM 驱动的 Agent。

# 构建

Agent 通过泛型 Builder 流式构建，配置在 Build 后不可变：

	summarize, err := agent.New[Article, Summary]("summarize").
	    Template("Summarize {{.title}}:\n{{.body}}").
	    Model("gpt-4o-mini").
	    Cache(time.Hour).
	    Memory(mgr).
	    Tools("calculator").ToolRegistry(reg).
	    Provider(provider).
	    Build()

Build 会解析模板并校验占位符必须是输入字段（开启记忆时另外允许 history 与
memories），否则返回 TemplateError。

# 调用流程

Invoke 依次执行：

 1. 绑定输入为 name → value
 2. 读取最近会话窗口与语义召回结果，并入渲染上下文
 3. 渲染模板
 4. 按请求指纹查缓存（singleflight 去重并发的相同请求）
 5. 调用模型；工具调用在有界循环内执行，观察结果回灌
 6. 解析输出，失败时发起有限次“请重新格式化”的修复轮次
 7. 写入缓存（只新增、不覆盖）
 8. 一次性追加本轮会话到记忆

失败总是六类错误之一：TemplateError、ModelInvocationError、ResponseParseError、
ToolLoopExceededError、StorageError、NoRouteMatchedError（后者来自路由）。

# Registry

Registry 是显式的组合根对象，持有 Agent、工具、路由器与记忆管理器，
Init 打开记忆、Close 释放资源。CLI、REST 与 MCP 均从同一个 Registry 取用。
*/
package agent
