/*
包 tools 提供 Agent 工具调用所需的注册中心、执行器与内置工具。

# 核心接口

  - ToolRegistry / DefaultRegistry：线程安全的工具注册，支持按工具限流（x/time/rate）。
  - Func：由类型化函数构造工具，参数 Schema 通过 invopop/jsonschema 反射生成。
  - DefaultExecutor：errgroup 限并发执行、保持顺序、单次超时；
    未知工具与执行失败作为 ToolResult.Error 回传给模型，不中断循环。

# 内置工具

  - calculator：算术表达式求值
  - current_time：指定时区的当前时间
  - memory_recall：绑定 scope 的语义记忆召回
*/
package tools
