/*
Package testutil 提供 agentwrap 测试的共享工具和辅助函数。

# 核心能力

  - 上下文辅助: TestContext / CancelledContext
  - 异步断言: AssertEventuallyTrue
  - 临时资源: NewRedis（miniredis）/ NewSQLite（glebarez 纯 Go SQLite 内存库）

# 子包

  - testutil/mocks: ScriptedProvider，按脚本回放模型响应并记录请求
*/
package testutil
