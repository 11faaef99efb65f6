/*
包 providers 放置与具体服务商无关的适配辅助函数，供 llm/providers/openai
以及后续的 OpenAI 兼容实现共用。

  - MapHTTPError 把上游 HTTP 状态码映射为 types.Error，并标记是否可重试；
    429 中的额度耗尽视为不可重试。
  - ChooseModel 按 请求 → 配置 → 默认 的顺序选择模型名。
*/
package providers
