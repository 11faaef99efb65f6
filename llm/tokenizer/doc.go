/*
包 tokenizer 为记忆窗口的 token 预算提供计数。

ForModel 对已知的 OpenAI 模型使用 tiktoken 编码（o200k_base / cl100k_base），
编码数据无法加载时自动退回估算器；其他模型直接使用估算器。
TrimToBudget 从最新一条消息向前保留，直到预算用尽。
*/
package tokenizer
