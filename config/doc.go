// Package config 提供 AgentWrap 的配置管理功能。
//
// 配置按 默认值 → YAML 文件 → AGENTWRAP_* 环境变量 的顺序叠加，
// 声明式 Agent 与路由器只能写在 YAML 中。Validate 一次性返回全部问题。
package config
