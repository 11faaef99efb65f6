// Package router 在多个智能体之间路由查询。
//
// 三种策略：
//   - [KeywordRouter]：按声明顺序做不区分大小写的子串匹配，首个命中生效
//   - [SemanticRouter]：路由示例只嵌入一次，查询取每条路由的最大余弦相似度
//   - [MemoryAwareRouter]：在语义路由基础上融合最近会话并偏向上一次的路由
//
// 空查询从不报错：关键词路由返回默认路由，语义路由返回得分最高的路由。
package router
