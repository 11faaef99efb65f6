/*
# 概述

包 structured 把模型的原始文本输出转换为调用方声明的返回类型：
纯文本、列表或结构化记录。解析是纯函数，无副作用。

# 主要类型

  - Target: 解析目标（String / List / Object / Scalar），TargetFor[T] 从 Go 类型推导
  - JSONSchema: 校验使用的 Schema 子集，由 invopop/jsonschema 反射得到
  - Parser: 提取 JSON、必要时用 jsonrepair 修复、按 Schema 校验
  - DefaultValidator: 字段级校验，错误带字段路径（如 "age: required field missing"）

# 典型用法

	p := structured.NewParser(logger)
	person, err := structured.Parse[Person](p, raw)
	if err != nil {
		followUp := structured.RepairPrompt(raw, err, structured.TargetFor[Person]())
		// 把 followUp 发回模型，进入修复轮次
	}
*/
package structured
