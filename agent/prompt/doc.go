/*
包 prompt 提供 Agent 的提示词模板渲染。

模板是显式配置的文本（而非文档注释），基于 text/template，
在构造时解析一次并从语法树中提取占位符集合。

# 核心能力

  - Parse：解析模板，missingkey=error，内置 join / upper / lower / trim / default / json / bullet。
  - Placeholders：顶层字段引用（.name），包含 if / range / with 条件中的引用，
    不含 range / with 体内相对于 dot 的引用。
  - Validate：占位符必须是输入字段名的子集，否则返回 TemplateError。
  - Render：纯函数；缺失变量返回指明变量名的 TemplateError。
  - FieldNames / Bind：从结构体或 map 得到字段名与取值。
*/
package prompt
