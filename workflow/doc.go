// Copyright (c) NodeFlow Authors.
// Licensed under the MIT License.

/*
Package workflow 提供工作流定义、校验与执行引擎。

# 概述

Engine 以广度优先队列遍历节点图：从 trigger 节点（若无则取声明顺序中的
第一个节点）开始，按注册表解析处理器，在重试策略包裹下逐个执行节点，
成功后按边的声明顺序评估条件并将输出传递给下游节点。任一节点最终失败
即终止整个执行，状态置为 error，队列中的剩余工作被丢弃。

# 核心接口与类型

  - WorkflowDefinition — 一次执行使用的不可变快照（JSON / YAML）
  - Node / Edge / Condition — 节点、有向边与 {field, equals} 条件
  - Engine             — Execute（同步）/ ExecuteAsync + GetStatus（异步轮询）/ Validate
  - ExecutionResult    — 执行结果：status、logs、final_data、timestamp
  - NodeLogEntry       — 每个节点的终态日志（数据预览上限 500 字符）
  - RecordStore        — 执行记录存储接口（Create / Update / Get）
  - CredentialResolver — 凭据解析接口，明文仅在单次节点调用期间存在
  - Observer           — 执行与节点级别的指标回调

# 执行语义

  - 结构错误返回 VALIDATION_ERROR，环返回 CYCLIC_GRAPH，均在任何节点执行前拒绝
  - 其余错误在单节点边界捕获并记录，处理器 panic 会被恢复为 HANDLER_EXECUTION_ERROR
  - 取消：在出队前检查 ctx，正在执行的节点会运行结束（受单节点超时约束）
  - 重试日志策略：结果日志只记录每个节点的终态，每次尝试写入结构化日志与指标
*/
package workflow
