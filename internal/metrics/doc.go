// Copyright (c) NodeFlow Authors.
// Licensed under the MIT License.

/*
包 metrics 提供基于 Prometheus 的指标采集，覆盖 HTTP、工作流执行、
节点执行与 agentic 运行四个维度。

# 核心类型

  - Collector：指标收集器，实现 workflow.Observer，由引擎在执行与
    节点结束时回调；HTTP 中间件与 agent 处理器直接调用记录方法。

# 主要能力

  - HTTP 指标：请求总数、请求耗时、响应体大小，状态码归类为 2xx/3xx/4xx/5xx。
  - 工作流指标：按终态统计执行次数与耗时，以及正在执行的数量。
  - 节点指标：按 node_type 统计终态、耗时、尝试次数与重试次数。
  - Agent 指标：按 provider 统计运行次数与耗时。

所有指标注册到调用方传入的 prometheus.Registerer，测试可使用独立 Registry。
*/
package metrics
