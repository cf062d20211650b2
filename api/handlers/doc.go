// Copyright (c) NodeFlow Authors.
// Licensed under the MIT License.

/*
Package handlers 提供 NodeFlow HTTP API 的请求处理器实现。

# 概述

所有 Handler 遵循标准 net/http 接口，由 cmd/nodeflow 注册到 http.ServeMux
（Go 1.22 路由模式，如 "GET /api/v1/executions/{id}"）。JSON 端点统一使用
{success, data, error, timestamp, request_id} 响应结构，错误码经
mapErrorCodeToHTTPStatus 映射为 HTTP 状态码。

# 核心类型

  - WorkflowHandler — 同步/异步执行、执行记录查询、定义校验、节点类型列表
  - AgentHandler    — agent 图的 SSE 与 WebSocket 流式执行
  - ToolsHandler    — 可用工具及其参数 schema
  - HealthHandler   — /health 存活探针与 /ready 依赖就绪检查
  - ResponseWriter  — 捕获状态码与响应大小，透传 Flush/Hijack
*/
package handlers
