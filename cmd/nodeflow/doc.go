// Copyright (c) NodeFlow Authors.
// Licensed under the MIT License.

/*
Package main 提供 NodeFlow 服务端程序入口。

# 概述

cmd/nodeflow 是工作流引擎的可执行入口，提供 HTTP API 服务、
单次执行、定义校验、健康检查和版本查询等子命令。

# 核心类型

  - App          — 一个进程内的全部组件：连接、存储、引擎、agent 构建器
  - Middleware   — HTTP 中间件函数签名 func(http.Handler) http.Handler

# 主要能力

  - 子命令：serve、run、validate、version、health
  - 中间件链：Recovery、RequestID、SecurityHeaders、OTelTracing、
    RequestLogger、MetricsMiddleware、CORS、BodyLimit、RateLimiter、
    APIKeyAuth、JWTAuth
  - 双端点：API 端口与独立的 /metrics 端口共用一个 server.Manager
  - 优雅关闭：信号 → 停止监听 → 排空请求 → 关闭引擎工作池 → 断开存储连接
  - 构建注入：Version、BuildTime、GitCommit 通过 ldflags 设置
*/
package main
