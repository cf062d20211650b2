// Copyright (c) NodeFlow Authors.
// Licensed under the MIT License.

/*
包 server 管理 NodeFlow 的 HTTP 端点生命周期。

# 概述

Manager 持有一组命名端点（通常是 "api" 与 "metrics"），Start 先打开全部
监听器再在 errgroup 中并发服务，任一端口占用会在启动阶段立即失败。
Run 阻塞到 ctx 取消（由 signal.NotifyContext 产生）或任一端点异常退出，
然后在 ShutdownTimeout 内优雅关闭所有端点。

# 核心类型

  - Manager：端点注册（Handle）、Start/Run/Shutdown 生命周期与 Addr 查询。
  - Config：读写超时、空闲超时、最大请求头大小与优雅关闭超时。
*/
package server
