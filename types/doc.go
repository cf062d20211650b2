// Copyright (c) NodeFlow Authors.
// Licensed under the MIT License.

/*
Package types 提供 NodeFlow 的全局共享错误类型。

# 概述

types 是最底层的公共包，不依赖任何内部包，为 nodes、workflow、persistence、
api 等上层模块提供统一的错误契约，以避免循环依赖。

# 错误分类

  - UNKNOWN_NODE_TYPE          — 节点类型未注册
  - CONFIGURATION_ERROR        — 缺少必需配置或凭据
  - HANDLER_EXECUTION_ERROR    — 处理器内部异常（含沙箱代码异常）
  - RETRYABLE_TRANSPORT_ERROR  — 可重试的传输错误（如超时）
  - CYCLIC_GRAPH               — 图中存在环
  - VALIDATION_ERROR           — 执行前结构校验失败
*/
package types
