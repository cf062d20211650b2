// Copyright (c) NodeFlow Authors.
// Licensed under the MIT License.

/*
Package nodes 提供节点处理器注册表与内置处理器。

# 概述

注册表在进程启动时静态构建（[NewRegistry] / [DefaultRegistry]），
将节点类型标签（大小写不敏感，支持别名）映射到 [Handler]。
运行期不会动态加载处理器；未注册的类型解析为 UNKNOWN_NODE_TYPE 错误。

# 内置处理器

  - trigger   — 透传初始输入
  - http      — 单次 HTTP 请求；任意状态码均视为节点成功
  - llm       — OpenAI 兼容对话补全；凭据优先，其次环境默认 key
  - action    — 内置字符串变换（uppercase / lowercase / trim）
  - condition — 子串包含判断，输出替换为布尔值
  - code      — gopher-lua 沙箱，仅开放白名单内置函数，读取全局变量 result
  - tool      — 调用 tools 包中注册的工具

每个处理器在入口处收窄自己的配置字段，缺失时返回 CONFIGURATION_ERROR。
*/
package nodes
