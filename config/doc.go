// Copyright (c) NodeFlow Authors.
// Licensed under the MIT License.

// Package config 提供 NodeFlow 的配置管理功能。
//
// 配置按 默认值 → YAML 文件 → 旧部署的无前缀环境变量 → NODEFLOW_* 环境变量
// 的顺序合并，Validate 在启动时检查存储后端、端口与依赖项的一致性。
package config
