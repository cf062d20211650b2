// Copyright (c) NodeFlow Authors.
// Licensed under the MIT License.

// Package telemetry 初始化 OpenTelemetry SDK（OTLP gRPC 导出 trace 与 metric），
// 关闭时使用 noop provider。引擎的执行与节点 span 通过 Providers.Tracer 获取的
// tracer 产生。
package telemetry
