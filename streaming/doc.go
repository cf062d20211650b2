// Copyright (c) NodeFlow Authors.
// Licensed under the MIT License.

/*
包 streaming 将智能体执行事件实时推送给调用方。

Reporter 从事件通道逐个读取 Event，编码为独立可解析的 JSON 后立即写入 Sink
并刷新，不做批量缓冲。生产者提前关闭通道时流正常结束；无法序列化的负载
会被降级为字符串或占位符 "<unserializable>"，不会导致进程崩溃。

Sink 实现：
  - SSESink: text/event-stream，每个事件一行 "data: <json>" 并 Flush。
  - WebSocketSink: 基于 coder/websocket，每个事件一个文本帧。
*/
package streaming
