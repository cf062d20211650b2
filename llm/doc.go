// 版权所有 2024 NodeFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 llm 提供 OpenAI 兼容的对话补全客户端，供 llm 节点与 agentic 模式共用。

# 概述

Groq、OpenAI 与 Anthropic 均提供 OpenAI 兼容的 /chat/completions 接口，
因此只需一个客户端即可覆盖三家服务商。客户端在进程启动时创建一次并复用，
单次调用可以通过 [WithAPIKey] / [WithBaseURL] 覆盖凭据与端点。

# 核心能力

  - [Client.Chat]：非流式补全
  - [Client.Stream]：SSE 流式补全，返回 [StreamChunk] 通道
  - [ToolCallAccumulator]：按 index 合并流式 tool_calls 增量
  - 错误映射：超时与 429/502/503/504 标记为可重试的传输错误
*/
package llm
