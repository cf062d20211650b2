// Copyright (c) NodeFlow Authors.
// Licensed under the MIT License.

/*
Package agentic 将包含 agentic 节点的工作流图构建为工具调用型 Agent，
并以流式事件驱动其执行。

# 图约定

  - agentic 节点（类型不区分大小写）承载系统提示词、温度与最大迭代次数
  - model / chatmodel 节点决定 provider（groq、openai、anthropic）与模型名
  - 从 agentic 节点出发指向 tool 节点的边声明可用工具（config.tool_name 或 toolType）

# 执行

Runner.Run 驱动 tool-calling 循环：流式调用 chat completion，按 index 合并
tool_call 增量，执行工具并把结果回填给模型，直到模型不再请求工具或达到
最大迭代次数。事件按产生顺序发送：token、tool_start、tool_end，最终以
done 或 error 结束。工具失败以文本形式回填给模型，不终止循环。
*/
package agentic
