// Copyright (c) NodeFlow Authors.
// Licensed under the MIT License.

/*
Package scheduler 周期性地执行带有间隔触发器的工作流。

trigger 节点的 config.schedule 为间隔秒数，config.last_run 为上次运行的
Unix 秒。每个 tick 检查全部工作流，到期者并发执行，执行结束后在定义的
Clone 上写回 last_run 并交给 Source 保存，正在执行的快照不会被修改。
*/
package scheduler
