// Copyright (c) NodeFlow Authors.
// Licensed under the MIT License.

/*
包 persistence 提供工作流执行记录（ExecutionResult）的多后端持久化实现。

# 概述

引擎通过 workflow.RecordStore 接口读写执行记录：同步模式在执行结束后写入一次，
异步模式先写入 pending 记录，后台执行过程中更新为 running 与逐步日志，
最终写入终态。终态记录不可再修改。

# 后端

  - MemoryStore: 进程内存储，用于开发与测试。
  - RedisStore: 基于 go-redis，JSON 序列化，WATCH/MULTI 乐观更新，支持 TTL。
  - MongoStore: 基于 mongo-driver v2，条件更新保证终态不可变。
  - SQLStore: 基于 gorm（PostgreSQL / MySQL / SQLite），AutoMigrate 建表。

NewExecutionStore 根据 StoreConfig.Type 选择后端，客户端由调用方创建并负责关闭。
*/
package persistence
