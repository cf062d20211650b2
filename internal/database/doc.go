// Copyright (c) NodeFlow Authors.
// Licensed under the MIT License.

/*
包 database 为 SQL 执行记录存储打开 gorm 连接。

# 概述

Open 按 config.DatabaseConfig.Driver 选择方言（postgres、mysql 或纯 Go 的
sqlite），并用 PoolManager 统一设置连接池参数、周期性健康检查与关闭。
/ready 探针通过 PoolManager.Ping 检查数据库可用性。

# 核心类型

  - PoolManager：持有 *gorm.DB 与底层 *sql.DB，提供 DB/Ping/Stats/GetStats/Close。
  - PoolConfig：最大空闲/打开连接数、连接生命周期与健康检查间隔。
*/
package database
