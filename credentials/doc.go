// Copyright (c) NodeFlow Authors.
// Licensed under the MIT License.

/*
包 credentials 提供节点凭证的加密存储与解析。

凭证数据以 AES-256-GCM 加密后落库，仅在节点执行前由引擎通过
workflow.CredentialResolver 解密一次，明文不做缓存。列表接口只返回元数据。

后端：
  - MemoryStore: 进程内存储（仍保存密文），用于开发与测试。
  - MongoStore: 基于 mongo-driver v2 的 credentials 集合。
*/
package credentials
