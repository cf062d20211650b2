// Package tlsutil 提供进程级共享的 HTTP 传输层，
// 统一为 http / llm / tool 节点的出站请求提供 TLS 加固（TLS 1.2+，仅 AEAD 密码套件）与连接池复用。
package tlsutil
