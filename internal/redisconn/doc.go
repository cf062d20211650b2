// Copyright (c) NodeFlow Authors.
// Licensed under the MIT License.

// Package redisconn owns the process-wide Redis client: it dials and pings on
// start, logs periodic health probes, and exposes the client to the execution
// store and the readiness check.
package redisconn
