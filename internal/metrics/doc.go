// Copyright (c) 2025 RAGFlow Authors.
// Licensed under the MIT License.

// Package metrics 提供内部 Prometheus 指标收集.
//
// 指标覆盖检索引擎的四个阶段: 摄取、检索、生成、降级.
// This package is internal and should not be imported by external projects.
package metrics
