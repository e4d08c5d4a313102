// Copyright (c) 2025 RAGFlow Authors.
// Licensed under the MIT License.

// Package cache 提供内部缓存管理.
//
// 缓存层对检索流水线是可选的: 任何读写失败都只降级为未命中,
// 不会中断查询. 缓存的内容包括:
//   - 查询扩展结果 (RAG-Fusion 变体)
//   - 假设文档 (HyDE)
//   - 查询向量
//
// This package is internal and should not be imported by external projects.
package cache
