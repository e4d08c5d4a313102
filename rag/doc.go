// Copyright (c) 2025 RAGFlow Authors.
// Licensed under the MIT License.

// Package rag 实现多策略的检索增强生成引擎.
//
// 引擎将异构内容 (文本、文档、图片、PDF) 切分为可检索的块,
// 并通过统一的四操作契约 (Store / Retrieve / Generate / Query)
// 支持八种检索策略:
//
//   - simple:     向量相似度检索
//   - crag:       质量评估 + 纠错检索 (Corrective RAG)
//   - raptor:     层级聚类摘要树检索 (RAPTOR)
//   - self_rag:   草稿-批判-精炼循环 (Self-RAG)
//   - rag_fusion: 多查询扩展 + 倒数排名融合 (RAG-Fusion)
//   - hyde:       假设文档嵌入检索 (HyDE)
//   - graph:      实体关系图谱检索 (GraphRAG)
//   - custom:     外部注册的策略
//
// 策略通过注册表工厂按模式名选择, 每次调用显式携带模式,
// 不存在全局的"当前模式"状态. 可选依赖 (图谱后端、摘要树)
// 失效时策略降级为纯向量检索并在元数据中标记, 不向调用方抛错.
package rag
