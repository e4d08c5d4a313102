// Copyright (c) RagFlow Authors.
// Licensed under the MIT License.

/*
包 embedding 提供统一的文本嵌入（Embedding）接口与实现，
用于将文本转换为固定维度向量表示以支持语义检索与聚类。

# 概述

不同嵌入服务商在 API 格式、认证方式与输入类型语义上存在差异。
本包通过 Provider 接口屏蔽这些差异，使检索引擎可以在不修改调用
代码的前提下切换底层嵌入服务。

# 核心接口

  - Provider：统一嵌入接口，定义 Embed、EmbedQuery、EmbedDocuments 等方法。
  - EmbeddingRequest / EmbeddingResponse：标准化的请求与响应模型。
  - BaseProvider：公共基类，封装 HTTP 请求、错误映射、限速与批量辅助方法。

# 实现

  - OpenAIProvider：OpenAI 兼容端点（/v1/embeddings）。
  - LocalProvider：确定性哈希投影嵌入，无外部依赖，用于测试与离线运行。

# 使用方式

	provider := embedding.NewOpenAIProvider(embedding.OpenAIConfig{APIKey: "sk-..."})

	vec, err := provider.EmbedQuery(ctx, "搜索关键词")
	vecs, err := provider.EmbedDocuments(ctx, []string{"文档1", "文档2"})
*/
package embedding
