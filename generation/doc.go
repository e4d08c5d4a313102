// Copyright (c) RagFlow Authors.
// Licensed under the MIT License.

/*
包 generation 提供统一的文本生成（Completion）接口与实现。

# 概述

检索引擎的多个环节依赖文本生成：簇摘要（层级树构建）、自我批判
（反思循环）、查询扩展（多查询融合）、假设文档生成（HyDE）以及
最终答案合成。本包通过 Provider 接口屏蔽服务商差异。

# 核心接口

  - Provider：统一生成接口，定义 Complete 与 CompleteWithRequest。
  - CompletionRequest / CompletionResponse：标准化的请求与响应模型。

# 实现

  - OpenAIProvider：OpenAI 兼容端点（/v1/chat/completions），
    内置限速与对 TIMEOUT / QUOTA_EXCEEDED 的有界退避重试。
*/
package generation
