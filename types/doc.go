// Copyright (c) RagFlow Authors.
// Licensed under the MIT License.

/*
Package types 提供 RagFlow 引擎的全局共享类型定义。

# 概述

types 是最底层的公共包，不依赖任何内部包，为 rag、embedding、generation
等上层模块提供统一的错误契约。所有跨包共享的错误码与结构化错误均定义
于此，以避免循环依赖。

# 错误分类

  - ErrValidation            — 输入校验失败（未知模式、空查询）
  - ErrDependencyUnavailable — 外部协作方不可用（嵌入/生成/图后端）
  - ErrTimeout               — 协作方调用超时
  - ErrQuotaExceeded         — 后端限流
  - ErrNotFound              — 无匹配上下文
  - ErrInternal              — 内部错误

结构化 Error 携带机器可检查的 Code 与人类可读的 Message，并通过
Unwrap 支持 errors.Is / errors.As 链式判定。
*/
package types
