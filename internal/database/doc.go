// Copyright (c) 2025 RAGFlow Authors.
// Licensed under the MIT License.

// Package database 提供数据库连接与连接池管理.
//
// 引擎用它持久化知识图谱的实体与关系. 支持三种驱动:
//   - sqlite (默认, 纯 Go 实现, 适合嵌入与测试)
//   - postgres
//   - mysql
//
// This package is internal and should not be imported by external projects.
package database
