// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 cache 提供 access token 缓存能力，支持进程内与 Redis 两种后端。

# 概述

各 adapter（企业微信、百度千帆等）在调用 vendor API 前需要先换取
短期 access token。本包提供统一的 TokenCache 接口与 TokenSource
刷新器，避免每次调用都重新换取 token。

# 核心类型

  - Token：带过期时间的 access token。
  - TokenCache：缓存接口，提供 Memory 与 Redis 两种实现。
  - Manager：基于 go-redis 的缓存后端，负责连接生命周期管理。
  - TokenSource：token 刷新器，通过 singleflight 合并并发刷新，
    并在过期前预留安全余量。

# 主要能力

  - 进程内缓存：RWMutex 保护的内存实现，适合单进程部署。
  - Redis 缓存：多副本部署时共享 token，避免重复换取。
  - 刷新合并：并发请求只触发一次 vendor 换取调用。
*/
package cache
