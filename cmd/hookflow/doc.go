// =============================================================================
// Hookflow 本地宿主入口
// =============================================================================
// 将 triggers/ 与 extensions/ 中的适配器挂载为本地 HTTP 服务，
// 供平台外联调 webhook 回调与端点扩展。
//
// 使用方法:
//
//	hookflow serve                       # 启动服务
//	hookflow serve --config config.yaml  # 指定配置文件
//	hookflow version                     # 显示版本信息
//	hookflow health                      # 健康检查
// =============================================================================
package main
