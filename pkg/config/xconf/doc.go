// Package xconf 提供配置加载、反序列化和热重载，基于 koanf 实现。
//
// # 设计理念
//
// xconf 定位为最小化配置加载器，负责文件/字节数据的加载、反序列化和热重载；
// 字段校验和默认值由使用方在 Unmarshal 后自行处理。
//
//   - 工厂函数：New, NewFromBytes
//   - Client() 暴露底层 koanf 实例
//   - 增值功能：并发安全的 Reload、带 koanf 标签的 Unmarshal、fsnotify 监视
//
// # 支持的格式
//
//   - YAML：.yaml, .yml
//   - JSON：.json
//
// # 并发安全
//
// Reload 串行执行，解析成功后原子替换 koanf 实例；解析失败时保留旧配置。
// Client() 返回的是快照，Reload 后仍可用但数据过期，不要长期缓存。
//
// # 配置监视
//
// Watch 监视文件所在目录，内置防抖，支持原子 rename 写入。
// Run(ctx) 阻塞直到 ctx 取消，可以直接交给 xrun.Group 管理。
package xconf
