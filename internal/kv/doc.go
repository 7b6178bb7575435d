// Package kv 提供缓存层使用的持久化键值后端。
//
// 三种驱动共用同一 Store 接口：
//
//	fs      <Path>/<Namespace>/<hh>/<sha256>.kv   # 首行为 key，其后为原始值
//	sqlite  <Path>/<Namespace>.db                 # 单表 kv(key, value, updated_at)
//	memory  进程内 map，用于测试与临时部署
//
// 底层 I/O 故障统一包装为 CodeUnavailable，调用方通过 IsUnavailable 识别并降级。
package kv
