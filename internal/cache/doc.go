// Package cache 提供带 TTL 与容量淘汰的泛型内存缓存。
//
// 每个路由拥有一个独立的 Cache 实例（由 registry 创建与销毁），
// 响应记忆（memo）的内存后端同样基于它实现。写入与读取默认做深拷贝，
// 调用方修改自己持有的对象不会影响缓存内容；存在自引用的值会被拒绝。
package cache
