// Package route 定义路由模块的导出契约（Module/Handler）以及单次调度使用的请求上下文。
//
// 编译器（Lua、声明式、静态 Go 模块）只产出 Module，调度器只消费 Module，
// 二者通过本包解耦。
package route
