// Package module 把路由源文件加载为 route.Module，并提供两类注册入口。
//
// 编译器作者需要：
//  1. 在 internal/module/<name>/ 目录下实现 Compiler 接口；
//  2. 在 init() 中调用 MustRegisterCompiler 绑定扩展名与目录索引优先级；
//  3. 依赖解析只能通过 Source.Require 完成，不直接访问 Loader。
//
// 静态 Go 模块通过 MustRegister 注册，声明式路由文件按键绑定。
// Loader 按绝对路径记忆编译结果，轮询文件及其依赖的修改时间，变化时重新编译并通知导入方。
package module
