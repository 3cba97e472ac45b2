// Package declarative 编译 YAML/JSON 路由文件：每个动词声明一个静态响应，
// 或通过 module 键绑定静态注册的 Go 模块。
package declarative
