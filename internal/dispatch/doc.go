// Package dispatch 实现请求调度管道：解析路径、按注册顺序匹配路由、选择动词处理函数、
// 构建请求上下文并执行中间件链路，最终把结果或错误统一为响应信封。
//
// Dispatcher 同时实现 route.Services，处理函数通过 Context.Fetch 发起的嵌套调用
// 与 CacheControl 的记忆读写都回到同一个调度器。
package dispatch
