// Package luart 提供 .lua 路由脚本的编译器。
//
// 脚本以全局函数或返回表的方式导出 get/post/put/delete/all/default 与 middleware，
// 每个导出可以是函数或函数数组，签名为 function(ctx, next)。沙箱只开放 base/table/string/
// math/coroutine 以及 os.time/clock/date，依赖通过 require("./x") 在受管目录中解析，
// 内置模块 json、log、response 通过 package.preload 提供。
package luart
