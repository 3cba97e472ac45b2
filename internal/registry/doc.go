// Package registry 监听路由目录，把每个包含 index 文件的目录编译为路由并维护有序路由表。
//
// 路由键由目录相对路径规范化而来，匹配按注册顺序进行，第一个结构上匹配的路由胜出。
// 修改通过写时复制的 Snapshot 原子替换，请求在开始时捕获一次快照即可获得一致视图。
package registry
