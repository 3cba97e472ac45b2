package logging

import "github.com/sirupsen/logrus"

// BaseFields 构建 action + 配置路径等基础字段，便于不同入口复用。
func BaseFields(action, configPath string) logrus.Fields {
	return logrus.Fields{
		"action":     action,
		"configPath": configPath,
	}
}

// RouteFields 提供路由键/入口文件/方法字段，供注册表与调度日志复用。
func RouteFields(key, file, method string) logrus.Fields {
	fields := logrus.Fields{
		"route": key,
		"file":  file,
	}
	if method != "" {
		fields["method"] = method
	}
	return fields
}

// SourceFields 把脚本错误位置展开为日志字段。
func SourceFields(file string, line, column int) logrus.Fields {
	fields := logrus.Fields{"file": file}
	if line > 0 {
		fields["line"] = line
	}
	if column > 0 {
		fields["column"] = column
	}
	return fields
}
