package response

import "fmt"

var reasons = map[int]string{
	200: "OK",
	201: "Created",
	202: "Accepted",
	204: "No Content",
	206: "Partial Content",
	300: "Multiple Choices",
	301: "Moved Permanently",
	302: "Found",
	303: "See Other",
	304: "Not Modified",
	307: "Temporary Redirect",
	308: "Permanent Redirect",
	400: "Bad Request",
	401: "Unauthorized",
	402: "Payment Required",
	403: "Forbidden",
	404: "Not Found",
	405: "Method Not Allowed",
	406: "Not Acceptable",
	408: "Request Timeout",
	409: "Conflict",
	410: "Gone",
	411: "Length Required",
	413: "Payload Too Large",
	414: "URI Too Long",
	415: "Unsupported Media Type",
	416: "Range Not Satisfiable",
	417: "Expectation Failed",
	418: "I'm a teapot",
	422: "Unprocessable Entity",
	429: "Too Many Requests",
	500: "Internal Server Error",
	501: "Not Implemented",
	502: "Bad Gateway",
	503: "Service Unavailable",
	504: "Gateway Timeout",
	505: "HTTP Version Not Supported",
}

// Reason 返回状态码对应的原因短语。
func Reason(code int) (string, bool) {
	r, ok := reasons[code]
	return r, ok
}

// KnownCode 表示状态码是否在原因短语表中。
func KnownCode(code int) bool {
	_, ok := reasons[code]
	return ok
}

// mustReason 对未登记的状态码 panic：这是调用方的编程错误。
func mustReason(code int) string {
	r, ok := reasons[code]
	if !ok {
		panic(fmt.Sprintf("response: unknown status code %d", code))
	}
	return r
}
