package httpapi

// Result 与播放端/管理端约定的统一响应信封
// - code: 2000 成功
// - type: 'success' | 'error' | 'warning'
// - message: string
// - result: any
type Result[T any] struct {
	Code    int    `json:"code"`
	Type    string `json:"type"`
	Message string `json:"message"`
	Result  T      `json:"result"`
}

const (
	ResultSuccess = 2000
	ResultError   = -1
	// SessionExpired 使用 code=60401 + HTTP 401（播放端收到后重新走激活认证）
	ResultSessionExpired = 60401
)

func Ok[T any](result T) Result[T] {
	return Result[T]{Code: ResultSuccess, Type: "success", Message: "ok", Result: result}
}

func Fail(message string) Result[any] {
	return Result[any]{Code: ResultError, Type: "error", Message: message, Result: nil}
}

func SessionExpired(message string) Result[any] {
	return Result[any]{Code: ResultSessionExpired, Type: "error", Message: message, Result: nil}
}
