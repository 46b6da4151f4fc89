package service

import "errors"

var (
	// ErrBadRequest 请求参数错误
	ErrBadRequest = errors.New("bad request")
	// ErrNotFound 请求的文件不存在
	ErrNotFound = errors.New("not found")
)

// Error 带有面向客户端描述的业务错误
type Error struct {
	Kind    error  // ErrBadRequest 或 ErrNotFound
	Message string // 返回给客户端的描述
	Err     error  // 内部原因, 仅用于日志
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() []error {
	if e.Err != nil {
		return []error{e.Kind, e.Err}
	}
	return []error{e.Kind}
}

func badRequest(msg string, err error) error {
	return &Error{Kind: ErrBadRequest, Message: msg, Err: err}
}

func notFound(msg string, err error) error {
	return &Error{Kind: ErrNotFound, Message: msg, Err: err}
}
