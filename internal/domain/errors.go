package domain

import "errors"

// 错误分类：每次调用要么得到完整（可能部分失败的）报告，要么得到单个分类错误，
// 不向调用方暴露原始传输层异常。
var (
	ErrNotFound       = errors.New("machine not found")
	ErrDecryption     = errors.New("secret decryption failed")
	ErrAuthentication = errors.New("remote authentication rejected")
	ErrConnectionLost = errors.New("connection lost")
	ErrCommandTimeout = errors.New("command timeout")
	ErrInvalidAuth    = errors.New("no usable authentication configured")
)
