package config

import "errors"

var (
	// ErrNilConfig 配置为 nil
	ErrNilConfig = errors.New("config: config cannot be nil")

	// ErrValidationFailed 配置验证失败
	ErrValidationFailed = errors.New("config: validation failed")

	// ErrMergeFailed 配置合并失败
	ErrMergeFailed = errors.New("config: merge failed")

	// ErrNotLoaded 尚未加载配置文件
	ErrNotLoaded = errors.New("config: no config file loaded")
)
