package statesync

import "github.com/cockroachdb/errors"

var (
	// ErrInvalidRecord 记录缺少名称等必要字段
	ErrInvalidRecord = errors.New("invalid record")
)
