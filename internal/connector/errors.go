package connector

import (
	"errors"
	"fmt"
)

var (
	// ErrAlreadyStarted は Start が二度呼ばれたことを表す
	ErrAlreadyStarted = errors.New("connector already started")
	// ErrStopped は停止済みのコネクタを再開しようとしたことを表す
	ErrStopped = errors.New("connector stopped")
	// ErrBind はリッスンソケットを用意できなかったことを表す
	ErrBind = errors.New("bind failed")
)

// BindError はリッスンアドレスへのバインド失敗
type BindError struct {
	Addr string
	Err  error
}

func (e *BindError) Error() string {
	return fmt.Sprintf("bind %s: %v", e.Addr, e.Err)
}

// Unwrap は ErrBind と原因の両方を返す
func (e *BindError) Unwrap() []error {
	return []error{ErrBind, e.Err}
}

// ConfigError は不正なコネクタ設定を表す
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid connector config: %s %s", e.Field, e.Reason)
}
