package gormstore

import (
	"errors"

	"github.com/mattn/go-sqlite3"
)

// isLockContention 识别另一个写入者持锁导致的 SQLite 失败（等待 busy_timeout 后仍未拿到锁）。
func isLockContention(err error) bool {
	var se sqlite3.Error
	if !errors.As(err, &se) {
		return false
	}
	return se.Code == sqlite3.ErrBusy || se.Code == sqlite3.ErrLocked
}
