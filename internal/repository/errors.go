package repository

import "errors"

// ErrDuplicateIdentity は同一プロバイダー・同一ユーザーIDのidentityが既に存在することを示す。
var ErrDuplicateIdentity = errors.New("identity already exists")
