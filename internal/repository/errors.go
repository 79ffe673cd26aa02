package repository

import "errors"

var ErrNotFound = errors.New("not found")

// 一意制約違反（注文番号・冪等キーの競合など）
var ErrConflict = errors.New("conflict")
