package domain

import "errors"

// 交易与估值的错误分类，调用方用 errors.Is 判断
var (
	ErrValidation         = errors.New("validation error")
	ErrUserNotFound       = errors.New("user not found")
	ErrInsufficientFunds  = errors.New("insufficient funds")
	ErrInsufficientShares = errors.New("insufficient shares")
	ErrUnknownTradeType   = errors.New("unknown trade type")
	// ErrPriceUnavailable 报价不可用：只在单个标的上降级，不会作为估值失败返回
	ErrPriceUnavailable = errors.New("price unavailable")
	// ErrPersistence 存储失败：整笔交易回滚
	ErrPersistence = errors.New("persistence error")
)
