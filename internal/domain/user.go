package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// User 用户（现金账户）
type User struct {
	ID        string          // 用户 ID（uuid）
	Name      string          // 展示名
	Cash      decimal.Decimal // 现金余额，始终 >= 0
	CreatedAt time.Time
	UpdatedAt time.Time
}

// DisplayName 返回展示名，为空时返回 Anonymous
func (u User) DisplayName() string {
	if u.Name == "" {
		return "Anonymous"
	}
	return u.Name
}
