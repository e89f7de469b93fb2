package services

import (
	"fmt"

	"github.com/Rhymond/go-money"
	"github.com/betbot/stockledger/internal/domain"
	"github.com/shopspring/decimal"
)

// FormatUSD 以美元格式展示金额，例如 $1,234.50
func FormatUSD(d decimal.Decimal) string {
	cents := d.Shift(2).Round(0).IntPart()
	return money.New(cents, "USD").Display()
}

func tradeMessage(t domain.Trade) string {
	verb := "purchased"
	if t.Type == domain.TradeTypeSell {
		verb = "sold"
	}
	return fmt.Sprintf("Successfully %s %d shares of %s at %s", verb, t.Shares, t.Ticker, FormatUSD(t.Price))
}
