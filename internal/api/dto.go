package api

import (
	"time"

	"github.com/betbot/stockledger/internal/domain"
	"github.com/shopspring/decimal"
)

// 对外 JSON 使用数值；金额保留 2 位、百分比保留 2 位
func money(d decimal.Decimal) float64 { return d.Round(2).InexactFloat64() }
func pct(d decimal.Decimal) float64   { return d.Round(2).InexactFloat64() }
func price(d decimal.Decimal) float64 { return d.Round(4).InexactFloat64() }

type userDTO struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Cash      float64   `json:"cash"`
	CreatedAt time.Time `json:"createdAt"`
}

func toUserDTO(u domain.User) userDTO {
	return userDTO{ID: u.ID, Name: u.DisplayName(), Cash: money(u.Cash), CreatedAt: u.CreatedAt}
}

type positionDTO struct {
	Symbol      string  `json:"symbol"`
	Quantity    int64   `json:"quantity"`
	AverageCost float64 `json:"averageCost"`
}

type tradeDataDTO struct {
	CashAfter float64      `json:"cashAfter"`
	Position  *positionDTO `json:"position"`
}

func toTradeData(r *domain.TradeResult) tradeDataDTO {
	out := tradeDataDTO{CashAfter: money(r.CashAfter)}
	if r.Position != nil {
		out.Position = &positionDTO{
			Symbol:      r.Position.Symbol,
			Quantity:    r.Position.Quantity,
			AverageCost: price(r.Position.AverageCost),
		}
	}
	return out
}

type holdingDTO struct {
	Kind             string   `json:"kind"`
	Symbol           string   `json:"symbol"`
	Quantity         int64    `json:"quantity"`
	AverageCost      float64  `json:"averageCost"`
	CurrentValue     float64  `json:"currentValue"`
	Percentage       float64  `json:"percentage"`
	Price            *float64 `json:"price,omitempty"`
	PriceSource      string   `json:"priceSource,omitempty"`
	PreviousClose    *float64 `json:"previousClose,omitempty"`
	DayChange        *float64 `json:"dayChange,omitempty"`
	DayChangePercent *float64 `json:"dayChangePercent,omitempty"`
	UnrealizedPnL    *float64 `json:"unrealizedPnl,omitempty"`
}

func ptr(v float64) *float64 { return &v }

func toHoldingDTO(e domain.HoldingEntry) holdingDTO {
	switch h := e.(type) {
	case domain.PositionHolding:
		out := holdingDTO{
			Kind:          string(h.Kind()),
			Symbol:        h.Symbol,
			Quantity:      h.Quantity,
			AverageCost:   price(h.AverageCost),
			CurrentValue:  money(h.CurrentValue),
			Percentage:    pct(h.Percentage),
			Price:         ptr(price(h.Price)),
			PriceSource:   string(h.PriceSource),
			UnrealizedPnL: ptr(money(h.UnrealizedPnL())),
		}
		if h.PriceSource == domain.PriceSourceLive {
			out.PreviousClose = ptr(price(h.PreviousClose))
			out.DayChange = ptr(price(h.DayChange))
			out.DayChangePercent = ptr(pct(h.DayChangePercent))
		}
		return out
	case domain.CashHolding:
		// 现金按“1 份、单价为现金额”展示
		return holdingDTO{
			Kind:         string(h.Kind()),
			Symbol:       domain.CashSymbol,
			Quantity:     1,
			AverageCost:  money(h.Amount),
			CurrentValue: money(h.Amount),
			Percentage:   pct(h.Percentage),
		}
	}
	return holdingDTO{Kind: string(e.Kind()), Symbol: e.EntrySymbol(), CurrentValue: money(e.Value()), Percentage: pct(e.Percent())}
}

type valuationDTO struct {
	UserID        string       `json:"userId"`
	Name          string       `json:"name"`
	Total         float64      `json:"total"`
	Cash          float64      `json:"cash"`
	FallbackCount int          `json:"fallbackCount"`
	AsOf          time.Time    `json:"asOf"`
	Breakdown     []holdingDTO `json:"breakdown"`
}

func toValuationDTO(v *domain.Valuation) valuationDTO {
	out := valuationDTO{
		UserID:        v.UserID,
		Name:          v.Name,
		Total:         money(v.Total),
		Cash:          money(v.Cash),
		FallbackCount: v.FallbackCount(),
		AsOf:          v.AsOf,
		Breakdown:     make([]holdingDTO, 0, len(v.Breakdown)),
	}
	for _, e := range v.Breakdown {
		out.Breakdown = append(out.Breakdown, toHoldingDTO(e))
	}
	return out
}

type leaderboardEntryDTO struct {
	Rank       int     `json:"rank"`
	UserID     string  `json:"userId"`
	Name       string  `json:"name"`
	TotalValue float64 `json:"totalValue"`
}

func toLeaderboardDTO(entries []domain.LeaderboardEntry) []leaderboardEntryDTO {
	out := make([]leaderboardEntryDTO, 0, len(entries))
	for _, e := range entries {
		out = append(out, leaderboardEntryDTO{Rank: e.Rank, UserID: e.UserID, Name: e.Name, TotalValue: money(e.TotalValue)})
	}
	return out
}

type snapshotDTO struct {
	Timestamp time.Time `json:"timestamp"`
	Value     float64   `json:"value"`
}

type moverDTO struct {
	UserID        string  `json:"userId"`
	Name          string  `json:"name"`
	CurrentValue  float64 `json:"currentValue"`
	PreviousValue float64 `json:"previousValue"`
	Change        float64 `json:"change"`
	ChangePercent float64 `json:"changePercent"`
}

func toMoverDTOs(ms []domain.Mover) []moverDTO {
	out := make([]moverDTO, 0, len(ms))
	for _, m := range ms {
		out = append(out, moverDTO{
			UserID:        m.UserID,
			Name:          m.Name,
			CurrentValue:  money(m.CurrentValue),
			PreviousValue: money(m.PreviousValue),
			Change:        money(m.Change),
			ChangePercent: pct(m.ChangePercent),
		})
	}
	return out
}
