package api

import (
	"encoding/json"
	"net/http"

	"github.com/betbot/stockledger/internal/domain"
	"github.com/shopspring/decimal"
)

type tradeRequest struct {
	Ticker string          `json:"ticker"`
	Shares int64           `json:"shares"`
	Price  decimal.Decimal `json:"price"`
	Type   string          `json:"type"`
}

func (s *Server) handleUserTrade(w http.ResponseWriter, r *http.Request) {
	var req tradeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	tt, err := domain.ParseTradeType(req.Type)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	res, err := s.trades.Apply(r.Context(), domain.Trade{
		UserID: pathParam(r, "userID"),
		Ticker: req.Ticker,
		Shares: req.Shares,
		Price:  req.Price,
		Type:   tt,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, envelope{Success: true, Message: res.Message, Data: toTradeData(res)})
}
