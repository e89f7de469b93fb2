package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/betbot/stockledger/internal/domain"
	"github.com/betbot/stockledger/internal/services"
)

func (s *Server) handleUserPortfolio(w http.ResponseWriter, r *http.Request) {
	val, err := s.valuator.ComputeTotalValue(r.Context(), pathParam(r, "userID"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toValuationDTO(val))
}

func (s *Server) handleUserHistory(w http.ResponseWriter, r *http.Request) {
	snaps, err := s.history.History(r.Context(), pathParam(r, "userID"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	out := make([]snapshotDTO, 0, len(snaps))
	for _, sn := range snaps {
		out = append(out, snapshotDTO{Timestamp: sn.Timestamp, Value: money(sn.Value)})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleUserRank(w http.ResponseWriter, r *http.Request) {
	e, err := s.ranking.RankOf(r.Context(), pathParam(r, "userID"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, leaderboardEntryDTO{Rank: e.Rank, UserID: e.UserID, Name: e.Name, TotalValue: money(e.TotalValue)})
}

// queryInt 解析非负整数查询参数，缺省返回 def
func queryInt(r *http.Request, key string, def int) (int, bool) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def, true
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}

func (s *Server) handleLeaderboard(w http.ResponseWriter, r *http.Request) {
	top, ok := queryInt(r, "top", 0)
	if !ok {
		writeError(w, http.StatusBadRequest, "top must be a non-negative integer")
		return
	}
	entries, err := s.ranking.Leaderboard(r.Context(), top)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toLeaderboardDTO(entries))
}

func (s *Server) handleMovers(w http.ResponseWriter, r *http.Request) {
	limit, ok := queryInt(r, "limit", services.DefaultMoversLimit)
	if !ok {
		writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
		return
	}
	m, err := s.ranking.Movers(r.Context(), limit)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"gainers": toMoverDTOs(m.Gainers),
		"losers":  toMoverDTOs(m.Losers),
	})
}

func (s *Server) handleQuote(w http.ResponseWriter, r *http.Request) {
	q, err := s.quotes.Quote(r.Context(), pathParam(r, "symbol"))
	if err != nil {
		if errors.Is(err, domain.ErrPriceUnavailable) {
			writeError(w, http.StatusServiceUnavailable, err.Error())
			return
		}
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"symbol":        q.Symbol,
		"price":         price(q.Current),
		"previousClose": price(q.PreviousClose),
		"change":        price(q.Change()),
		"changePercent": pct(q.ChangePercent()),
		"asOf":          q.AsOf,
	})
}
