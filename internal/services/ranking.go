package services

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/betbot/stockledger/internal/domain"
	"github.com/betbot/stockledger/internal/ports"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

var rankingLog = logrus.WithField("component", "ranking")

const DefaultMoversLimit = 5

// RankingService 排行榜：对全部用户估值后排序。
// 各用户的估值时刻略有差异，结果是尽力而为的近似快照。
type RankingService struct {
	store       ports.Store
	valuator    *Valuator
	concurrency int
}

func NewRankingService(store ports.Store, valuator *Valuator, concurrency int) *RankingService {
	if concurrency <= 0 {
		concurrency = defaultValuationConcurrency
	}
	return &RankingService{store: store, valuator: valuator, concurrency: concurrency}
}

// valueAll 并发估值所有用户；单个用户失败只记录日志并跳过
func (r *RankingService) valueAll(ctx context.Context) ([]*domain.Valuation, error) {
	users, err := r.store.ListUsers(ctx)
	if err != nil {
		return nil, persistence("list users", err)
	}

	results := make([]*domain.Valuation, len(users))
	var g errgroup.Group
	g.SetLimit(r.concurrency)
	for i, u := range users {
		i, u := i, u
		g.Go(func() error {
			val, err := r.valuator.ComputeTotalValue(ctx, u.ID)
			if err != nil {
				rankingLog.WithField("user", u.ID).Warnf("valuation failed, skipped: %v", err)
				return nil
			}
			results[i] = val
			return nil
		})
	}
	_ = g.Wait()

	out := results[:0]
	for _, v := range results {
		if v != nil {
			out = append(out, v)
		}
	}
	return out, nil
}

// rank 总值降序，相同总值按用户 ID 升序；名次从 1 连续编号
func rank(vals []*domain.Valuation) []domain.LeaderboardEntry {
	sort.Slice(vals, func(i, j int) bool {
		if c := vals[i].Total.Cmp(vals[j].Total); c != 0 {
			return c > 0
		}
		return vals[i].UserID < vals[j].UserID
	})
	entries := make([]domain.LeaderboardEntry, len(vals))
	for i, v := range vals {
		entries[i] = domain.LeaderboardEntry{
			Rank:       i + 1,
			UserID:     v.UserID,
			Name:       v.Name,
			TotalValue: v.Total,
		}
	}
	return entries
}

// Leaderboard 前 topN 名，topN <= 0 返回全部
func (r *RankingService) Leaderboard(ctx context.Context, topN int) ([]domain.LeaderboardEntry, error) {
	vals, err := r.valueAll(ctx)
	if err != nil {
		return nil, err
	}
	entries := rank(vals)
	if topN > 0 && len(entries) > topN {
		entries = entries[:topN]
	}
	return entries, nil
}

// RankOf 用户在完整排行榜中的名次
func (r *RankingService) RankOf(ctx context.Context, userID string) (domain.LeaderboardEntry, error) {
	if _, err := r.store.GetUser(ctx, userID); err != nil {
		if errors.Is(err, ports.ErrNotFound) {
			return domain.LeaderboardEntry{}, fmt.Errorf("%w: %s", domain.ErrUserNotFound, userID)
		}
		return domain.LeaderboardEntry{}, persistence("load user", err)
	}
	vals, err := r.valueAll(ctx)
	if err != nil {
		return domain.LeaderboardEntry{}, err
	}
	for _, e := range rank(vals) {
		if e.UserID == userID {
			return e, nil
		}
	}
	// 估值期间被删除
	return domain.LeaderboardEntry{}, fmt.Errorf("%w: %s", domain.ErrUserNotFound, userID)
}

// Movers 当前总值相对最近一次快照的变化：按变化绝对值降序，涨跌各取 limit 个。
// 没有快照或上次总值 <= 0 的用户不参与。
func (r *RankingService) Movers(ctx context.Context, limit int) (domain.Movers, error) {
	if limit <= 0 {
		limit = DefaultMoversLimit
	}
	vals, err := r.valueAll(ctx)
	if err != nil {
		return domain.Movers{}, err
	}

	var all []domain.Mover
	for _, v := range vals {
		last, err := r.store.LatestSnapshot(ctx, v.UserID)
		if err != nil {
			if !errors.Is(err, ports.ErrNotFound) {
				rankingLog.WithField("user", v.UserID).Warnf("load latest snapshot: %v", err)
			}
			continue
		}
		if !last.Value.IsPositive() {
			continue
		}
		change := v.Total.Sub(last.Value)
		all = append(all, domain.Mover{
			UserID:        v.UserID,
			Name:          v.Name,
			CurrentValue:  v.Total,
			PreviousValue: last.Value,
			Change:        change,
			ChangePercent: change.Div(last.Value).Mul(decimal.NewFromInt(100)),
		})
	}

	sort.SliceStable(all, func(i, j int) bool {
		if c := all[i].Change.Abs().Cmp(all[j].Change.Abs()); c != 0 {
			return c > 0
		}
		return all[i].UserID < all[j].UserID
	})

	out := domain.Movers{Gainers: []domain.Mover{}, Losers: []domain.Mover{}}
	for _, m := range all {
		switch {
		case m.Change.IsPositive() && len(out.Gainers) < limit:
			out.Gainers = append(out.Gainers, m)
		case m.Change.IsNegative() && len(out.Losers) < limit:
			out.Losers = append(out.Losers, m)
		}
	}
	return out, nil
}
