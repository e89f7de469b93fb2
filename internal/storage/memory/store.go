package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/betbot/stockledger/internal/domain"
	"github.com/betbot/stockledger/internal/ports"
	"github.com/shopspring/decimal"
)

type posKey struct {
	userID string
	symbol string
}

// Store 进程内存储，用于测试与 storage.driver=memory
type Store struct {
	mu        sync.RWMutex
	users     map[string]domain.User
	userOrder []string
	positions map[posKey]domain.Position
	snapshots map[string][]domain.Snapshot
	jobRuns   []domain.JobRun

	// txMu 串行化事务，事务期间的写入先暂存，提交时一次性落盘
	txMu sync.Mutex
}

var _ ports.Store = (*Store)(nil)

func New() *Store {
	return &Store{
		users:     make(map[string]domain.User),
		positions: make(map[posKey]domain.Position),
		snapshots: make(map[string][]domain.Snapshot),
	}
}

func (s *Store) Close() error { return nil }

func (s *Store) CreateUser(ctx context.Context, u domain.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[u.ID]; ok {
		return fmt.Errorf("%w: user %s already exists", domain.ErrValidation, u.ID)
	}
	now := time.Now()
	if u.CreatedAt.IsZero() {
		u.CreatedAt = now
	}
	if u.UpdatedAt.IsZero() {
		u.UpdatedAt = u.CreatedAt
	}
	s.users[u.ID] = u
	s.userOrder = append(s.userOrder, u.ID)
	return nil
}

func (s *Store) GetUser(ctx context.Context, userID string) (*domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[userID]
	if !ok {
		return nil, ports.ErrNotFound
	}
	return &u, nil
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.User, 0, len(s.userOrder))
	for _, id := range s.userOrder {
		out = append(out, s.users[id])
	}
	return out, nil
}

func (s *Store) ListPositions(ctx context.Context, userID string) ([]domain.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.Position
	for k, p := range s.positions {
		if k.userID == userID {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out, nil
}

func (s *Store) GetPosition(ctx context.Context, userID, symbol string) (*domain.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.positions[posKey{userID, symbol}]
	if !ok {
		return nil, ports.ErrNotFound
	}
	return &p, nil
}

func (s *Store) AppendSnapshot(ctx context.Context, snap domain.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := append(s.snapshots[snap.UserID], snap)
	sort.SliceStable(list, func(i, j int) bool { return list[i].Timestamp.Before(list[j].Timestamp) })
	s.snapshots[snap.UserID] = list
	return nil
}

func (s *Store) ListSnapshots(ctx context.Context, userID string) ([]domain.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	src := s.snapshots[userID]
	out := make([]domain.Snapshot, len(src))
	copy(out, src)
	return out, nil
}

func (s *Store) LatestSnapshot(ctx context.Context, userID string) (*domain.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	list := s.snapshots[userID]
	if len(list) == 0 {
		return nil, ports.ErrNotFound
	}
	snap := list[len(list)-1]
	return &snap, nil
}

func (s *Store) InsertJobRun(ctx context.Context, jobName, trigger string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := int64(len(s.jobRuns) + 1)
	s.jobRuns = append(s.jobRuns, domain.JobRun{ID: id, JobName: jobName, Trigger: trigger, StartedAt: time.Now()})
	return id, nil
}

func (s *Store) FinishJobRun(ctx context.Context, runID int64, ok bool, errMsg *string, metaJSON *string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if runID <= 0 || int(runID) > len(s.jobRuns) {
		return ports.ErrNotFound
	}
	now := time.Now()
	j := &s.jobRuns[runID-1]
	j.FinishedAt = &now
	j.OK = &ok
	j.Error = errMsg
	j.MetaJSON = metaJSON
	return nil
}

func (s *Store) ListJobRuns(ctx context.Context, limit int) ([]domain.JobRun, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.JobRun
	for i := len(s.jobRuns) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, s.jobRuns[i])
	}
	return out, nil
}

// InTx fn 返回错误时暂存的写入全部丢弃
func (s *Store) InTx(ctx context.Context, fn func(tx ports.LedgerTx) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	tx := &ledgerTx{
		s:         s,
		cash:      make(map[string]decimal.Decimal),
		positions: make(map[posKey]*domain.Position),
	}
	if err := fn(tx); err != nil {
		return err
	}
	tx.commit()
	return nil
}

type ledgerTx struct {
	s         *Store
	cash      map[string]decimal.Decimal
	positions map[posKey]*domain.Position // nil 表示删除
}

func (t *ledgerTx) GetUserForUpdate(ctx context.Context, userID string) (*domain.User, error) {
	u, err := t.s.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if c, ok := t.cash[userID]; ok {
		u.Cash = c
	}
	return u, nil
}

func (t *ledgerTx) UpdateCash(ctx context.Context, userID string, cash decimal.Decimal) error {
	if _, err := t.s.GetUser(ctx, userID); err != nil {
		return err
	}
	t.cash[userID] = cash
	return nil
}

func (t *ledgerTx) GetPosition(ctx context.Context, userID, symbol string) (*domain.Position, error) {
	if p, ok := t.positions[posKey{userID, symbol}]; ok {
		if p == nil {
			return nil, ports.ErrNotFound
		}
		cp := *p
		return &cp, nil
	}
	return t.s.GetPosition(ctx, userID, symbol)
}

func (t *ledgerTx) UpsertPosition(ctx context.Context, p domain.Position) error {
	if p.UpdatedAt.IsZero() {
		p.UpdatedAt = time.Now()
	}
	t.positions[posKey{p.UserID, p.Symbol}] = &p
	return nil
}

func (t *ledgerTx) DeletePosition(ctx context.Context, userID, symbol string) error {
	t.positions[posKey{userID, symbol}] = nil
	return nil
}

func (t *ledgerTx) commit() {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	now := time.Now()
	for id, c := range t.cash {
		u := t.s.users[id]
		u.Cash = c
		u.UpdatedAt = now
		t.s.users[id] = u
	}
	for k, p := range t.positions {
		if p == nil {
			delete(t.s.positions, k)
			continue
		}
		t.s.positions[k] = *p
	}
}
