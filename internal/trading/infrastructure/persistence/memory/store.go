// Package memory 提供进程内的账本实现，语义与 GORM 实现一致，用于测试与本地调试。
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/wyfcoding/trading-api/internal/trading/domain"
)

// Store 同时实现 domain.TradeRepository 与 domain.PortfolioRepository，
// 单把锁对应数据库事务的串行效果。
type Store struct {
	mu         sync.Mutex
	nextID     uint64
	lastTS     time.Time
	trades     []*domain.Trade
	portfolios map[string]*domain.Portfolio
	positions  map[string]map[string]*domain.Position
	now        func() time.Time
}

// NewStore 创建空账本
func NewStore() *Store {
	return &Store{
		portfolios: make(map[string]*domain.Portfolio),
		positions:  make(map[string]map[string]*domain.Position),
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Record 实现 domain.TradeRepository.Record
func (s *Store) Record(ctx context.Context, trade *domain.Trade) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	book := s.positions[trade.UserID]
	pos := domain.Position{Symbol: trade.Symbol}
	if cur, ok := book[trade.Symbol]; ok {
		pos = *cur
	}
	realized := pos.Apply(trade)

	open := []domain.Position{pos}
	for symbol, v := range book {
		if symbol != trade.Symbol {
			open = append(open, *v)
		}
	}
	balance := domain.BalanceOf(open)
	realizedTotal := realized
	p, ok := s.portfolios[trade.UserID]
	if ok {
		realizedTotal = p.RealizedPnL.Add(realized)
	}
	if err := domain.CheckStorable(&pos, balance, realizedTotal); err != nil {
		return err
	}

	s.nextID++
	ts := s.now()
	if ts.Before(s.lastTS) {
		ts = s.lastTS
	}
	s.lastTS = ts

	recorded := *trade
	recorded.ID = s.nextID
	recorded.Timestamp = ts
	s.trades = append(s.trades, &recorded)

	if book == nil {
		book = make(map[string]*domain.Position)
		s.positions[trade.UserID] = book
	}
	book[trade.Symbol] = &pos

	if !ok {
		p = domain.EmptyPortfolio(trade.UserID)
		s.portfolios[trade.UserID] = p
	}
	p.Balance = balance
	p.RealizedPnL = realizedTotal
	updated := ts
	p.UpdatedAt = &updated

	*trade = recorded
	return nil
}

// List 实现 domain.TradeRepository.List
func (s *Store) List(ctx context.Context, limit, offset int) ([]*domain.Trade, int64, error) {
	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	sorted := make([]*domain.Trade, len(s.trades))
	copy(sorted, s.trades)
	sort.Slice(sorted, func(i, j int) bool {
		if !sorted[i].Timestamp.Equal(sorted[j].Timestamp) {
			return sorted[i].Timestamp.After(sorted[j].Timestamp)
		}
		return sorted[i].ID > sorted[j].ID
	})

	total := int64(len(sorted))
	if offset >= len(sorted) {
		return []*domain.Trade{}, total, nil
	}
	end := offset + limit
	if end > len(sorted) {
		end = len(sorted)
	}
	page := make([]*domain.Trade, 0, end-offset)
	for _, t := range sorted[offset:end] {
		cp := *t
		page = append(page, &cp)
	}
	return page, total, nil
}

// Get 实现 domain.PortfolioRepository.Get
func (s *Store) Get(ctx context.Context, userID string) (*domain.Portfolio, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.portfolios[userID]
	if !ok {
		return nil, nil
	}
	out := *p
	out.Positions = make([]domain.Position, 0, len(s.positions[userID]))
	for _, pos := range s.positions[userID] {
		if !pos.Quantity.IsZero() {
			out.Positions = append(out.Positions, *pos)
		}
	}
	out.SortPositions()
	return &out, nil
}

// TradeCount 返回某用户的成交笔数
func (s *Store) TradeCount(userID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, t := range s.trades {
		if t.UserID == userID {
			n++
		}
	}
	return n
}

// Ping 始终可用
func (s *Store) Ping(context.Context) error { return nil }
