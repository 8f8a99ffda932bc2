package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/atmx/bet-engine/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache for the reads that price a trade before its transaction opens:
// contracts, answers and open orders. Transactions always read the primary,
// and every contract a committed transaction wrote is evicted.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

// --- Writes (primary, then invalidate) ---

func (s *CachedStore) RunInTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	var touched map[string]struct{}
	err := s.primary.RunInTx(ctx, func(ctx context.Context, tx Tx) error {
		// Reset per attempt: only the committed attempt's writes count.
		rec := &recordingTx{Tx: tx, touched: make(map[string]struct{})}
		if err := fn(ctx, rec); err != nil {
			return err
		}
		touched = rec.touched
		return nil
	})
	if err != nil {
		return err
	}
	for id := range touched {
		s.Invalidate(ctx, id)
	}
	return nil
}

func (s *CachedStore) CreateUser(ctx context.Context, u *model.User) error {
	return s.primary.CreateUser(ctx, u)
}

func (s *CachedStore) CreateContract(ctx context.Context, c *model.Contract, answers []model.Answer) error {
	if err := s.primary.CreateContract(ctx, c, answers); err != nil {
		return err
	}
	s.Invalidate(ctx, c.ID)
	return nil
}

// Invalidate evicts every cached read for a contract.
func (s *CachedStore) Invalidate(ctx context.Context, contractID string) {
	if err := s.rdb.Del(ctx, contractKey(contractID), answersKey(contractID), ordersKey(contractID)).Err(); err != nil {
		slog.Warn("cache invalidation failed", "contract", contractID, "err", err)
	}
}

// --- Read-through (check cache first) ---

func (s *CachedStore) GetContract(ctx context.Context, id string) (*model.Contract, error) {
	var c model.Contract
	if s.get(ctx, contractKey(id), &c) {
		return &c, nil
	}

	// Cache miss: read from primary.
	got, err := s.primary.GetContract(ctx, id)
	if err != nil {
		return nil, err
	}
	s.set(ctx, contractKey(id), got)
	return got, nil
}

func (s *CachedStore) GetAnswers(ctx context.Context, contractID string) ([]model.Answer, error) {
	var answers []model.Answer
	if s.get(ctx, answersKey(contractID), &answers) {
		return answers, nil
	}

	answers, err := s.primary.GetAnswers(ctx, contractID)
	if err != nil {
		return nil, err
	}
	s.set(ctx, answersKey(contractID), answers)
	return answers, nil
}

// GetUnfilledBets caches the whole contract's book and filters by answer.
func (s *CachedStore) GetUnfilledBets(ctx context.Context, contractID, answerID string) ([]*model.Bet, error) {
	var orders []*model.Bet
	if !s.get(ctx, ordersKey(contractID), &orders) {
		var err error
		orders, err = s.primary.GetUnfilledBets(ctx, contractID, "")
		if err != nil {
			return nil, err
		}
		s.set(ctx, ordersKey(contractID), orders)
	}
	if answerID == "" {
		return orders, nil
	}
	var out []*model.Bet
	for _, o := range orders {
		if o.AnswerID == answerID {
			out = append(out, o)
		}
	}
	return out, nil
}

// --- Passthrough (not cached) ---

func (s *CachedStore) GetUser(ctx context.Context, id string) (*model.User, error) {
	return s.primary.GetUser(ctx, id)
}

func (s *CachedStore) GetBalances(ctx context.Context, userIDs []string) (map[string]float64, error) {
	return s.primary.GetBalances(ctx, userIDs)
}

func (s *CachedStore) GetBet(ctx context.Context, id string) (*model.Bet, error) {
	return s.primary.GetBet(ctx, id)
}

func (s *CachedStore) GetUserBets(ctx context.Context, userID, contractID string) ([]*model.Bet, error) {
	return s.primary.GetUserBets(ctx, userID, contractID)
}

func (s *CachedStore) GetMetrics(ctx context.Context, userID, contractID string) ([]model.ContractMetric, error) {
	return s.primary.GetMetrics(ctx, userID, contractID)
}

// --- Cache helpers ---

func (s *CachedStore) get(ctx context.Context, key string, dst any) bool {
	data, err := s.rdb.Get(ctx, key).Bytes()
	if err != nil {
		return false
	}
	return json.Unmarshal(data, dst) == nil
}

func (s *CachedStore) set(ctx context.Context, key string, v any) {
	if data, err := json.Marshal(v); err == nil {
		s.rdb.Set(ctx, key, data, s.ttl)
	}
}

func contractKey(id string) string { return fmt.Sprintf("contract:%s", id) }
func answersKey(id string) string  { return fmt.Sprintf("answers:%s", id) }
func ordersKey(id string) string   { return fmt.Sprintf("orders:%s", id) }

// recordingTx notes which contracts a transaction writes.
type recordingTx struct {
	Tx
	touched map[string]struct{}
}

func (t *recordingTx) InsertBets(ctx context.Context, bets []*model.Bet) error {
	for _, b := range bets {
		t.touched[b.ContractID] = struct{}{}
	}
	return t.Tx.InsertBets(ctx, bets)
}

func (t *recordingTx) UpdateLimitOrder(ctx context.Context, b *model.Bet) error {
	t.touched[b.ContractID] = struct{}{}
	return t.Tx.UpdateLimitOrder(ctx, b)
}

func (t *recordingTx) CancelLimitOrders(ctx context.Context, ids []string) error {
	for _, id := range ids {
		b, err := t.Tx.GetBet(ctx, id)
		if err != nil {
			return err
		}
		t.touched[b.ContractID] = struct{}{}
	}
	return t.Tx.CancelLimitOrders(ctx, ids)
}

func (t *recordingTx) UpdateContract(ctx context.Context, c *model.Contract) error {
	t.touched[c.ID] = struct{}{}
	return t.Tx.UpdateContract(ctx, c)
}

func (t *recordingTx) UpdateAnswers(ctx context.Context, answers []model.Answer) error {
	for _, a := range answers {
		t.touched[a.ContractID] = struct{}{}
	}
	return t.Tx.UpdateAnswers(ctx, answers)
}
