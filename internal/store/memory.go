package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/atmx/bet-engine/internal/model"
)

// MemoryStore implements Store with in-memory maps. Used for testing
// and development. Not suitable for production (no persistence).
//
// Transactions run one at a time against a private copy of the state,
// which replaces the live state on commit.
type MemoryStore struct {
	txMu sync.Mutex // serializes RunInTx

	mu    sync.RWMutex
	state *memState
}

type memState struct {
	users     map[string]*model.User
	contracts map[string]*model.Contract
	answers   map[string][]model.Answer
	bets      map[string]*model.Bet
	betOrder  []string
	metrics   map[model.MetricKey]model.ContractMetric
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{state: &memState{
		users:     make(map[string]*model.User),
		contracts: make(map[string]*model.Contract),
		answers:   make(map[string][]model.Answer),
		bets:      make(map[string]*model.Bet),
		metrics:   make(map[model.MetricKey]model.ContractMetric),
	}}
}

func (s *MemoryStore) RunInTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.RLock()
	work := s.state.clone()
	s.mu.RUnlock()

	if err := fn(ctx, &memTx{st: work}); err != nil {
		return err
	}

	s.mu.Lock()
	s.state = work
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) CreateUser(_ context.Context, u *model.User) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.state.users[u.ID]; ok {
		return fmt.Errorf("user %s: %w", u.ID, ErrExists)
	}
	cp := *u
	s.state.users[u.ID] = &cp
	return nil
}

func (s *MemoryStore) CreateContract(_ context.Context, c *model.Contract, answers []model.Answer) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.state.contracts[c.ID]; ok {
		return fmt.Errorf("contract %s: %w", c.ID, ErrExists)
	}
	for _, existing := range s.state.contracts {
		if c.Slug != "" && existing.Slug == c.Slug {
			return fmt.Errorf("contract slug %s: %w", c.Slug, ErrExists)
		}
	}
	s.state.contracts[c.ID] = cloneContract(c)
	if len(answers) > 0 {
		s.state.answers[c.ID] = append([]model.Answer(nil), answers...)
	}
	return nil
}

// TotalBalance sums every user balance exactly.
func (s *MemoryStore) TotalBalance() decimal.Decimal {
	s.mu.RLock()
	defer s.mu.RUnlock()

	total := decimal.Zero
	for _, u := range s.state.users {
		total = total.Add(decimal.NewFromFloat(u.Balance))
	}
	return total
}

// AllBets returns every bet on a contract in insertion order.
func (s *MemoryStore) AllBets(contractID string) []*model.Bet {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*model.Bet
	for _, id := range s.state.betOrder {
		if b := s.state.bets[id]; b.ContractID == contractID {
			out = append(out, cloneBet(b))
		}
	}
	return out
}

// --- Reads outside a transaction ---

func (s *MemoryStore) read() (*memState, func()) {
	s.mu.RLock()
	return s.state, s.mu.RUnlock
}

func (s *MemoryStore) GetContract(ctx context.Context, id string) (*model.Contract, error) {
	st, done := s.read()
	defer done()
	return st.getContract(id)
}

func (s *MemoryStore) GetAnswers(ctx context.Context, contractID string) ([]model.Answer, error) {
	st, done := s.read()
	defer done()
	return st.getAnswers(contractID), nil
}

func (s *MemoryStore) GetUnfilledBets(ctx context.Context, contractID, answerID string) ([]*model.Bet, error) {
	st, done := s.read()
	defer done()
	return st.getUnfilledBets(contractID, answerID), nil
}

func (s *MemoryStore) GetUser(ctx context.Context, id string) (*model.User, error) {
	st, done := s.read()
	defer done()
	return st.getUser(id)
}

func (s *MemoryStore) GetBalances(ctx context.Context, userIDs []string) (map[string]float64, error) {
	st, done := s.read()
	defer done()
	return st.getBalances(userIDs), nil
}

func (s *MemoryStore) GetBet(ctx context.Context, id string) (*model.Bet, error) {
	st, done := s.read()
	defer done()
	return st.getBet(id)
}

func (s *MemoryStore) GetUserBets(ctx context.Context, userID, contractID string) ([]*model.Bet, error) {
	st, done := s.read()
	defer done()
	return st.getUserBets(userID, contractID), nil
}

func (s *MemoryStore) GetMetrics(ctx context.Context, userID, contractID string) ([]model.ContractMetric, error) {
	st, done := s.read()
	defer done()
	return st.getMetrics(userID, contractID), nil
}

// --- Transaction ---

type memTx struct {
	st *memState
}

func (t *memTx) GetContract(_ context.Context, id string) (*model.Contract, error) {
	return t.st.getContract(id)
}

func (t *memTx) GetAnswers(_ context.Context, contractID string) ([]model.Answer, error) {
	return t.st.getAnswers(contractID), nil
}

func (t *memTx) GetUnfilledBets(_ context.Context, contractID, answerID string) ([]*model.Bet, error) {
	return t.st.getUnfilledBets(contractID, answerID), nil
}

func (t *memTx) GetUser(_ context.Context, id string) (*model.User, error) {
	return t.st.getUser(id)
}

func (t *memTx) GetBalances(_ context.Context, userIDs []string) (map[string]float64, error) {
	return t.st.getBalances(userIDs), nil
}

func (t *memTx) GetBet(_ context.Context, id string) (*model.Bet, error) {
	return t.st.getBet(id)
}

func (t *memTx) GetUserBets(_ context.Context, userID, contractID string) ([]*model.Bet, error) {
	return t.st.getUserBets(userID, contractID), nil
}

func (t *memTx) GetMetrics(_ context.Context, userID, contractID string) ([]model.ContractMetric, error) {
	return t.st.getMetrics(userID, contractID), nil
}

func (t *memTx) IncrementBalance(_ context.Context, userID string, delta float64) error {
	u, ok := t.st.users[userID]
	if !ok {
		return fmt.Errorf("user %s: %w", userID, ErrNotFound)
	}
	u.Balance += delta
	return nil
}

func (t *memTx) InsertBets(_ context.Context, bets []*model.Bet) error {
	for _, b := range bets {
		if _, ok := t.st.bets[b.ID]; ok {
			return fmt.Errorf("bet %s: %w", b.ID, ErrExists)
		}
		t.st.bets[b.ID] = cloneBet(b)
		t.st.betOrder = append(t.st.betOrder, b.ID)
	}
	return nil
}

func (t *memTx) UpdateLimitOrder(_ context.Context, b *model.Bet) error {
	existing, ok := t.st.bets[b.ID]
	if !ok {
		return fmt.Errorf("bet %s: %w", b.ID, ErrNotFound)
	}
	existing.Amount = b.Amount
	existing.Shares = b.Shares
	existing.Fills = cloneBet(b).Fills
	existing.IsFilled = b.IsFilled
	existing.IsCancelled = b.IsCancelled
	return nil
}

func (t *memTx) CancelLimitOrders(_ context.Context, ids []string) error {
	for _, id := range ids {
		if b, ok := t.st.bets[id]; ok {
			b.IsCancelled = true
		}
	}
	return nil
}

func (t *memTx) UpdateContract(_ context.Context, c *model.Contract) error {
	existing, ok := t.st.contracts[c.ID]
	if !ok {
		return fmt.Errorf("contract %s: %w", c.ID, ErrNotFound)
	}
	existing.Pool = c.Pool
	existing.P = c.P
	existing.TotalLiquidity = c.TotalLiquidity
	existing.SubsidyPool = c.SubsidyPool
	existing.CollectedFees = c.CollectedFees
	existing.Volume = c.Volume
	return nil
}

func (t *memTx) UpdateAnswers(_ context.Context, answers []model.Answer) error {
	for _, a := range answers {
		list := t.st.answers[a.ContractID]
		found := false
		for i := range list {
			if list[i].ID == a.ID {
				list[i].PoolYes = a.PoolYes
				list[i].PoolNo = a.PoolNo
				list[i].Prob = a.Prob
				found = true
				break
			}
		}
		if !found {
			return fmt.Errorf("answer %s: %w", a.ID, ErrNotFound)
		}
	}
	return nil
}

func (t *memTx) UpsertMetrics(_ context.Context, metrics []model.ContractMetric) error {
	for _, m := range metrics {
		t.st.metrics[m.Key()] = m
	}
	return nil
}

// --- State helpers ---

func (st *memState) getContract(id string) (*model.Contract, error) {
	c, ok := st.contracts[id]
	if !ok {
		return nil, fmt.Errorf("contract %s: %w", id, ErrNotFound)
	}
	return cloneContract(c), nil
}

func (st *memState) getAnswers(contractID string) []model.Answer {
	out := append([]model.Answer(nil), st.answers[contractID]...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out
}

func (st *memState) getUnfilledBets(contractID, answerID string) []*model.Bet {
	var out []*model.Bet
	for _, id := range st.betOrder {
		b := st.bets[id]
		if b.ContractID != contractID || !b.IsLimitOrder() || b.IsFilled || b.IsCancelled {
			continue
		}
		if answerID != "" && b.AnswerID != answerID {
			continue
		}
		out = append(out, cloneBet(b))
	}
	return out
}

func (st *memState) getUser(id string) (*model.User, error) {
	u, ok := st.users[id]
	if !ok {
		return nil, fmt.Errorf("user %s: %w", id, ErrNotFound)
	}
	cp := *u
	return &cp, nil
}

func (st *memState) getBalances(userIDs []string) map[string]float64 {
	out := make(map[string]float64, len(userIDs))
	for _, id := range userIDs {
		if u, ok := st.users[id]; ok {
			out[id] = u.Balance
		}
	}
	return out
}

func (st *memState) getBet(id string) (*model.Bet, error) {
	b, ok := st.bets[id]
	if !ok {
		return nil, fmt.Errorf("bet %s: %w", id, ErrNotFound)
	}
	return cloneBet(b), nil
}

func (st *memState) getUserBets(userID, contractID string) []*model.Bet {
	var out []*model.Bet
	for _, id := range st.betOrder {
		if b := st.bets[id]; b.UserID == userID && b.ContractID == contractID {
			out = append(out, cloneBet(b))
		}
	}
	return out
}

func (st *memState) getMetrics(userID, contractID string) []model.ContractMetric {
	var out []model.ContractMetric
	for k, m := range st.metrics {
		if k.UserID == userID && k.ContractID == contractID {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AnswerID < out[j].AnswerID })
	return out
}

func (st *memState) clone() *memState {
	cp := &memState{
		users:     make(map[string]*model.User, len(st.users)),
		contracts: make(map[string]*model.Contract, len(st.contracts)),
		answers:   make(map[string][]model.Answer, len(st.answers)),
		bets:      make(map[string]*model.Bet, len(st.bets)),
		betOrder:  append([]string(nil), st.betOrder...),
		metrics:   make(map[model.MetricKey]model.ContractMetric, len(st.metrics)),
	}
	for id, u := range st.users {
		u := *u
		cp.users[id] = &u
	}
	for id, c := range st.contracts {
		cp.contracts[id] = cloneContract(c)
	}
	for id, as := range st.answers {
		cp.answers[id] = append([]model.Answer(nil), as...)
	}
	for id, b := range st.bets {
		cp.bets[id] = cloneBet(b)
	}
	for k, m := range st.metrics {
		cp.metrics[k] = m
	}
	return cp
}

func cloneContract(c *model.Contract) *model.Contract {
	cp := *c
	if c.CloseTime != nil {
		t := *c.CloseTime
		cp.CloseTime = &t
	}
	return &cp
}

func cloneBet(b *model.Bet) *model.Bet {
	cp := *b
	if b.LimitProb != nil {
		l := *b.LimitProb
		cp.LimitProb = &l
	}
	if b.ExpiresAt != nil {
		t := *b.ExpiresAt
		cp.ExpiresAt = &t
	}
	if b.Fills != nil {
		cp.Fills = make([]model.Fill, len(b.Fills))
		copy(cp.Fills, b.Fills)
	}
	return &cp
}
