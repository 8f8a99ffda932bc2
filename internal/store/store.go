// Package store defines persistence for the bet engine.
// Implementations include PostgreSQL (source of truth), Redis (read-through
// cache for pre-transaction reads), and in-memory (for testing).
package store

import (
	"context"
	"errors"

	"github.com/atmx/bet-engine/internal/model"
)

var (
	ErrNotFound = errors.New("store: not found")
	ErrExists   = errors.New("store: already exists")

	// ErrConflict marks a transaction the database aborted to preserve
	// serializability. RunInTx retries it.
	ErrConflict = errors.New("store: serialization conflict")
)

// Reader is the read side shared by the store and its transactions.
type Reader interface {
	// GetContract returns the contract with trading state.
	GetContract(ctx context.Context, id string) (*model.Contract, error)

	// GetAnswers returns a contract's answers ordered by index.
	GetAnswers(ctx context.Context, contractID string) ([]model.Answer, error)

	// GetUnfilledBets returns open limit orders on a contract, or on one
	// answer when answerID is set. Expired orders are included; the
	// matcher skips them.
	GetUnfilledBets(ctx context.Context, contractID, answerID string) ([]*model.Bet, error)

	GetUser(ctx context.Context, id string) (*model.User, error)

	// GetBalances returns the balance of every listed user that exists.
	GetBalances(ctx context.Context, userIDs []string) (map[string]float64, error)

	GetBet(ctx context.Context, id string) (*model.Bet, error)

	// GetUserBets returns a user's bets on a contract in creation order.
	GetUserBets(ctx context.Context, userID, contractID string) ([]*model.Bet, error)

	// GetMetrics returns a user's ContractMetric rows on a contract.
	GetMetrics(ctx context.Context, userID, contractID string) ([]model.ContractMetric, error)
}

// Tx is a unit of work. Changes become visible to other readers only when
// the function passed to RunInTx returns nil.
type Tx interface {
	Reader

	// IncrementBalance adds delta to a user's balance atomically.
	IncrementBalance(ctx context.Context, userID string, delta float64) error

	InsertBets(ctx context.Context, bets []*model.Bet) error

	// UpdateLimitOrder persists the mutable order fields of b: amount,
	// shares, fills, isFilled and isCancelled.
	UpdateLimitOrder(ctx context.Context, b *model.Bet) error

	// CancelLimitOrders marks the listed orders cancelled.
	CancelLimitOrders(ctx context.Context, ids []string) error

	// UpdateContract persists the trading state of c: pool, p, liquidity,
	// collected fees and volume.
	UpdateContract(ctx context.Context, c *model.Contract) error

	// UpdateAnswers persists pool and prob of each answer.
	UpdateAnswers(ctx context.Context, answers []model.Answer) error

	UpsertMetrics(ctx context.Context, metrics []model.ContractMetric) error
}

// Store is the persistence interface.
type Store interface {
	Reader

	// RunInTx runs fn in a serializable transaction and commits if it
	// returns nil. Conflicts are retried; any other error rolls back.
	RunInTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error

	CreateUser(ctx context.Context, u *model.User) error
	CreateContract(ctx context.Context, c *model.Contract, answers []model.Answer) error
}

// Invalidator is implemented by caching stores that must drop entries
// after a transaction commits.
type Invalidator interface {
	Invalidate(ctx context.Context, contractID string)
}
