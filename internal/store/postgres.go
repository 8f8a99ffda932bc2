package store

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/atmx/bet-engine/internal/model"
)

//go:embed schema.sql
var schemaSQL string

// PostgresStore implements Store using PostgreSQL as the source of truth.
// All monetary values are stored as NUMERIC for exact decimal precision.
type PostgresStore struct {
	pool       *pgxpool.Pool
	maxRetries int
}

// NewPostgresStore creates a new PostgreSQL-backed store. Transactions
// aborted for serializability are retried up to maxRetries times.
func NewPostgresStore(pool *pgxpool.Pool, maxRetries int) *PostgresStore {
	return &PostgresStore{pool: pool, maxRetries: maxRetries}
}

// Migrate creates the tables if they do not exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, schemaSQL)
	return err
}

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

func (s *PostgresStore) RunInTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	var err error
	for attempt := 0; attempt <= s.maxRetries; attempt++ {
		if attempt > 0 {
			slog.Warn("serialization conflict, retrying", "attempt", attempt, "err", err)
			if werr := backoff(ctx, attempt); werr != nil {
				return werr
			}
		}
		err = s.runOnce(ctx, fn)
		if !isRetryable(err) {
			return err
		}
	}
	return fmt.Errorf("%w after %d attempts: %v", ErrConflict, s.maxRetries+1, err)
}

func (s *PostgresStore) runOnce(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // no-op after commit

	if err := fn(ctx, &pgTx{q: tx}); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// isRetryable reports serialization_failure and deadlock_detected.
func isRetryable(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "40001" || pgErr.Code == "40P01"
	}
	return false
}

func backoff(ctx context.Context, attempt int) error {
	base := time.Duration(1<<min(attempt, 6)) * 5 * time.Millisecond
	wait := base/2 + rand.N(base)
	t := time.NewTimer(wait)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (s *PostgresStore) CreateUser(ctx context.Context, u *model.User) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO users (id, username, balance, total_deposits, is_banned, created_time)
		 VALUES ($1, $2, $3::NUMERIC, $4::NUMERIC, $5, $6)`,
		u.ID, u.Username, num(u.Balance), num(u.TotalDeposits), u.IsBanned, u.CreatedTime,
	)
	return wrapUnique(err, "user "+u.ID)
}

func (s *PostgresStore) CreateContract(ctx context.Context, c *model.Contract, answers []model.Answer) error {
	return s.RunInTx(ctx, func(ctx context.Context, tx Tx) error {
		q := tx.(*pgTx).q
		fees, err := json.Marshal(c.CollectedFees)
		if err != nil {
			return err
		}
		var slug *string
		if c.Slug != "" {
			slug = &c.Slug
		}
		_, err = q.Exec(ctx,
			`INSERT INTO contracts (id, slug, creator_id, question, outcome_type, mechanism,
			                        pool_yes, pool_no, p, total_liquidity, subsidy_pool, collected_fees,
			                        volume, should_answers_sum_to_one, close_time, resolution, created_time)
			 VALUES ($1, $2, $3, $4, $5, $6, $7::NUMERIC, $8::NUMERIC, $9::NUMERIC, $10::NUMERIC,
			         $11::NUMERIC, $12::JSONB, $13::NUMERIC, $14, $15, $16, $17)`,
			c.ID, slug, c.CreatorID, c.Question, c.OutcomeType, c.Mechanism,
			num(c.Pool.YES), num(c.Pool.NO), num(c.P), num(c.TotalLiquidity), num(c.SubsidyPool), string(fees),
			num(c.Volume), c.ShouldAnswersSumToOne, c.CloseTime, c.Resolution, c.CreatedTime,
		)
		if err != nil {
			return wrapUnique(err, "contract "+c.ID)
		}
		for _, a := range answers {
			_, err := q.Exec(ctx,
				`INSERT INTO answers (id, contract_id, text, idx, pool_yes, pool_no, prob, resolution, created_time)
				 VALUES ($1, $2, $3, $4, $5::NUMERIC, $6::NUMERIC, $7::NUMERIC, $8, $9)`,
				a.ID, a.ContractID, a.Text, a.Index, num(a.PoolYes), num(a.PoolNo), num(a.Prob), a.Resolution, a.CreatedTime,
			)
			if err != nil {
				return wrapUnique(err, "answer "+a.ID)
			}
		}
		return nil
	})
}

func (s *PostgresStore) GetContract(ctx context.Context, id string) (*model.Contract, error) {
	return getContract(ctx, s.pool, id)
}

func (s *PostgresStore) GetAnswers(ctx context.Context, contractID string) ([]model.Answer, error) {
	return getAnswers(ctx, s.pool, contractID)
}

func (s *PostgresStore) GetUnfilledBets(ctx context.Context, contractID, answerID string) ([]*model.Bet, error) {
	return getUnfilledBets(ctx, s.pool, contractID, answerID)
}

func (s *PostgresStore) GetUser(ctx context.Context, id string) (*model.User, error) {
	return getUser(ctx, s.pool, id)
}

func (s *PostgresStore) GetBalances(ctx context.Context, userIDs []string) (map[string]float64, error) {
	return getBalances(ctx, s.pool, userIDs)
}

func (s *PostgresStore) GetBet(ctx context.Context, id string) (*model.Bet, error) {
	return getBet(ctx, s.pool, id)
}

func (s *PostgresStore) GetUserBets(ctx context.Context, userID, contractID string) ([]*model.Bet, error) {
	return getUserBets(ctx, s.pool, userID, contractID)
}

func (s *PostgresStore) GetMetrics(ctx context.Context, userID, contractID string) ([]model.ContractMetric, error) {
	return getMetrics(ctx, s.pool, userID, contractID)
}

// --- Transaction ---

type pgTx struct {
	q querier
}

func (t *pgTx) GetContract(ctx context.Context, id string) (*model.Contract, error) {
	return getContract(ctx, t.q, id)
}

func (t *pgTx) GetAnswers(ctx context.Context, contractID string) ([]model.Answer, error) {
	return getAnswers(ctx, t.q, contractID)
}

func (t *pgTx) GetUnfilledBets(ctx context.Context, contractID, answerID string) ([]*model.Bet, error) {
	return getUnfilledBets(ctx, t.q, contractID, answerID)
}

func (t *pgTx) GetUser(ctx context.Context, id string) (*model.User, error) {
	return getUser(ctx, t.q, id)
}

func (t *pgTx) GetBalances(ctx context.Context, userIDs []string) (map[string]float64, error) {
	return getBalances(ctx, t.q, userIDs)
}

func (t *pgTx) GetBet(ctx context.Context, id string) (*model.Bet, error) {
	return getBet(ctx, t.q, id)
}

func (t *pgTx) GetUserBets(ctx context.Context, userID, contractID string) ([]*model.Bet, error) {
	return getUserBets(ctx, t.q, userID, contractID)
}

func (t *pgTx) GetMetrics(ctx context.Context, userID, contractID string) ([]model.ContractMetric, error) {
	return getMetrics(ctx, t.q, userID, contractID)
}

func (t *pgTx) IncrementBalance(ctx context.Context, userID string, delta float64) error {
	tag, err := t.q.Exec(ctx,
		`UPDATE users SET balance = balance + $2::NUMERIC WHERE id = $1`,
		userID, num(delta),
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("user %s: %w", userID, ErrNotFound)
	}
	return nil
}

func (t *pgTx) InsertBets(ctx context.Context, bets []*model.Bet) error {
	batch := &pgx.Batch{}
	for _, b := range bets {
		fees, err := json.Marshal(b.Fees)
		if err != nil {
			return err
		}
		fills, err := json.Marshal(nonNilFills(b.Fills))
		if err != nil {
			return err
		}
		var limitProb *string
		if b.LimitProb != nil {
			l := num(*b.LimitProb)
			limitProb = &l
		}
		batch.Queue(
			`INSERT INTO bets (id, user_id, contract_id, answer_id, bet_group_id, outcome, amount, shares,
			                   prob_before, prob_after, fees, loan_amount, is_api, is_redemption,
			                   reply_to_comment_id, order_amount, limit_prob, fills, expires_at,
			                   is_filled, is_cancelled, created_time)
			 VALUES ($1, $2, $3, $4, $5, $6, $7::NUMERIC, $8::NUMERIC, $9::NUMERIC, $10::NUMERIC, $11::JSONB,
			         $12::NUMERIC, $13, $14, $15, $16::NUMERIC, $17::NUMERIC, $18::JSONB, $19, $20, $21, $22)`,
			b.ID, b.UserID, b.ContractID, b.AnswerID, b.BetGroupID, b.Outcome, num(b.Amount), num(b.Shares),
			num(b.ProbBefore), num(b.ProbAfter), string(fees), num(b.LoanAmount), b.IsAPI, b.IsRedemption,
			b.ReplyToCommentID, num(b.OrderAmount), limitProb, string(fills), b.ExpiresAt,
			b.IsFilled, b.IsCancelled, b.CreatedTime,
		)
	}
	return t.sendBatch(ctx, batch, len(bets))
}

func (t *pgTx) UpdateLimitOrder(ctx context.Context, b *model.Bet) error {
	fills, err := json.Marshal(nonNilFills(b.Fills))
	if err != nil {
		return err
	}
	tag, err := t.q.Exec(ctx,
		`UPDATE bets
		 SET amount = $2::NUMERIC, shares = $3::NUMERIC, fills = $4::JSONB,
		     is_filled = $5, is_cancelled = $6
		 WHERE id = $1`,
		b.ID, num(b.Amount), num(b.Shares), string(fills), b.IsFilled, b.IsCancelled,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("bet %s: %w", b.ID, ErrNotFound)
	}
	return nil
}

func (t *pgTx) CancelLimitOrders(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := t.q.Exec(ctx, `UPDATE bets SET is_cancelled = TRUE WHERE id = ANY($1)`, ids)
	return err
}

func (t *pgTx) UpdateContract(ctx context.Context, c *model.Contract) error {
	fees, err := json.Marshal(c.CollectedFees)
	if err != nil {
		return err
	}
	tag, err := t.q.Exec(ctx,
		`UPDATE contracts
		 SET pool_yes = $2::NUMERIC, pool_no = $3::NUMERIC, p = $4::NUMERIC,
		     total_liquidity = $5::NUMERIC, subsidy_pool = $6::NUMERIC,
		     collected_fees = $7::JSONB, volume = $8::NUMERIC
		 WHERE id = $1`,
		c.ID, num(c.Pool.YES), num(c.Pool.NO), num(c.P),
		num(c.TotalLiquidity), num(c.SubsidyPool), string(fees), num(c.Volume),
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("contract %s: %w", c.ID, ErrNotFound)
	}
	return nil
}

func (t *pgTx) UpdateAnswers(ctx context.Context, answers []model.Answer) error {
	batch := &pgx.Batch{}
	for _, a := range answers {
		batch.Queue(
			`UPDATE answers SET pool_yes = $2::NUMERIC, pool_no = $3::NUMERIC, prob = $4::NUMERIC WHERE id = $1`,
			a.ID, num(a.PoolYes), num(a.PoolNo), num(a.Prob),
		)
	}
	return t.sendBatch(ctx, batch, len(answers))
}

func (t *pgTx) UpsertMetrics(ctx context.Context, metrics []model.ContractMetric) error {
	batch := &pgx.Batch{}
	for _, m := range metrics {
		shares, err := json.Marshal(m.TotalShares)
		if err != nil {
			return err
		}
		spent, err := json.Marshal(m.TotalSpent)
		if err != nil {
			return err
		}
		batch.Queue(
			`INSERT INTO contract_metrics (user_id, contract_id, answer_id, total_shares, total_spent,
			                               invested, loan, has_yes_shares, has_no_shares, last_bet_time, last_prob)
			 VALUES ($1, $2, $3, $4::JSONB, $5::JSONB, $6::NUMERIC, $7::NUMERIC, $8, $9, $10, $11::NUMERIC)
			 ON CONFLICT (user_id, contract_id, answer_id) DO UPDATE SET
			     total_shares = EXCLUDED.total_shares, total_spent = EXCLUDED.total_spent,
			     invested = EXCLUDED.invested, loan = EXCLUDED.loan,
			     has_yes_shares = EXCLUDED.has_yes_shares, has_no_shares = EXCLUDED.has_no_shares,
			     last_bet_time = EXCLUDED.last_bet_time, last_prob = EXCLUDED.last_prob`,
			m.UserID, m.ContractID, m.AnswerID, string(shares), string(spent),
			num(m.Invested), num(m.Loan), m.HasYesShares, m.HasNoShares, m.LastBetTime, num(m.LastProb),
		)
	}
	return t.sendBatch(ctx, batch, len(metrics))
}

func (t *pgTx) sendBatch(ctx context.Context, batch *pgx.Batch, n int) error {
	if n == 0 {
		return nil
	}
	br := t.q.SendBatch(ctx, batch)
	for i := 0; i < n; i++ {
		if _, err := br.Exec(); err != nil {
			br.Close()
			return wrapUnique(err, "batch")
		}
	}
	return br.Close()
}

// --- Shared queries ---

const contractColumns = `id, COALESCE(slug, ''), creator_id, question, outcome_type, mechanism,
	pool_yes::TEXT, pool_no::TEXT, p::TEXT, total_liquidity::TEXT, subsidy_pool::TEXT,
	collected_fees, volume::TEXT, should_answers_sum_to_one, close_time, resolution, created_time`

func getContract(ctx context.Context, q querier, id string) (*model.Contract, error) {
	var c model.Contract
	var poolYes, poolNo, p, liq, subsidy, volume string
	var fees []byte
	err := q.QueryRow(ctx, `SELECT `+contractColumns+` FROM contracts WHERE id = $1`, id).
		Scan(&c.ID, &c.Slug, &c.CreatorID, &c.Question, &c.OutcomeType, &c.Mechanism,
			&poolYes, &poolNo, &p, &liq, &subsidy,
			&fees, &volume, &c.ShouldAnswersSumToOne, &c.CloseTime, &c.Resolution, &c.CreatedTime)
	if err != nil {
		return nil, notFound(err, "contract "+id)
	}
	var n numbers
	c.Pool = model.Pool{YES: n.parse(poolYes), NO: n.parse(poolNo)}
	c.P = n.parse(p)
	c.TotalLiquidity = n.parse(liq)
	c.SubsidyPool = n.parse(subsidy)
	c.Volume = n.parse(volume)
	if n.err != nil {
		return nil, fmt.Errorf("contract %s: %w", id, n.err)
	}
	if err := json.Unmarshal(fees, &c.CollectedFees); err != nil {
		return nil, fmt.Errorf("contract %s collected_fees: %w", id, err)
	}
	return &c, nil
}

func getAnswers(ctx context.Context, q querier, contractID string) ([]model.Answer, error) {
	rows, err := q.Query(ctx,
		`SELECT id, contract_id, text, idx, pool_yes::TEXT, pool_no::TEXT, prob::TEXT, resolution, created_time
		 FROM answers WHERE contract_id = $1 ORDER BY idx`, contractID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var answers []model.Answer
	for rows.Next() {
		var a model.Answer
		var poolYes, poolNo, prob string
		if err := rows.Scan(&a.ID, &a.ContractID, &a.Text, &a.Index,
			&poolYes, &poolNo, &prob, &a.Resolution, &a.CreatedTime); err != nil {
			return nil, err
		}
		var n numbers
		a.PoolYes, a.PoolNo, a.Prob = n.parse(poolYes), n.parse(poolNo), n.parse(prob)
		if n.err != nil {
			return nil, fmt.Errorf("answer %s: %w", a.ID, n.err)
		}
		answers = append(answers, a)
	}
	return answers, rows.Err()
}

const betColumns = `id, user_id, contract_id, answer_id, bet_group_id, outcome, amount::TEXT, shares::TEXT,
	prob_before::TEXT, prob_after::TEXT, fees, loan_amount::TEXT, is_api, is_redemption,
	reply_to_comment_id, order_amount::TEXT, limit_prob::TEXT, fills, expires_at,
	is_filled, is_cancelled, created_time`

func getUnfilledBets(ctx context.Context, q querier, contractID, answerID string) ([]*model.Bet, error) {
	rows, err := q.Query(ctx,
		`SELECT `+betColumns+` FROM bets
		 WHERE contract_id = $1 AND ($2 = '' OR answer_id = $2)
		   AND limit_prob IS NOT NULL AND NOT is_filled AND NOT is_cancelled
		 ORDER BY seq`, contractID, answerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanBets(rows)
}

func getBet(ctx context.Context, q querier, id string) (*model.Bet, error) {
	rows, err := q.Query(ctx, `SELECT `+betColumns+` FROM bets WHERE id = $1`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	bets, err := scanBets(rows)
	if err != nil {
		return nil, err
	}
	if len(bets) == 0 {
		return nil, fmt.Errorf("bet %s: %w", id, ErrNotFound)
	}
	return bets[0], nil
}

func getUserBets(ctx context.Context, q querier, userID, contractID string) ([]*model.Bet, error) {
	rows, err := q.Query(ctx,
		`SELECT `+betColumns+` FROM bets WHERE user_id = $1 AND contract_id = $2 ORDER BY seq`,
		userID, contractID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanBets(rows)
}

func scanBets(rows pgx.Rows) ([]*model.Bet, error) {
	var bets []*model.Bet
	for rows.Next() {
		var b model.Bet
		var amount, shares, probBefore, probAfter, loan, orderAmount string
		var limitProb *string
		var fees, fills []byte
		if err := rows.Scan(&b.ID, &b.UserID, &b.ContractID, &b.AnswerID, &b.BetGroupID, &b.Outcome,
			&amount, &shares, &probBefore, &probAfter, &fees, &loan, &b.IsAPI, &b.IsRedemption,
			&b.ReplyToCommentID, &orderAmount, &limitProb, &fills, &b.ExpiresAt,
			&b.IsFilled, &b.IsCancelled, &b.CreatedTime); err != nil {
			return nil, err
		}
		var n numbers
		b.Amount, b.Shares = n.parse(amount), n.parse(shares)
		b.ProbBefore, b.ProbAfter = n.parse(probBefore), n.parse(probAfter)
		b.LoanAmount, b.OrderAmount = n.parse(loan), n.parse(orderAmount)
		if limitProb != nil {
			l := n.parse(*limitProb)
			b.LimitProb = &l
		}
		if n.err != nil {
			return nil, fmt.Errorf("bet %s: %w", b.ID, n.err)
		}
		if err := json.Unmarshal(fees, &b.Fees); err != nil {
			return nil, fmt.Errorf("bet %s fees: %w", b.ID, err)
		}
		if err := json.Unmarshal(fills, &b.Fills); err != nil {
			return nil, fmt.Errorf("bet %s fills: %w", b.ID, err)
		}
		bets = append(bets, &b)
	}
	return bets, rows.Err()
}

func getUser(ctx context.Context, q querier, id string) (*model.User, error) {
	var u model.User
	var balance, deposits string
	err := q.QueryRow(ctx,
		`SELECT id, username, balance::TEXT, total_deposits::TEXT, is_banned, created_time
		 FROM users WHERE id = $1`, id).
		Scan(&u.ID, &u.Username, &balance, &deposits, &u.IsBanned, &u.CreatedTime)
	if err != nil {
		return nil, notFound(err, "user "+id)
	}
	var n numbers
	u.Balance, u.TotalDeposits = n.parse(balance), n.parse(deposits)
	if n.err != nil {
		return nil, fmt.Errorf("user %s: %w", id, n.err)
	}
	return &u, nil
}

func getBalances(ctx context.Context, q querier, userIDs []string) (map[string]float64, error) {
	out := make(map[string]float64, len(userIDs))
	if len(userIDs) == 0 {
		return out, nil
	}
	rows, err := q.Query(ctx, `SELECT id, balance::TEXT FROM users WHERE id = ANY($1)`, userIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var id, balance string
		if err := rows.Scan(&id, &balance); err != nil {
			return nil, err
		}
		bal, err := parseNum(balance)
		if err != nil {
			return nil, fmt.Errorf("user %s: %w", id, err)
		}
		out[id] = bal
	}
	return out, rows.Err()
}

func getMetrics(ctx context.Context, q querier, userID, contractID string) ([]model.ContractMetric, error) {
	rows, err := q.Query(ctx,
		`SELECT user_id, contract_id, answer_id, total_shares, total_spent, invested::TEXT, loan::TEXT,
		        has_yes_shares, has_no_shares, last_bet_time, last_prob::TEXT
		 FROM contract_metrics WHERE user_id = $1 AND contract_id = $2 ORDER BY answer_id`,
		userID, contractID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var metrics []model.ContractMetric
	for rows.Next() {
		var m model.ContractMetric
		var shares, spent []byte
		var invested, loan, lastProb string
		var lastBet *time.Time
		if err := rows.Scan(&m.UserID, &m.ContractID, &m.AnswerID, &shares, &spent, &invested, &loan,
			&m.HasYesShares, &m.HasNoShares, &lastBet, &lastProb); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(shares, &m.TotalShares); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(spent, &m.TotalSpent); err != nil {
			return nil, err
		}
		var n numbers
		m.Invested, m.Loan, m.LastProb = n.parse(invested), n.parse(loan), n.parse(lastProb)
		if n.err != nil {
			return nil, fmt.Errorf("metrics %s/%s: %w", m.UserID, m.AnswerID, n.err)
		}
		if lastBet != nil {
			m.LastBetTime = *lastBet
		}
		metrics = append(metrics, m)
	}
	return metrics, rows.Err()
}

// --- Conversion helpers ---

// num renders f for a NUMERIC parameter.
func num(f float64) string {
	return decimal.NewFromFloat(f).String()
}

func parseNum(s string) (float64, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("parse numeric %q: %w", s, err)
	}
	return d.InexactFloat64(), nil
}

// numbers parses the NUMERIC text columns of one row and keeps the first
// failure for the caller to check once.
type numbers struct{ err error }

func (n *numbers) parse(s string) float64 {
	f, err := parseNum(s)
	if err != nil && n.err == nil {
		n.err = err
	}
	return f
}

func nonNilFills(f []model.Fill) []model.Fill {
	if f == nil {
		return []model.Fill{}
	}
	return f
}

func notFound(err error, what string) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%s: %w", what, ErrNotFound)
	}
	return fmt.Errorf("get %s: %w", what, err)
}

func wrapUnique(err error, what string) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return fmt.Errorf("%s: %w", what, ErrExists)
	}
	return err
}
