// Package model defines the core domain types shared across the bet engine.
//
// Probabilities, pools and share counts are float64: the CPMM math is
// transcendental and is specified in double precision. Values are converted
// to exact decimals only at the storage boundary.
package model

import "time"

// Outcome is one side of a binary or per-answer market.
type Outcome string

const (
	OutcomeYes Outcome = "YES"
	OutcomeNo  Outcome = "NO"
)

// Opposite returns the other side.
func (o Outcome) Opposite() Outcome {
	if o == OutcomeYes {
		return OutcomeNo
	}
	return OutcomeYes
}

// Valid reports whether o is YES or NO.
func (o Outcome) Valid() bool {
	return o == OutcomeYes || o == OutcomeNo
}

// Mechanism identifies the market maker backing a contract.
type Mechanism string

const (
	MechanismCPMM1      Mechanism = "cpmm-1"
	MechanismCPMMMulti1 Mechanism = "cpmm-multi-1"
)

// OutcomeType identifies what a contract trades on.
type OutcomeType string

const (
	OutcomeTypeBinary         OutcomeType = "BINARY"
	OutcomeTypePseudoNumeric  OutcomeType = "PSEUDO_NUMERIC"
	OutcomeTypeStonk          OutcomeType = "STONK"
	OutcomeTypeMultipleChoice OutcomeType = "MULTIPLE_CHOICE"
	OutcomeTypeNumber         OutcomeType = "NUMBER"
)

// Pool holds the market maker's inventory of YES and NO shares.
type Pool struct {
	YES float64 `json:"YES"`
	NO  float64 `json:"NO"`
}

// Get returns the quantity for outcome o.
func (p Pool) Get(o Outcome) float64 {
	if o == OutcomeYes {
		return p.YES
	}
	return p.NO
}

// Min returns the smaller side.
func (p Pool) Min() float64 {
	if p.YES < p.NO {
		return p.YES
	}
	return p.NO
}

// Fees is the fee breakdown charged on a trade.
type Fees struct {
	CreatorFee   float64 `json:"creatorFee"`
	PlatformFee  float64 `json:"platformFee"`
	LiquidityFee float64 `json:"liquidityFee"`
}

// NoFees is the zero fee set.
var NoFees = Fees{}

// Add returns the component-wise sum of f and o.
func (f Fees) Add(o Fees) Fees {
	return Fees{
		CreatorFee:   f.CreatorFee + o.CreatorFee,
		PlatformFee:  f.PlatformFee + o.PlatformFee,
		LiquidityFee: f.LiquidityFee + o.LiquidityFee,
	}
}

// Total returns the sum of all components.
func (f Fees) Total() float64 {
	return f.CreatorFee + f.PlatformFee + f.LiquidityFee
}

// Contract is a market. Identity fields never change. Trading state is
// mutated only inside a settlement transaction.
type Contract struct {
	ID          string      `json:"id" db:"id"`
	Slug        string      `json:"slug,omitempty" db:"slug"`
	CreatorID   string      `json:"creatorId" db:"creator_id"`
	Question    string      `json:"question,omitempty" db:"question"`
	OutcomeType OutcomeType `json:"outcomeType" db:"outcome_type"`
	Mechanism   Mechanism   `json:"mechanism" db:"mechanism"`

	// cpmm-1 only.
	Pool Pool    `json:"pool" db:"pool"`
	P    float64 `json:"p" db:"p"`

	TotalLiquidity float64 `json:"totalLiquidity" db:"total_liquidity"`
	SubsidyPool    float64 `json:"subsidyPool" db:"subsidy_pool"`
	CollectedFees  Fees    `json:"collectedFees" db:"collected_fees"`
	Volume         float64 `json:"volume" db:"volume"`

	// cpmm-multi-1 only.
	ShouldAnswersSumToOne bool `json:"shouldAnswersSumToOne,omitempty" db:"should_answers_sum_to_one"`

	CloseTime   *time.Time `json:"closeTime,omitempty" db:"close_time"`
	Resolution  string     `json:"resolution,omitempty" db:"resolution"`
	CreatedTime time.Time  `json:"createdTime" db:"created_time"`
}

// IsClosed reports whether trading has closed at now.
func (c *Contract) IsClosed(now time.Time) bool {
	return c.CloseTime != nil && now.After(*c.CloseTime)
}

// Answer is one outcome of a multiple-choice contract, traded as its own
// YES/NO pool at p = 0.5.
type Answer struct {
	ID          string    `json:"id" db:"id"`
	ContractID  string    `json:"contractId" db:"contract_id"`
	Text        string    `json:"text" db:"text"`
	Index       int       `json:"index" db:"index"`
	PoolYes     float64   `json:"poolYes" db:"pool_yes"`
	PoolNo      float64   `json:"poolNo" db:"pool_no"`
	Prob        float64   `json:"prob" db:"prob"`
	Resolution  string    `json:"resolution,omitempty" db:"resolution"`
	CreatedTime time.Time `json:"createdTime" db:"created_time"`
}

// Pool returns the answer's pool as a Pool value.
func (a *Answer) Pool() Pool {
	return Pool{YES: a.PoolYes, NO: a.PoolNo}
}

// Fill is one partial match recorded on a bet. An empty MatchedBetID means
// the fill came from the automated pool.
type Fill struct {
	MatchedBetID string    `json:"matchedBetId,omitempty"`
	Amount       float64   `json:"amount"`
	Shares       float64   `json:"shares"`
	Timestamp    time.Time `json:"timestamp"`
	IsSale       bool      `json:"isSale,omitempty"`
}

// Bet is a trade record. Market orders are final at insert. Limit orders
// (LimitProb != nil) keep mutating Fills, Amount, Shares, IsFilled and
// IsCancelled as they are matched by later trades.
type Bet struct {
	ID               string  `json:"id" db:"id"`
	UserID           string  `json:"userId" db:"user_id"`
	ContractID       string  `json:"contractId" db:"contract_id"`
	AnswerID         string  `json:"answerId,omitempty" db:"answer_id"`
	BetGroupID       string  `json:"betGroupId,omitempty" db:"bet_group_id"`
	Outcome          Outcome `json:"outcome" db:"outcome"`
	Amount           float64 `json:"amount" db:"amount"`
	Shares           float64 `json:"shares" db:"shares"`
	ProbBefore       float64 `json:"probBefore" db:"prob_before"`
	ProbAfter        float64 `json:"probAfter" db:"prob_after"`
	Fees             Fees    `json:"fees" db:"fees"`
	LoanAmount       float64 `json:"loanAmount" db:"loan_amount"`
	IsAPI            bool    `json:"isApi,omitempty" db:"is_api"`
	IsRedemption     bool    `json:"isRedemption,omitempty" db:"is_redemption"`
	ReplyToCommentID string  `json:"replyToCommentId,omitempty" db:"reply_to_comment_id"`

	// Order state, present on every cpmm bet.
	OrderAmount float64    `json:"orderAmount" db:"order_amount"`
	LimitProb   *float64   `json:"limitProb,omitempty" db:"limit_prob"`
	Fills       []Fill     `json:"fills" db:"fills"`
	ExpiresAt   *time.Time `json:"expiresAt,omitempty" db:"expires_at"`
	IsFilled    bool       `json:"isFilled" db:"is_filled"`
	IsCancelled bool       `json:"isCancelled" db:"is_cancelled"`

	CreatedTime time.Time `json:"createdTime" db:"created_time"`
}

// IsLimitOrder reports whether b rests on the book until filled.
func (b *Bet) IsLimitOrder() bool {
	return b.LimitProb != nil
}

// LimitProbValue returns the limit price, or 0 for market orders.
func (b *Bet) LimitProbValue() float64 {
	if b.LimitProb == nil {
		return 0
	}
	return *b.LimitProb
}

// Maker describes one resting limit order consumed by a taker.
type Maker struct {
	Bet       *Bet      `json:"bet"`
	Amount    float64   `json:"amount"`
	Shares    float64   `json:"shares"`
	Timestamp time.Time `json:"timestamp"`
}

// User is the subset of user state the engine reads and mutates.
type User struct {
	ID            string    `json:"id" db:"id"`
	Username      string    `json:"username" db:"username"`
	Balance       float64   `json:"balance" db:"balance"`
	TotalDeposits float64   `json:"totalDeposits" db:"total_deposits"`
	IsBanned      bool      `json:"isBanned" db:"is_banned"`
	CreatedTime   time.Time `json:"createdTime" db:"created_time"`
}

// ContractMetric summarises one user's position in a contract (or one
// answer of it). It is a cache rebuildable from bet history.
type ContractMetric struct {
	UserID      string `json:"userId" db:"user_id"`
	ContractID  string `json:"contractId" db:"contract_id"`
	AnswerID    string `json:"answerId,omitempty" db:"answer_id"`
	TotalShares Pool   `json:"totalShares" db:"total_shares"`
	TotalSpent  Pool   `json:"totalSpent" db:"total_spent"`

	Invested     float64   `json:"invested" db:"invested"`
	Loan         float64   `json:"loan" db:"loan"`
	HasYesShares bool      `json:"hasYesShares" db:"has_yes_shares"`
	HasNoShares  bool      `json:"hasNoShares" db:"has_no_shares"`
	LastBetTime  time.Time `json:"lastBetTime" db:"last_bet_time"`
	LastProb     float64   `json:"lastProb" db:"last_prob"`
}

// MetricKey identifies a ContractMetric row.
type MetricKey struct {
	UserID     string
	ContractID string
	AnswerID   string
}

// Key returns m's identity.
func (m *ContractMetric) Key() MetricKey {
	return MetricKey{UserID: m.UserID, ContractID: m.ContractID, AnswerID: m.AnswerID}
}
