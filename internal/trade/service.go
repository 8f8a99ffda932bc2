// Package trade places, sells and cancels bets on CPMM contracts.
//
// Every trade is serialized per market key by the scheduler, priced once
// against cached reads, then re-priced and settled inside a single store
// transaction. Broadcasting happens after commit and never fails a trade.
package trade

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/atmx/bet-engine/internal/betinfo"
	"github.com/atmx/bet-engine/internal/contract"
	"github.com/atmx/bet-engine/internal/limiter"
	"github.com/atmx/bet-engine/internal/metrics"
	"github.com/atmx/bet-engine/internal/model"
	"github.com/atmx/bet-engine/internal/numeric"
	"github.com/atmx/bet-engine/internal/orderbook"
	"github.com/atmx/bet-engine/internal/position"
	"github.com/atmx/bet-engine/internal/scheduler"
	"github.com/atmx/bet-engine/internal/store"
)

// Service executes trades against a store.
type Service struct {
	store    store.Store
	sched    *scheduler.Scheduler
	limiter  *limiter.APILimiter
	hub      *WSHub // optional WebSocket hub for real-time broadcasts
	validate *validator.Validate
	now      func() time.Time
}

// NewService creates a new trade service.
// Pass nil for hub if WebSocket broadcasting is not needed, and nil for lim
// to leave API callers unthrottled.
func NewService(st store.Store, sched *scheduler.Scheduler, lim *limiter.APILimiter, hub *WSHub) *Service {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return &Service{
		store:    st,
		sched:    sched,
		limiter:  lim,
		hub:      hub,
		validate: v,
		now:      time.Now,
	}
}

// Caller identifies who is trading. IsAPI marks API-key callers, who pay
// the flat trade fee and are rate limited.
type Caller struct {
	ID    string
	IsAPI bool
}

// --- Request/Response types ---

// PlaceBetRequest is the JSON body for POST /bet.
type PlaceBetRequest struct {
	ContractID       string     `json:"contractId" validate:"required"`
	Amount           float64    `json:"amount" validate:"gt=0"`
	Outcome          string     `json:"outcome" validate:"required,oneof=YES NO"`
	AnswerID         string     `json:"answerId"`
	LimitProb        *float64   `json:"limitProb"`
	ExpiresAt        *time.Time `json:"expiresAt"`
	ReplyToCommentID string     `json:"replyToCommentId"`
}

// SellRequest is the JSON body for POST /market/{contractId}/sell. Shares
// defaults to the whole position; Outcome defaults to the side held.
type SellRequest struct {
	ContractID string   `json:"contractId" validate:"required"`
	Shares     *float64 `json:"shares" validate:"omitempty,gt=0"`
	Outcome    string   `json:"outcome" validate:"omitempty,oneof=YES NO"`
	AnswerID   string   `json:"answerId"`
}

// CreateContractRequest is the JSON body for POST /contract.
type CreateContractRequest struct {
	Slug                  string            `json:"slug"`
	Question              string            `json:"question" validate:"required"`
	OutcomeType           model.OutcomeType `json:"outcomeType" validate:"required,oneof=BINARY PSEUDO_NUMERIC STONK MULTIPLE_CHOICE NUMBER"`
	Liquidity             float64           `json:"liquidity" validate:"gt=0"`
	InitialProb           float64           `json:"initialProb" validate:"omitempty,gt=0,lt=1"`
	Answers               []string          `json:"answers" validate:"omitempty,dive,required"`
	ShouldAnswersSumToOne bool              `json:"shouldAnswersSumToOne"`
	CloseTime             *time.Time        `json:"closeTime"`
}

// MakerFill summarises one resting order matched by a trade.
type MakerFill struct {
	BetID    string  `json:"betId"`
	UserID   string  `json:"userId"`
	Amount   float64 `json:"amount"`
	Shares   float64 `json:"shares"`
	IsFilled bool    `json:"isFilled"`
}

// BetResponse is the JSON body returned for a placed bet or sale: the new
// bet's fields plus what it touched.
type BetResponse struct {
	BetID string `json:"betId"`
	model.Bet
	Makers          []MakerFill `json:"makers"`
	CancelledOrders []string    `json:"cancelledOrders,omitempty"`
	OtherBets       []model.Bet `json:"otherBets,omitempty"`
	Redemptions     []model.Bet `json:"redemptions,omitempty"`
}

// ContractResponse is a contract with its answers.
type ContractResponse struct {
	*model.Contract
	Answers []model.Answer `json:"answers,omitempty"`
}

// --- Operations ---

// PlaceBet buys amount of outcome, or rests a limit order when LimitProb
// is set.
func (s *Service) PlaceBet(ctx context.Context, caller Caller, req PlaceBetRequest) (*BetResponse, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, err
	}
	if !numeric.IsFinite(req.Amount) {
		return nil, &APIError{Code: http.StatusBadRequest, Message: "amount must be finite", Field: "amount"}
	}
	now := s.now()

	var limitProb *float64
	if req.LimitProb != nil {
		lp, err := contract.QuantizeLimitProb(*req.LimitProb)
		if err != nil {
			return nil, err
		}
		limitProb = &lp
	}
	if err := contract.CheckExpiry(req.ExpiresAt, now); err != nil {
		return nil, err
	}
	if err := s.throttle(caller); err != nil {
		return nil, err
	}

	kind := "buy"
	if limitProb != nil {
		kind = "limit"
	}
	outcome := model.Outcome(req.Outcome)
	t := &trade{
		kind:       kind,
		caller:     caller,
		contractID: req.ContractID,
		answerID:   req.AnswerID,
		replyTo:    req.ReplyToCommentID,
		price: func(_ context.Context, _ store.Reader, m model.Market, b book, now time.Time) (*betinfo.BetInfo, error) {
			return betinfo.Compute(betinfo.Request{
				Market:    m,
				AnswerID:  req.AnswerID,
				Outcome:   outcome,
				Amount:    req.Amount,
				LimitProb: limitProb,
				ExpiresAt: req.ExpiresAt,
				Orders:    b.orders,
				Balances:  b.balances,
				Now:       now,
			})
		},
		cost:    func(*betinfo.BetInfo) float64 { return req.Amount },
		upfront: req.Amount,
	}

	st, err := s.execute(ctx, t)
	if err != nil {
		return nil, err
	}
	s.continueAfter(t, st)
	return newBetResponse(st), nil
}

// SellShares sells some or all of the caller's shares back to the market.
// Any outstanding loan is repaid pro rata out of the proceeds.
func (s *Service) SellShares(ctx context.Context, caller Caller, req SellRequest) (*BetResponse, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, err
	}
	if err := s.throttle(caller); err != nil {
		return nil, err
	}

	// loanPaid is set by each pricing run and read by cost after it.
	var loanPaid float64
	t := &trade{
		kind:       "sell",
		caller:     caller,
		contractID: req.ContractID,
		answerID:   req.AnswerID,
	}
	t.price = func(ctx context.Context, r store.Reader, m model.Market, b book, now time.Time) (*betinfo.BetInfo, error) {
		bets, err := r.GetUserBets(ctx, caller.ID, req.ContractID)
		if err != nil {
			return nil, fmt.Errorf("get user bets: %w", err)
		}
		metric := position.ComputeByAnswer(caller.ID, req.ContractID, bets)[req.AnswerID]
		outcome, shares, err := saleSize(metric, req)
		if err != nil {
			return nil, err
		}
		loanPaid = 0
		if held := metric.TotalShares.Get(outcome); metric.Loan > 0 && held > 0 {
			loanPaid = shares / held * metric.Loan
		}
		return betinfo.ComputeSale(betinfo.SaleRequest{
			Market:   m,
			AnswerID: req.AnswerID,
			Outcome:  outcome,
			Shares:   shares,
			LoanPaid: loanPaid,
			Orders:   b.orders,
			Balances: b.balances,
			Now:      now,
		})
	}
	t.cost = func(info *betinfo.BetInfo) float64 {
		if owed := loanPaid - info.SaleValue; owed > 0 {
			return owed
		}
		return 0
	}

	st, err := s.execute(ctx, t)
	if err != nil {
		return nil, err
	}
	s.continueAfter(t, st)
	return newBetResponse(st), nil
}

// saleSize picks the outcome and share count of a sale from the caller's
// position.
func saleSize(metric model.ContractMetric, req SellRequest) (model.Outcome, float64, error) {
	outcome := model.Outcome(req.Outcome)
	if outcome == "" {
		outcome = model.OutcomeYes
		if metric.TotalShares.NO > metric.TotalShares.YES {
			outcome = model.OutcomeNo
		}
	}
	held := metric.TotalShares.Get(outcome)
	if held <= 0 || numeric.FloatingEqual(held, 0) {
		return "", 0, apiError(http.StatusForbidden, fmt.Sprintf("You don't have any %s shares to sell.", outcome))
	}
	shares := held
	if req.Shares != nil {
		shares = *req.Shares
	}
	if numeric.FloatingEqual(shares, held) {
		shares = held
	} else if shares > held {
		return "", 0, &APIError{
			Code:    http.StatusBadRequest,
			Message: fmt.Sprintf("You can only sell up to %v shares.", held),
			Field:   "shares",
		}
	}
	return outcome, shares, nil
}

// CancelBet cancels one of the caller's open limit orders.
func (s *Service) CancelBet(ctx context.Context, caller Caller, betID string) (*model.Bet, error) {
	b, err := s.store.GetBet(ctx, betID)
	if err != nil {
		return nil, fmt.Errorf("get bet %s: %w", betID, err)
	}
	m, err := loadMarket(ctx, s.store, b.ContractID)
	if err != nil {
		return nil, err
	}

	var cancelled *model.Bet
	err = s.sched.Enqueue(ctx, keyFor(m, b.AnswerID), func(ctx context.Context) error {
		return s.store.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
			b, err := tx.GetBet(ctx, betID)
			if err != nil {
				return fmt.Errorf("get bet %s: %w", betID, err)
			}
			switch {
			case b.UserID != caller.ID:
				return apiError(http.StatusForbidden, "You can't cancel someone else's bet.")
			case !b.IsLimitOrder():
				return apiError(http.StatusBadRequest, "Bet is not a limit order.")
			case b.IsFilled || b.IsCancelled:
				return apiError(http.StatusBadRequest, "Bet already filled or cancelled.")
			}
			if err := tx.CancelLimitOrders(ctx, []string{betID}); err != nil {
				return err
			}
			b.IsCancelled = true
			cancelled = b
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	slog.Info("limit order cancelled", "bet_id", betID, "user", caller.ID, "contract", cancelled.ContractID)
	if s.hub != nil {
		s.hub.Broadcast(WSMessage{Type: "orders", ContractID: cancelled.ContractID, Orders: []model.Bet{*cancelled}})
	}
	return cancelled, nil
}

// CreateContract seeds a contract owned by the caller. Creation is free.
func (s *Service) CreateContract(ctx context.Context, caller Caller, req CreateContractRequest) (*ContractResponse, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, err
	}
	if _, err := s.store.GetUser(ctx, caller.ID); err != nil {
		return nil, fmt.Errorf("get user %s: %w", caller.ID, err)
	}
	if req.InitialProb == 0 {
		req.InitialProb = 0.5
	}
	c, answers, err := contract.New(contract.Seed{
		ID:          uuid.NewString(),
		Slug:        req.Slug,
		CreatorID:   caller.ID,
		Question:    req.Question,
		OutcomeType: req.OutcomeType,
		Liquidity:   req.Liquidity,
		InitialProb: req.InitialProb,
		Answers:     req.Answers,
		SumsToOne:   req.ShouldAnswersSumToOne,
		CloseTime:   req.CloseTime,
	}, s.now())
	if err != nil {
		return nil, err
	}
	if err := s.store.CreateContract(ctx, c, answers); err != nil {
		return nil, fmt.Errorf("create contract: %w", err)
	}

	slog.Info("contract created",
		"contract", c.ID,
		"slug", c.Slug,
		"creator", c.CreatorID,
		"outcome_type", c.OutcomeType,
		"answers", len(answers),
	)
	return &ContractResponse{Contract: c, Answers: answers}, nil
}

// --- Reads ---

// GetContract returns a contract with its answers.
func (s *Service) GetContract(ctx context.Context, id string) (*ContractResponse, error) {
	c, err := s.store.GetContract(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get contract %s: %w", id, err)
	}
	answers, err := s.store.GetAnswers(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get answers %s: %w", id, err)
	}
	return &ContractResponse{Contract: c, Answers: answers}, nil
}

// OpenOrders returns the contract's matchable limit orders. Expired orders
// stay unfilled in storage but are not listed.
func (s *Service) OpenOrders(ctx context.Context, contractID string) ([]model.Bet, error) {
	if _, err := s.store.GetContract(ctx, contractID); err != nil {
		return nil, fmt.Errorf("get contract %s: %w", contractID, err)
	}
	orders, err := s.store.GetUnfilledBets(ctx, contractID, "")
	if err != nil {
		return nil, fmt.Errorf("get unfilled bets: %w", err)
	}
	now := s.now()
	out := []model.Bet{}
	for _, o := range orders {
		if orderbook.Matchable(o, now) {
			out = append(out, *o)
		}
	}
	return out, nil
}

// UserMetrics returns a user's stored positions in a contract.
func (s *Service) UserMetrics(ctx context.Context, userID, contractID string) ([]model.ContractMetric, error) {
	ms, err := s.store.GetMetrics(ctx, userID, contractID)
	if err != nil {
		return nil, fmt.Errorf("get metrics: %w", err)
	}
	if ms == nil {
		ms = []model.ContractMetric{}
	}
	return ms, nil
}

// GetUser returns a user's balance record.
func (s *Service) GetUser(ctx context.Context, id string) (*model.User, error) {
	u, err := s.store.GetUser(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get user %s: %w", id, err)
	}
	return u, nil
}

// --- Helpers ---

func (s *Service) throttle(c Caller) error {
	if !c.IsAPI || s.limiter == nil {
		return nil
	}
	return s.limiter.Allow(c.ID)
}

// continueAfter runs the post-commit side effects of a trade.
func (s *Service) continueAfter(t *trade, st *settlement) {
	bet := st.bet
	metrics.BetsTotal.WithLabelValues(t.kind, string(bet.Outcome)).Inc()
	slog.Info("bet placed",
		"bet_id", bet.ID,
		"user", bet.UserID,
		"contract", bet.ContractID,
		"answer", bet.AnswerID,
		"outcome", bet.Outcome,
		"amount", bet.Amount,
		"shares", bet.Shares,
		"prob_before", bet.ProbBefore,
		"prob_after", bet.ProbAfter,
		"makers", len(st.makers),
		"cancelled", len(st.cancelled),
	)

	if s.hub == nil {
		return
	}
	msg := WSMessage{
		Type:       "bet",
		ContractID: bet.ContractID,
		AnswerID:   bet.AnswerID,
		Bets:       append([]model.Bet{bet}, st.siblings...),
	}
	switch m := st.market.(type) {
	case *model.BinaryMarket:
		msg.Prob = bet.ProbAfter
	case *model.MultiMarket:
		msg.Answers = m.Answers
	}
	s.hub.Broadcast(msg)

	if len(st.makers) > 0 || len(st.cancelled) > 0 || bet.IsLimitOrder() {
		orders := []model.Bet{}
		if bet.IsLimitOrder() {
			orders = append(orders, bet)
		}
		for _, u := range st.makers {
			orders = append(orders, model.Bet{ID: u.BetID, UserID: u.UserID, ContractID: bet.ContractID,
				Amount: u.Amount, Shares: u.Shares, IsFilled: u.IsFilled})
		}
		for _, id := range st.cancelled {
			orders = append(orders, model.Bet{ID: id, ContractID: bet.ContractID, IsCancelled: true})
		}
		s.hub.Broadcast(WSMessage{Type: "orders", ContractID: bet.ContractID, AnswerID: bet.AnswerID, Orders: orders})
	}
}

func newBetResponse(st *settlement) *BetResponse {
	resp := &BetResponse{
		BetID:           st.bet.ID,
		Bet:             st.bet,
		Makers:          make([]MakerFill, 0, len(st.makers)),
		CancelledOrders: st.cancelled,
		OtherBets:       st.siblings,
		Redemptions:     st.redeemed,
	}
	takers := map[string]bool{st.bet.ID: true}
	for _, b := range st.siblings {
		takers[b.ID] = true
	}
	for _, u := range st.makers {
		f := MakerFill{BetID: u.BetID, UserID: u.UserID, IsFilled: u.IsFilled}
		for _, fill := range u.Fills {
			if takers[fill.MatchedBetID] {
				f.Amount += fill.Amount
				f.Shares += fill.Shares
			}
		}
		resp.Makers = append(resp.Makers, f)
	}
	return resp
}
