package trade

import (
	"context"
	"fmt"
	"math"
	"slices"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/atmx/bet-engine/internal/betinfo"
	"github.com/atmx/bet-engine/internal/contract"
	"github.com/atmx/bet-engine/internal/cpmm"
	"github.com/atmx/bet-engine/internal/metrics"
	"github.com/atmx/bet-engine/internal/model"
	"github.com/atmx/bet-engine/internal/orderbook"
	"github.com/atmx/bet-engine/internal/position"
	"github.com/atmx/bet-engine/internal/redeem"
	"github.com/atmx/bet-engine/internal/scheduler"
	"github.com/atmx/bet-engine/internal/store"
)

// book is the resting-order state a trade is priced against.
type book struct {
	orders   []*model.Bet
	balances map[string]float64
}

// trade is one buy or sale moving through the pipeline.
type trade struct {
	kind       string // buy, limit or sell
	caller     Caller
	contractID string
	answerID   string
	replyTo    string

	// price computes the trade against m. It runs once before the
	// transaction and again inside it, with r reading the matching state.
	price func(ctx context.Context, r store.Reader, m model.Market, b book, now time.Time) (*betinfo.BetInfo, error)

	// cost is the balance the caller must hold for info, before the API fee.
	cost func(info *betinfo.BetInfo) float64

	// upfront is the part of cost known before pricing.
	upfront float64
}

// makerGroup is the makers matched by one taker bet.
type makerGroup struct {
	makers []model.Maker
	betID  string
}

// settlement is what a committed trade wrote.
type settlement struct {
	market    model.Market
	bet       model.Bet
	siblings  []model.Bet
	makers    []orderbook.MakerUpdate
	cancelled []string
	redeemed  []model.Bet
}

// keyFor is the scheduler key serializing trades on m. Answers that sum to
// one share a single queue because a trade on one moves them all.
func keyFor(m model.Market, answerID string) scheduler.Key {
	if mm, ok := m.(*model.MultiMarket); ok && !mm.SumsToOne {
		return scheduler.Key{ContractID: mm.Contract.ID, AnswerID: answerID}
	}
	return scheduler.Key{ContractID: m.Base().ID}
}

// bookScope is the answer filter for order reads: every answer for
// sum-to-one markets, one answer for independent ones.
func bookScope(m model.Market, answerID string) string {
	if mm, ok := m.(*model.MultiMarket); ok && !mm.SumsToOne {
		return answerID
	}
	return ""
}

func loadMarket(ctx context.Context, r store.Reader, contractID string) (model.Market, error) {
	c, err := r.GetContract(ctx, contractID)
	if err != nil {
		return nil, fmt.Errorf("get contract %s: %w", contractID, err)
	}
	var answers []model.Answer
	if c.Mechanism == model.MechanismCPMMMulti1 {
		if answers, err = r.GetAnswers(ctx, contractID); err != nil {
			return nil, fmt.Errorf("get answers %s: %w", contractID, err)
		}
	}
	return contract.Resolve(c, answers)
}

func loadBook(ctx context.Context, r store.Reader, m model.Market, answerID string) (book, error) {
	orders, err := r.GetUnfilledBets(ctx, m.Base().ID, bookScope(m, answerID))
	if err != nil {
		return book{}, fmt.Errorf("get unfilled bets: %w", err)
	}
	var owners []string
	for _, o := range orders {
		if !slices.Contains(owners, o.UserID) {
			owners = append(owners, o.UserID)
		}
	}
	balances, err := r.GetBalances(ctx, owners)
	if err != nil {
		return book{}, fmt.Errorf("get balances: %w", err)
	}
	return book{orders: orders, balances: balances}, nil
}

// quote reads everything t needs from r and prices it.
func (s *Service) quote(ctx context.Context, r store.Reader, t *trade, now time.Time) (model.Market, *betinfo.BetInfo, error) {
	m, err := loadMarket(ctx, r, t.contractID)
	if err != nil {
		return nil, nil, err
	}
	if err := contract.CheckTradable(m, t.answerID, t.caller.IsAPI, now); err != nil {
		return nil, nil, err
	}
	b, err := loadBook(ctx, r, m, t.answerID)
	if err != nil {
		return nil, nil, err
	}
	info, err := t.price(ctx, r, m, b, now)
	if err != nil {
		return nil, nil, err
	}
	return m, info, nil
}

// execute runs t through its market's queue: simulate against cached
// reads, then re-price and settle inside one transaction.
func (s *Service) execute(ctx context.Context, t *trade) (*settlement, error) {
	start := time.Now()
	m, err := s.admit(ctx, t)
	if err != nil {
		return nil, err
	}

	var out *settlement
	err = s.sched.Enqueue(ctx, keyFor(m, t.answerID), func(ctx context.Context) error {
		now := s.now()
		_, sim, err := s.quote(ctx, s.store, t, now)
		if err != nil {
			return err
		}
		simMakers := sim.MakerIDs()

		return s.store.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
			user, err := tx.GetUser(ctx, t.caller.ID)
			if err != nil {
				return fmt.Errorf("get user %s: %w", t.caller.ID, err)
			}
			if user.IsBanned {
				return errBanned
			}

			m, info, err := s.quote(ctx, tx, t, now)
			if err != nil {
				return err
			}
			if !slices.Equal(info.MakerIDs(), simMakers) {
				return ErrRetry
			}
			if user.Balance < t.cost(info)+apiFee(t.caller) {
				return errInsufficientBalance
			}

			out, err = s.settle(ctx, tx, t, m, info, now)
			return err
		})
	})
	if err != nil {
		return nil, err
	}
	metrics.SettlementLatency.WithLabelValues(t.kind).Observe(time.Since(start).Seconds())
	return out, nil
}

// admit rejects t before it queues when the caller or market already rules
// it out. The same checks run again inside the transaction.
func (s *Service) admit(ctx context.Context, t *trade) (model.Market, error) {
	user, err := s.store.GetUser(ctx, t.caller.ID)
	if err != nil {
		return nil, fmt.Errorf("get user %s: %w", t.caller.ID, err)
	}
	if user.IsBanned {
		return nil, errBanned
	}
	if user.Balance < t.upfront+apiFee(t.caller) {
		return nil, errInsufficientBalance
	}
	m, err := loadMarket(ctx, s.store, t.contractID)
	if err != nil {
		return nil, err
	}
	if err := contract.CheckTradable(m, t.answerID, t.caller.IsAPI, s.now()); err != nil {
		return nil, err
	}
	return m, nil
}

func apiFee(c Caller) float64 {
	if c.IsAPI {
		return cpmm.FlatTradeFee
	}
	return 0
}

// settle writes info inside tx. Every write belongs to the one transaction,
// so a failure at any step leaves no trace.
func (s *Service) settle(ctx context.Context, tx store.Tx, t *trade, m model.Market, info *betinfo.BetInfo, now time.Time) (*settlement, error) {
	out := &settlement{}

	// Bets.
	bet := info.NewBet
	bet.ID = uuid.NewString()
	bet.UserID = t.caller.ID
	bet.IsAPI = t.caller.IsAPI
	bet.ReplyToCommentID = t.replyTo
	groupID := ""
	if len(info.OtherBetResults) > 0 {
		groupID = uuid.NewString()
		bet.BetGroupID = groupID
	}
	inserts := []*model.Bet{&bet}
	siblings := make([]model.Bet, len(info.OtherBetResults))
	for i, o := range info.OtherBetResults {
		siblings[i] = o.Bet
		siblings[i].ID = uuid.NewString()
		siblings[i].UserID = t.caller.ID
		siblings[i].BetGroupID = groupID
		inserts = append(inserts, &siblings[i])
	}
	if err := tx.InsertBets(ctx, inserts); err != nil {
		return nil, fmt.Errorf("insert bets: %w", err)
	}
	out.bet, out.siblings = bet, siblings

	// Makers.
	affected := []string{t.caller.ID}
	groups := []makerGroup{{info.Makers, bet.ID}}
	for i, o := range info.OtherBetResults {
		groups = append(groups, makerGroup{o.Makers, siblings[i].ID})
	}
	for _, g := range groups {
		updates, spent := orderbook.ApplyMakers(g.makers, g.betID)
		for _, u := range updates {
			order, err := tx.GetBet(ctx, u.BetID)
			if err != nil {
				return nil, fmt.Errorf("get maker order %s: %w", u.BetID, err)
			}
			u.Apply(order)
			if err := tx.UpdateLimitOrder(ctx, order); err != nil {
				return nil, fmt.Errorf("update maker order %s: %w", u.BetID, err)
			}
		}
		for _, userID := range sortedKeys(spent) {
			if err := tx.IncrementBalance(ctx, userID, -spent[userID]); err != nil {
				return nil, fmt.Errorf("debit maker %s: %w", userID, err)
			}
			if !slices.Contains(affected, userID) {
				affected = append(affected, userID)
			}
		}
		out.makers = append(out.makers, updates...)
		metrics.MakerFills.Add(float64(len(g.makers)))
	}

	for _, o := range info.AllOrdersToCancel() {
		if !slices.Contains(out.cancelled, o.ID) {
			out.cancelled = append(out.cancelled, o.ID)
		}
	}
	if len(out.cancelled) > 0 {
		if err := tx.CancelLimitOrders(ctx, out.cancelled); err != nil {
			return nil, fmt.Errorf("cancel orders: %w", err)
		}
	}

	// Balances. A sale's amount is negative and its loan amount is the
	// (negative) repayment, so one formula covers buys and sales.
	fee := apiFee(t.caller)
	if delta := -bet.Amount + bet.LoanAmount - fee; delta != 0 {
		if err := tx.IncrementBalance(ctx, t.caller.ID, delta); err != nil {
			return nil, fmt.Errorf("debit taker: %w", err)
		}
	}
	fees := info.TotalFees()
	c := *m.Base()
	if fees.CreatorFee > 0 {
		if err := tx.IncrementBalance(ctx, c.CreatorID, fees.CreatorFee); err != nil {
			return nil, fmt.Errorf("credit creator %s: %w", c.CreatorID, err)
		}
	}

	// Pool state.
	c.CollectedFees = c.CollectedFees.Add(fees)
	c.CollectedFees.PlatformFee += fee
	c.Volume += math.Abs(bet.Amount)
	c.TotalLiquidity = info.NewTotalLiquidity
	switch m := m.(type) {
	case *model.BinaryMarket:
		c.Pool, c.P = info.NewPool, info.NewP
		out.market = &model.BinaryMarket{Contract: &c}
	case *model.MultiMarket:
		answers := slices.Clone(m.Answers)
		var changed []model.Answer
		setPool := func(id string, p model.Pool) {
			for i := range answers {
				if answers[i].ID == id {
					answers[i].PoolYes, answers[i].PoolNo = p.YES, p.NO
					answers[i].Prob = cpmm.Probability(p, cpmm.FixedP)
					changed = append(changed, answers[i])
				}
			}
		}
		setPool(t.answerID, info.NewPool)
		for _, o := range info.OtherBetResults {
			setPool(o.AnswerID, o.State.Pool)
		}
		if err := tx.UpdateAnswers(ctx, changed); err != nil {
			return nil, fmt.Errorf("update answers: %w", err)
		}
		out.market = &model.MultiMarket{Contract: &c, Answers: answers, SumsToOne: m.SumsToOne}
	}
	if err := tx.UpdateContract(ctx, &c); err != nil {
		return nil, fmt.Errorf("update contract: %w", err)
	}

	// Redemptions and metrics.
	for _, userID := range affected {
		redeemed, err := redeemUser(ctx, tx, out.market, userID, now)
		if err != nil {
			return nil, err
		}
		out.redeemed = append(out.redeemed, redeemed...)
	}
	return out, nil
}

// redeemUser nets userID's offsetting shares on m and rewrites their
// metrics from bet history.
func redeemUser(ctx context.Context, tx store.Tx, m model.Market, userID string, now time.Time) ([]model.Bet, error) {
	contractID := m.Base().ID
	bets, err := tx.GetUserBets(ctx, userID, contractID)
	if err != nil {
		return nil, fmt.Errorf("get bets for %s: %w", userID, err)
	}
	positions := metricList(position.ComputeByAnswer(userID, contractID, bets))

	res := redeem.Compute(m, positions, now)
	if !res.Empty() {
		inserts := make([]*model.Bet, len(res.Bets))
		for i := range res.Bets {
			inserts[i] = &res.Bets[i]
			bets = append(bets, &res.Bets[i])
		}
		if err := tx.InsertBets(ctx, inserts); err != nil {
			return nil, fmt.Errorf("insert redemptions: %w", err)
		}
		if err := tx.IncrementBalance(ctx, userID, res.Net()); err != nil {
			return nil, fmt.Errorf("credit redemption: %w", err)
		}
		positions = metricList(position.ComputeByAnswer(userID, contractID, bets))
		metrics.Redemptions.Inc()
		metrics.RedeemedShares.Add(res.Payout)
	}

	if err := tx.UpsertMetrics(ctx, positions); err != nil {
		return nil, fmt.Errorf("upsert metrics: %w", err)
	}
	return res.Bets, nil
}

func metricList(byAnswer map[string]model.ContractMetric) []model.ContractMetric {
	out := make([]model.ContractMetric, 0, len(byAnswer))
	for _, id := range sortedKeys(byAnswer) {
		out = append(out, byAnswer[id])
	}
	return out
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
