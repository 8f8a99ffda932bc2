package betinfo

import (
	"fmt"
	"time"

	"github.com/atmx/bet-engine/internal/model"
	"github.com/atmx/bet-engine/internal/numeric"
	"github.com/atmx/bet-engine/internal/orderbook"
)

// Answers that sum to one are priced as independent p = 0.5 pools kept
// consistent by arbitrage. A YES share in every answer pays exactly 1, so:
//
//	NO in all n-1 other answers  == (n-2) mana + YES in this answer
//	YES in all n-1 other answers == NO in this answer
//
// Buying YES on answer A therefore buys some NO in every other answer and
// converts it, plus a direct YES buy on A. The split is binary searched
// until the probabilities sum to one again.

type answerResult struct {
	answer  *model.Answer
	outcome model.Outcome
	orderbook.Result
}

// redeemAll appends a fill that nets the leg's position back to zero.
func (r *answerResult) redeemAll(now time.Time) {
	r.Takers = append(r.Takers, model.Fill{
		Amount:    -r.TakerAmount(),
		Shares:    -r.TakerShares(),
		Timestamp: now,
	})
}

type arbResult struct {
	main   answerResult
	others []answerResult
}

func (r *arbResult) probSum() float64 {
	sum := r.main.State.Prob()
	for _, o := range r.others {
		sum += o.State.Prob()
	}
	return sum
}

type arbitrage struct {
	answers  []model.Answer
	orders   map[string][]*model.Bet
	balances map[string]float64
	now      time.Time

	// err holds the first failure inside a search comparator, which cannot
	// return one itself.
	err error
}

func newArbitrage(answers []model.Answer, orders []*model.Bet, balances map[string]float64, now time.Time) *arbitrage {
	byAnswer := make(map[string][]*model.Bet)
	for _, o := range orders {
		byAnswer[o.AnswerID] = append(byAnswer[o.AnswerID], o)
	}
	return &arbitrage{answers: answers, orders: byAnswer, balances: balances, now: now}
}

func (x *arbitrage) fail(err error) {
	if err != nil && x.err == nil {
		x.err = err
	}
}

func (x *arbitrage) others(a *model.Answer) []*model.Answer {
	out := make([]*model.Answer, 0, len(x.answers)-1)
	for i := range x.answers {
		if x.answers[i].ID != a.ID {
			out = append(out, &x.answers[i])
		}
	}
	return out
}

// legBalances starts the running maker balances for one set of legs.
// Every leg of a candidate reads and debits the same copy, so a maker with
// orders on several answers is never charged more than they hold.
func (x *arbitrage) legBalances() map[string]float64 {
	bal := make(map[string]float64, len(x.balances))
	for k, v := range x.balances {
		bal[k] = v
	}
	return bal
}

// fills prices one leg against bal and debits its maker fills from bal.
func (x *arbitrage) fills(a *model.Answer, outcome model.Outcome, amount float64, limitProb *float64, bal map[string]float64) answerResult {
	res, err := orderbook.ComputeFills(orderbook.Request{
		Outcome:   outcome,
		Amount:    amount,
		LimitProb: limitProb,
		State:     AnswerState(a),
		Orders:    x.orders[a.ID],
		Balances:  bal,
		Now:       x.now,
	})
	x.fail(err)
	for _, m := range res.Makers {
		if b, ok := bal[m.Bet.UserID]; ok {
			bal[m.Bet.UserID] = b - m.Amount
		}
	}
	return answerResult{answer: a, outcome: outcome, Result: res}
}

func (x *arbitrage) amountFor(a *model.Answer, shares float64, outcome model.Outcome, bal map[string]float64) float64 {
	amount, err := amountToBuySharesFixedP(AnswerState(a), shares, outcome, x.orders[a.ID], bal, x.now)
	x.fail(err)
	return amount
}

func (x *arbitrage) search(max float64, comparator func(float64) float64) (float64, error) {
	v, err := numeric.BinarySearch(0, max, comparator)
	if err != nil {
		return 0, err
	}
	if x.err != nil {
		return 0, x.err
	}
	return v, nil
}

// --- Buys ---

func (x *arbitrage) buyYes(a *model.Answer, bet float64, limitProb *float64) (*arbResult, error) {
	others := x.others(a)
	n := float64(len(x.answers))

	var noPriceSum float64
	for _, o := range others {
		noPriceSum += 1 - AnswerState(o).Prob()
	}
	// All of bet spent on NO at current prices, net of redemption mana.
	maxNoShares := bet / (noPriceSum - n + 2)

	noShares, err := x.search(maxNoShares, func(noShares float64) float64 {
		r := x.noInOthersThenYes(a, others, bet, limitProb, noShares)
		if r == nil {
			return 1
		}
		return 1 - r.probSum()
	})
	if err != nil {
		return nil, err
	}

	r := x.noInOthersThenYes(a, others, bet, limitProb, noShares)
	if r == nil {
		return nil, fmt.Errorf("%w: buy YES on %s", ErrArbitrage, a.ID)
	}
	return r, x.err
}

func (x *arbitrage) noInOthersThenYes(a *model.Answer, others []*model.Answer, bet float64, limitProb *float64, noShares float64) *arbResult {
	bal := x.legBalances()
	legs := make([]answerResult, len(others))
	var totalNo float64
	for i, o := range others {
		amount := x.amountFor(o, noShares, model.OutcomeNo, bal)
		totalNo += amount
		legs[i] = x.fills(o, model.OutcomeNo, amount, nil, bal)
	}

	redeemed := noShares * float64(len(x.answers)-2)
	netNo := totalNo - redeemed
	yesBet := bet - netNo
	if yesBet < 0 {
		return nil
	}
	for i := range legs {
		legs[i].redeemAll(x.now)
	}

	main := x.fills(a, model.OutcomeYes, yesBet, limitProb, bal)
	main.Takers = append(main.Takers, model.Fill{Amount: netNo, Shares: noShares, Timestamp: x.now})
	return &arbResult{main: main, others: legs}
}

func (x *arbitrage) buyNo(a *model.Answer, bet float64, limitProb *float64) (*arbResult, error) {
	others := x.others(a)

	var yesPriceSum float64
	for _, o := range others {
		yesPriceSum += AnswerState(o).Prob()
	}
	maxYesShares := bet / yesPriceSum

	yesShares, err := x.search(maxYesShares, func(yesShares float64) float64 {
		r := x.yesInOthersThenNo(a, others, bet, limitProb, yesShares)
		if r == nil {
			return 1
		}
		return r.probSum() - 1
	})
	if err != nil {
		return nil, err
	}

	r := x.yesInOthersThenNo(a, others, bet, limitProb, yesShares)
	if r == nil {
		return nil, fmt.Errorf("%w: buy NO on %s", ErrArbitrage, a.ID)
	}
	return r, x.err
}

func (x *arbitrage) yesInOthersThenNo(a *model.Answer, others []*model.Answer, bet float64, limitProb *float64, yesShares float64) *arbResult {
	bal := x.legBalances()
	legs := make([]answerResult, len(others))
	var totalYes float64
	for i, o := range others {
		amount := x.amountFor(o, yesShares, model.OutcomeYes, bal)
		totalYes += amount
		legs[i] = x.fills(o, model.OutcomeYes, amount, nil, bal)
	}

	noBet := bet - totalYes
	if noBet < 0 {
		return nil
	}
	for i := range legs {
		legs[i].redeemAll(x.now)
	}

	main := x.fills(a, model.OutcomeNo, noBet, limitProb, bal)
	main.Takers = append(main.Takers, model.Fill{Amount: totalYes, Shares: yesShares, Timestamp: x.now})
	return &arbResult{main: main, others: legs}
}

// --- Sales ---

// sellYes finds yesShares NO-equivalents for a: noShares of NO bought on a
// directly, the rest as YES on every other answer.
func (x *arbitrage) sellYes(a *model.Answer, yesShares float64, limitProb *float64) (*arbResult, error) {
	others := x.others(a)

	noShares, err := x.search(yesShares, func(noShares float64) float64 {
		r := x.sellYesLegs(a, others, yesShares, noShares, limitProb)
		return 1 - r.probSum()
	})
	if err != nil {
		return nil, err
	}

	r := x.sellYesLegs(a, others, yesShares, noShares, limitProb)
	var totalYes float64
	for i := range r.others {
		totalYes += r.others[i].TakerAmount()
		r.others[i].redeemAll(x.now)
	}
	r.main.Takers = append(r.main.Takers, model.Fill{Amount: totalYes, Shares: yesShares - noShares, Timestamp: x.now})
	return r, x.err
}

func (x *arbitrage) sellYesLegs(a *model.Answer, others []*model.Answer, yesShares, noShares float64, limitProb *float64) *arbResult {
	yesInOthers := yesShares - noShares
	bal := x.legBalances()
	main := x.fills(a, model.OutcomeNo, x.amountFor(a, noShares, model.OutcomeNo, bal), limitProb, bal)
	legs := make([]answerResult, len(others))
	for i, o := range others {
		legs[i] = x.fills(o, model.OutcomeYes, x.amountFor(o, yesInOthers, model.OutcomeYes, bal), nil, bal)
	}
	return &arbResult{main: main, others: legs}
}

// sellNo finds noShares YES-equivalents for a: yesShares of YES bought on a
// directly, the rest as NO on every other answer net of redemption mana.
func (x *arbitrage) sellNo(a *model.Answer, noShares float64, limitProb *float64) (*arbResult, error) {
	others := x.others(a)

	yesShares, err := x.search(noShares, func(yesShares float64) float64 {
		r := x.sellNoLegs(a, others, noShares, yesShares, limitProb)
		return r.probSum() - 1
	})
	if err != nil {
		return nil, err
	}

	r := x.sellNoLegs(a, others, noShares, yesShares, limitProb)
	noInOthers := noShares - yesShares
	var totalNo float64
	for i := range r.others {
		totalNo += r.others[i].TakerAmount()
		r.others[i].redeemAll(x.now)
	}
	redeemed := noInOthers * float64(len(x.answers)-2)
	r.main.Takers = append(r.main.Takers, model.Fill{Amount: totalNo - redeemed, Shares: noInOthers, Timestamp: x.now})
	return r, x.err
}

func (x *arbitrage) sellNoLegs(a *model.Answer, others []*model.Answer, noShares, yesShares float64, limitProb *float64) *arbResult {
	noInOthers := noShares - yesShares
	bal := x.legBalances()
	main := x.fills(a, model.OutcomeYes, x.amountFor(a, yesShares, model.OutcomeYes, bal), limitProb, bal)
	legs := make([]answerResult, len(others))
	for i, o := range others {
		legs[i] = x.fills(o, model.OutcomeNo, x.amountFor(o, noInOthers, model.OutcomeNo, bal), nil, bal)
	}
	return &arbResult{main: main, others: legs}
}
