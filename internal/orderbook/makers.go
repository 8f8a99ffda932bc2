package orderbook

import (
	"github.com/atmx/bet-engine/internal/model"
	"github.com/atmx/bet-engine/internal/numeric"
)

// MakerUpdate is the new state of one resting order after a match.
type MakerUpdate struct {
	BetID    string
	UserID   string
	Fills    []model.Fill
	Amount   float64
	Shares   float64
	IsFilled bool
}

// ApplyMakers folds makers into per-order updates and per-user debits.
// Each maker fill is appended to its order with takerBetID as the match;
// the order is filled when its total amount float-equals orderAmount.
func ApplyMakers(makers []model.Maker, takerBetID string) ([]MakerUpdate, map[string]float64) {
	var order []string
	byBet := make(map[string]*MakerUpdate)
	orderAmount := make(map[string]float64)
	spent := make(map[string]float64)

	for _, m := range makers {
		u, ok := byBet[m.Bet.ID]
		if !ok {
			u = &MakerUpdate{
				BetID:  m.Bet.ID,
				UserID: m.Bet.UserID,
				Fills:  append([]model.Fill(nil), m.Bet.Fills...),
			}
			byBet[m.Bet.ID] = u
			orderAmount[m.Bet.ID] = m.Bet.OrderAmount
			order = append(order, m.Bet.ID)
		}
		u.Fills = append(u.Fills, model.Fill{
			MatchedBetID: takerBetID,
			Amount:       m.Amount,
			Shares:       m.Shares,
			Timestamp:    m.Timestamp,
		})
		spent[m.Bet.UserID] += m.Amount
	}

	updates := make([]MakerUpdate, 0, len(order))
	for _, id := range order {
		u := byBet[id]
		for _, f := range u.Fills {
			u.Amount += f.Amount
			u.Shares += f.Shares
		}
		u.IsFilled = numeric.FloatingEqual(u.Amount, orderAmount[id])
		updates = append(updates, *u)
	}
	return updates, spent
}

// Apply writes u onto b.
func (u MakerUpdate) Apply(b *model.Bet) {
	b.Fills = u.Fills
	b.Amount = u.Amount
	b.Shares = u.Shares
	b.IsFilled = u.IsFilled
}
