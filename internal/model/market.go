package model

// Market is the trading variant of a contract, resolved once at the entry
// point from (mechanism, outcomeType). Everything downstream switches on the
// concrete type instead of re-inspecting contract fields.
type Market interface {
	Base() *Contract
	isMarket()
}

// BinaryMarket is a cpmm-1 contract: one {YES, NO} pool with weight P.
// BINARY, PSEUDO_NUMERIC and STONK contracts all trade this way.
type BinaryMarket struct {
	Contract *Contract
}

// MultiMarket is a cpmm-multi-1 contract. Each answer has its own pool at
// p = 0.5. When SumsToOne is set, a trade on one answer moves every answer.
type MultiMarket struct {
	Contract  *Contract
	Answers   []Answer
	SumsToOne bool
}

func (m *BinaryMarket) Base() *Contract { return m.Contract }
func (m *MultiMarket) Base() *Contract  { return m.Contract }

func (*BinaryMarket) isMarket() {}
func (*MultiMarket) isMarket()  {}

// Answer returns the answer with the given id, or nil.
func (m *MultiMarket) Answer(id string) *Answer {
	for i := range m.Answers {
		if m.Answers[i].ID == id {
			return &m.Answers[i]
		}
	}
	return nil
}
