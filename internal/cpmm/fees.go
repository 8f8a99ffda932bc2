package cpmm

import "github.com/atmx/bet-engine/internal/model"

const (
	// TakerFeeConstant scales the taker fee: fee = c * prob * (1-prob) * shares.
	TakerFeeConstant = 0.07

	// CreatorFeeFrac and LiquidityFeeFrac split the taker fee; the platform
	// keeps the rest.
	CreatorFeeFrac   = 0.5
	LiquidityFeeFrac = 0.0

	// FlatTradeFee is charged per trade to API-key callers, on top of amount.
	FlatTradeFee = 0.1

	feeIterations = 10
)

// TakerFee is the fee on buying shares at an average price of prob.
func TakerFee(shares, prob float64) float64 {
	return TakerFeeConstant * prob * (1 - prob) * shares
}

// FeesSplit divides a total fee between creator, platform and liquidity.
func FeesSplit(total float64) model.Fees {
	creator := total * CreatorFeeFrac
	liquidity := total * LiquidityFeeFrac
	return model.Fees{
		CreatorFee:   creator,
		PlatformFee:  total - creator - liquidity,
		LiquidityFee: liquidity,
	}
}

// Fees charges the taker fee on a pool buy of bet. Charging the fee lowers
// the amount actually traded, which lowers the shares and the average
// price the fee is computed on, so the fee is found by fixed-point
// iteration.
func Fees(s State, bet float64, outcome model.Outcome) (remaining, total float64, fees model.Fees) {
	if bet == 0 {
		return 0, 0, model.NoFees
	}

	var fee float64
	for i := 0; i < feeIterations; i++ {
		afterFee := bet - fee
		shares := Shares(s.Pool, s.P, afterFee, outcome)
		fee = TakerFee(shares, afterFee/shares)
	}

	return bet - fee, fee, FeesSplit(fee)
}
