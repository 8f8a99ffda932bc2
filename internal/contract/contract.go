// Package contract resolves a stored contract into its trading variant and
// validates trade requests against it before any pricing runs.
package contract

import (
	"errors"
	"fmt"
	"math"
	"regexp"
	"time"

	"github.com/shopspring/decimal"

	"github.com/atmx/bet-engine/internal/cpmm"
	"github.com/atmx/bet-engine/internal/model"
	"github.com/atmx/bet-engine/internal/numeric"
)

var (
	ErrUnsupported    = errors.New("contract: contract type/mechanism not supported")
	ErrTradingClosed  = errors.New("contract: trading is closed")
	ErrResolved       = errors.New("contract: contract is resolved")
	ErrAnswerRequired = errors.New("contract: answerId must be specified for multi bets")
	ErrAnswerNotFound = errors.New("contract: answer not found")
	ErrAnswerResolved = errors.New("contract: answer is resolved and cannot be bet on")
	ErrTooFewAnswers  = errors.New("contract: cannot bet until at least two answers are added")
	ErrAPIStonk       = errors.New("contract: API users cannot bet on STONK contracts")
	ErrExpiresInPast  = errors.New("contract: bet cannot expire in the past")
	ErrLimitProbRange = errors.New("contract: limitProb must be between 0 and 1 exclusive")
	ErrLimitProbStep  = errors.New("contract: limitProb must be in increments of 0.01 (i.e. whole percentage points)")
	ErrInvalidSlug    = errors.New("contract: invalid slug")
	ErrInvalidSeed    = errors.New("contract: invalid contract seed")
)

// slugRegex matches lowercase words joined by single hyphens.
// Example: will-it-rain-in-sf-tomorrow
var slugRegex = regexp.MustCompile(`^[a-z0-9]+(-[a-z0-9]+)*$`)

// Resolve picks the trading variant of c. Binary-like outcome types trade
// on cpmm-1; multiple choice and number contracts trade on cpmm-multi-1.
func Resolve(c *model.Contract, answers []model.Answer) (model.Market, error) {
	switch {
	case c.Mechanism == model.MechanismCPMM1 && binaryLike(c.OutcomeType):
		return &model.BinaryMarket{Contract: c}, nil
	case c.Mechanism == model.MechanismCPMMMulti1 &&
		(c.OutcomeType == model.OutcomeTypeMultipleChoice || c.OutcomeType == model.OutcomeTypeNumber):
		return &model.MultiMarket{
			Contract:  c,
			Answers:   answers,
			SumsToOne: c.ShouldAnswersSumToOne,
		}, nil
	default:
		return nil, fmt.Errorf("%w: %s/%s", ErrUnsupported, c.OutcomeType, c.Mechanism)
	}
}

func binaryLike(t model.OutcomeType) bool {
	return t == model.OutcomeTypeBinary || t == model.OutcomeTypePseudoNumeric || t == model.OutcomeTypeStonk
}

// CheckTradable reports why m cannot take a trade on answerID at now, if it
// cannot. It is run before pricing and again inside the settlement
// transaction.
func CheckTradable(m model.Market, answerID string, isAPI bool, now time.Time) error {
	c := m.Base()
	if c.IsClosed(now) {
		return ErrTradingClosed
	}
	if c.Resolution != "" {
		return ErrResolved
	}

	switch m := m.(type) {
	case *model.BinaryMarket:
		if isAPI && c.OutcomeType == model.OutcomeTypeStonk {
			return ErrAPIStonk
		}
	case *model.MultiMarket:
		if answerID == "" {
			return ErrAnswerRequired
		}
		a := m.Answer(answerID)
		if a == nil {
			return fmt.Errorf("%w: %s", ErrAnswerNotFound, answerID)
		}
		if a.Resolution != "" {
			return ErrAnswerResolved
		}
		if m.SumsToOne && len(m.Answers) < 2 {
			return ErrTooFewAnswers
		}
	}
	return nil
}

// CheckExpiry rejects expiry times that are already past.
func CheckExpiry(expiresAt *time.Time, now time.Time) error {
	if expiresAt != nil && expiresAt.Before(now) {
		return ErrExpiresInPast
	}
	return nil
}

// QuantizeLimitProb checks l is a whole percentage strictly inside (0, 1)
// and returns it rounded to two decimals.
func QuantizeLimitProb(l float64) (float64, error) {
	if !numeric.IsFinite(l) || l <= 0 || l >= 1 {
		return 0, fmt.Errorf("%w: got %v", ErrLimitProbRange, l)
	}
	pct := l * 100
	if !numeric.FloatingEqual(math.Round(pct), pct) {
		return 0, fmt.Errorf("%w: got %v", ErrLimitProbStep, l)
	}
	return math.Round(pct) / 100, nil
}

// ValidateSlug checks a contract slug.
func ValidateSlug(slug string) error {
	if !slugRegex.MatchString(slug) {
		return fmt.Errorf("%w: %q", ErrInvalidSlug, slug)
	}
	return nil
}

// Seed describes a contract to create.
type Seed struct {
	ID          string
	Slug        string
	CreatorID   string
	Question    string
	OutcomeType model.OutcomeType

	// Liquidity is the total mana backing the pools.
	Liquidity float64

	// InitialProb (binary-like only) is rounded to whole percentage points.
	InitialProb float64

	// Answers (multi only) are the answer texts in display order.
	Answers   []string
	SumsToOne bool

	CloseTime *time.Time
}

// New builds the contract and answers described by s. A binary contract
// starts with an even pool weighted to InitialProb. Multi answers start at
// 1/n each when they sum to one, otherwise at 0.5 each.
func New(s Seed, now time.Time) (*model.Contract, []model.Answer, error) {
	if s.Slug != "" {
		if err := ValidateSlug(s.Slug); err != nil {
			return nil, nil, err
		}
	}
	if !(s.Liquidity > 0) || !numeric.IsFinite(s.Liquidity) {
		return nil, nil, fmt.Errorf("%w: liquidity must be positive, got %v", ErrInvalidSeed, s.Liquidity)
	}

	c := &model.Contract{
		ID:             s.ID,
		Slug:           s.Slug,
		CreatorID:      s.CreatorID,
		Question:       s.Question,
		OutcomeType:    s.OutcomeType,
		TotalLiquidity: s.Liquidity,
		CloseTime:      s.CloseTime,
		CreatedTime:    now,
	}

	if binaryLike(s.OutcomeType) {
		p := decimal.NewFromFloat(s.InitialProb).Round(2).InexactFloat64()
		if p <= 0 || p >= 1 {
			return nil, nil, fmt.Errorf("%w: initialProb must round into (0, 1), got %v", ErrInvalidSeed, s.InitialProb)
		}
		c.Mechanism = model.MechanismCPMM1
		c.Pool = model.Pool{YES: s.Liquidity, NO: s.Liquidity}
		c.P = p
		return c, nil, nil
	}

	if s.OutcomeType != model.OutcomeTypeMultipleChoice && s.OutcomeType != model.OutcomeTypeNumber {
		return nil, nil, fmt.Errorf("%w: %s", ErrUnsupported, s.OutcomeType)
	}
	if len(s.Answers) == 0 || (s.SumsToOne && len(s.Answers) < 2) {
		return nil, nil, fmt.Errorf("%w: %d answers", ErrInvalidSeed, len(s.Answers))
	}
	c.Mechanism = model.MechanismCPMMMulti1
	c.ShouldAnswersSumToOne = s.SumsToOne

	n := len(s.Answers)
	var pools []model.Pool
	if s.SumsToOne {
		pools = cpmm.InitialAnswerPools(n, s.Liquidity)
	} else {
		per := s.Liquidity / float64(n)
		pools = make([]model.Pool, n)
		for i := range pools {
			pools[i] = model.Pool{YES: per, NO: per}
		}
	}

	answers := make([]model.Answer, n)
	for i, text := range s.Answers {
		answers[i] = model.Answer{
			ID:          fmt.Sprintf("%s-%d", s.ID, i),
			ContractID:  s.ID,
			Text:        text,
			Index:       i,
			PoolYes:     pools[i].YES,
			PoolNo:      pools[i].NO,
			Prob:        cpmm.Probability(pools[i], cpmm.FixedP),
			CreatedTime: now,
		}
	}
	return c, answers, nil
}
