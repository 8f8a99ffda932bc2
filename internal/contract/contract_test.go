package contract

import (
	"errors"
	"testing"
	"time"

	"github.com/atmx/bet-engine/internal/cpmm"
	"github.com/atmx/bet-engine/internal/model"
)

var now = time.Date(2026, 5, 10, 15, 0, 0, 0, time.UTC)

func binary(t model.OutcomeType) *model.Contract {
	return &model.Contract{
		ID: "c1", OutcomeType: t, Mechanism: model.MechanismCPMM1,
		Pool: model.Pool{YES: 100, NO: 100}, P: 0.5,
	}
}

// --- Resolve tests ---

func TestResolve_Variants(t *testing.T) {
	for _, typ := range []model.OutcomeType{model.OutcomeTypeBinary, model.OutcomeTypePseudoNumeric, model.OutcomeTypeStonk} {
		m, err := Resolve(binary(typ), nil)
		if err != nil {
			t.Fatalf("%s: unexpected error: %v", typ, err)
		}
		if _, ok := m.(*model.BinaryMarket); !ok {
			t.Errorf("%s: expected *BinaryMarket, got %T", typ, m)
		}
	}

	multi := &model.Contract{
		ID: "c2", OutcomeType: model.OutcomeTypeMultipleChoice,
		Mechanism: model.MechanismCPMMMulti1, ShouldAnswersSumToOne: true,
	}
	m, err := Resolve(multi, []model.Answer{{ID: "a"}, {ID: "b"}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	mm, ok := m.(*model.MultiMarket)
	if !ok || !mm.SumsToOne || len(mm.Answers) != 2 {
		t.Errorf("expected sum-to-one multi market with 2 answers, got %+v", m)
	}
}

func TestResolve_Unsupported(t *testing.T) {
	c := &model.Contract{OutcomeType: model.OutcomeTypeMultipleChoice, Mechanism: model.MechanismCPMM1}
	if _, err := Resolve(c, nil); !errors.Is(err, ErrUnsupported) {
		t.Errorf("expected ErrUnsupported, got %v", err)
	}
}

// --- Tradability tests ---

func TestCheckTradable(t *testing.T) {
	closed := now.Add(-time.Minute)
	open := now.Add(time.Hour)

	closedContract := binary(model.OutcomeTypeBinary)
	closedContract.CloseTime = &closed
	openContract := binary(model.OutcomeTypeBinary)
	openContract.CloseTime = &open
	resolved := binary(model.OutcomeTypeBinary)
	resolved.Resolution = "YES"

	multiContract := &model.Contract{ID: "m", OutcomeType: model.OutcomeTypeMultipleChoice, Mechanism: model.MechanismCPMMMulti1}
	answers := []model.Answer{{ID: "a"}, {ID: "b", Resolution: "NO"}}

	tests := []struct {
		name     string
		market   model.Market
		answerID string
		isAPI    bool
		want     error
	}{
		{"open", &model.BinaryMarket{Contract: openContract}, "", false, nil},
		{"closed", &model.BinaryMarket{Contract: closedContract}, "", false, ErrTradingClosed},
		{"resolved", &model.BinaryMarket{Contract: resolved}, "", false, ErrResolved},
		{"stonk via api", &model.BinaryMarket{Contract: binary(model.OutcomeTypeStonk)}, "", true, ErrAPIStonk},
		{"stonk via web", &model.BinaryMarket{Contract: binary(model.OutcomeTypeStonk)}, "", false, nil},
		{"missing answer id", &model.MultiMarket{Contract: multiContract, Answers: answers}, "", false, ErrAnswerRequired},
		{"unknown answer", &model.MultiMarket{Contract: multiContract, Answers: answers}, "z", false, ErrAnswerNotFound},
		{"resolved answer", &model.MultiMarket{Contract: multiContract, Answers: answers}, "b", false, ErrAnswerResolved},
		{"one answer sums to one", &model.MultiMarket{Contract: multiContract, Answers: answers[:1], SumsToOne: true}, "a", false, ErrTooFewAnswers},
		{"tradable answer", &model.MultiMarket{Contract: multiContract, Answers: answers}, "a", false, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := CheckTradable(tt.market, tt.answerID, tt.isAPI, now)
			if tt.want == nil && err != nil {
				t.Errorf("expected no error, got %v", err)
			}
			if tt.want != nil && !errors.Is(err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestCheckExpiry(t *testing.T) {
	past := now.Add(-time.Second)
	future := now.Add(time.Second)
	if err := CheckExpiry(&past, now); !errors.Is(err, ErrExpiresInPast) {
		t.Errorf("expected ErrExpiresInPast, got %v", err)
	}
	if err := CheckExpiry(&future, now); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if err := CheckExpiry(nil, now); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

// --- Limit prob tests ---

func TestQuantizeLimitProb(t *testing.T) {
	tests := []struct {
		in   float64
		want float64
		err  error
	}{
		{0.55, 0.55, nil},
		{0.07, 0.07, nil},
		{0.29000000000001, 0.29, nil},
		{0.555, 0, ErrLimitProbStep},
		{0, 0, ErrLimitProbRange},
		{1, 0, ErrLimitProbRange},
		{1.5, 0, ErrLimitProbRange},
	}
	for _, tt := range tests {
		got, err := QuantizeLimitProb(tt.in)
		if tt.err != nil {
			if !errors.Is(err, tt.err) {
				t.Errorf("QuantizeLimitProb(%v): expected %v, got %v", tt.in, tt.err, err)
			}
			continue
		}
		if err != nil {
			t.Errorf("QuantizeLimitProb(%v): unexpected error: %v", tt.in, err)
		}
		if got != tt.want {
			t.Errorf("QuantizeLimitProb(%v): expected %v, got %v", tt.in, tt.want, got)
		}
	}
}

// --- Seeding tests ---

func TestValidateSlug(t *testing.T) {
	for _, ok := range []string{"rain", "will-it-rain-2026"} {
		if err := ValidateSlug(ok); err != nil {
			t.Errorf("expected %q valid, got %v", ok, err)
		}
	}
	for _, bad := range []string{"", "Rain", "double--dash", "-lead", "trail-", "under_score"} {
		if err := ValidateSlug(bad); err == nil {
			t.Errorf("expected error for slug %q", bad)
		}
	}
}

func TestNew_Binary(t *testing.T) {
	c, answers, err := New(Seed{ID: "b", Slug: "b", OutcomeType: model.OutcomeTypeBinary, Liquidity: 100, InitialProb: 0.333}, now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if answers != nil {
		t.Errorf("binary contract should have no answers")
	}
	if c.P != 0.33 || c.Pool.YES != 100 || c.Pool.NO != 100 {
		t.Errorf("expected even pool at p=0.33, got pool=%+v p=%v", c.Pool, c.P)
	}
	if c.Mechanism != model.MechanismCPMM1 {
		t.Errorf("expected cpmm-1, got %s", c.Mechanism)
	}
}

func TestNew_MultiSumsToOne(t *testing.T) {
	c, answers, err := New(Seed{
		ID: "m", OutcomeType: model.OutcomeTypeMultipleChoice, Liquidity: 300,
		Answers: []string{"red", "green", "blue"}, SumsToOne: true,
	}, now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !c.ShouldAnswersSumToOne || c.Mechanism != model.MechanismCPMMMulti1 {
		t.Errorf("unexpected contract: %+v", c)
	}
	var sum float64
	for _, a := range answers {
		sum += cpmm.Probability(a.Pool(), cpmm.FixedP)
	}
	if sum < 1-1e-12 || sum > 1+1e-12 {
		t.Errorf("expected answers to sum to 1, got %v", sum)
	}
}

func TestNew_Rejects(t *testing.T) {
	seeds := []Seed{
		{OutcomeType: model.OutcomeTypeBinary, Liquidity: 0, InitialProb: 0.5},
		{OutcomeType: model.OutcomeTypeBinary, Liquidity: 10, InitialProb: 0.001},
		{OutcomeType: model.OutcomeTypeMultipleChoice, Liquidity: 10, Answers: []string{"only"}, SumsToOne: true},
		{OutcomeType: model.OutcomeTypeBinary, Liquidity: 10, InitialProb: 0.5, Slug: "Bad Slug"},
	}
	for i, s := range seeds {
		if _, _, err := New(s, now); err == nil {
			t.Errorf("seed %d: expected error", i)
		}
	}
}
