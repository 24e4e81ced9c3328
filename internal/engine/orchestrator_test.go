package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brackendale/ledgerpilot/internal/common"
	"github.com/brackendale/ledgerpilot/internal/model"
	"github.com/brackendale/ledgerpilot/internal/rules"
)

var testCategories = []model.Category{
	{ID: "c-groceries", Title: "Groceries"},
	{ID: "c-dining", Title: "Dining"},
	{ID: "c-travel", Title: "Travel"},
	{ID: "c-misc", Title: "Miscellaneous"},
}

func newTestSet(t *testing.T, ruleList ...model.Rule) *rules.Set {
	t.Helper()
	set, err := rules.NewSet(ruleList)
	require.NoError(t, err)
	return set
}

func txnAt(id, payee, amount string) model.Transaction {
	return model.Transaction{
		ID:     id,
		Payee:  payee,
		Amount: decimal.RequireFromString(amount),
		Date:   time.Date(2026, 3, 14, 0, 0, 0, 0, time.UTC),
	}
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func findDelta(deltas []model.UsageDelta, ruleID string) (model.UsageDelta, bool) {
	for _, d := range deltas {
		if d.RuleID == ruleID {
			return d, true
		}
	}
	return model.UsageDelta{}, false
}

func TestProcess_HighConfidenceRuleSkipsDelegate(t *testing.T) {
	set := newTestSet(t, model.Rule{
		ID: "groceries", Kind: model.RuleKindCategory,
		Match: []string{"coles"}, Category: "Groceries", Confidence: 92,
	})
	mock := &MockDelegate{}
	eng := New(set, testCategories, mock, quietLogger())

	out, err := eng.Process(context.Background(), []model.Transaction{
		txnAt("t1", "COLES 1234", "-42.50"),
	}, Options{Mode: model.ModeSmart})
	require.NoError(t, err)

	require.Len(t, out.Results, 1)
	res := out.Results[0]
	require.NotNil(t, res.Category)
	assert.Equal(t, "Groceries", *res.Category)
	require.NotNil(t, res.Confidence)
	assert.Equal(t, 92, *res.Confidence)
	assert.Equal(t, model.SourceRule, res.Source)
	assert.False(t, res.NeedsReview)

	assert.Zero(t, mock.Calls())
	assert.Equal(t, Stats{Total: 1, RuleMatches: 1}, out.Stats)

	d, ok := findDelta(out.Deltas, "groceries")
	require.True(t, ok)
	assert.Equal(t, int64(1), d.Matched)
	assert.Equal(t, int64(1), d.Applied)
	assert.Zero(t, d.Overridden)
}

func TestProcess_ConflictKeepsExistingCategory(t *testing.T) {
	set := newTestSet(t, model.Rule{
		ID: "dining", Kind: model.RuleKindCategory,
		Match: []string{"sushi"}, Category: "Dining", Confidence: 75,
	})
	mock := &MockDelegate{}
	eng := New(set, testCategories, mock, quietLogger())

	txn := txnAt("t1", "SUSHI TRAIN", "-28.00")
	txn.Category = &model.CategoryRef{ID: "c-travel", Title: "Travel"}

	out, err := eng.Process(context.Background(), []model.Transaction{txn}, Options{Mode: model.ModeSmart})
	require.NoError(t, err)

	res := out.Results[0]
	require.NotNil(t, res.Category)
	assert.Equal(t, "Travel", *res.Category)
	assert.Equal(t, model.SourceConflict, res.Source)
	assert.True(t, res.NeedsReview)
	assert.Equal(t, "Dining", res.SuggestedCategory)
	assert.Nil(t, res.Confidence)
	assert.Empty(t, res.Labels)

	assert.Zero(t, mock.Calls())
	assert.Equal(t, 1, out.Stats.Conflicts)

	// Conflicts count the match but never an application.
	d, ok := findDelta(out.Deltas, "dining")
	require.True(t, ok)
	assert.Equal(t, int64(1), d.Matched)
	assert.Zero(t, d.Applied)
}

func TestProcess_AgreementConfirmsExistingCategory(t *testing.T) {
	set := newTestSet(t, model.Rule{
		ID: "dining", Kind: model.RuleKindCategory,
		Match: []string{"sushi"}, Category: "Dining", Confidence: 95,
	})
	eng := New(set, testCategories, &MockDelegate{}, quietLogger())

	txn := txnAt("t1", "SUSHI TRAIN", "-28.00")
	txn.Category = &model.CategoryRef{ID: "c-dining", Title: "Dining"}

	out, err := eng.Process(context.Background(), []model.Transaction{txn}, Options{Mode: model.ModeSmart})
	require.NoError(t, err)

	res := out.Results[0]
	require.NotNil(t, res.Category)
	assert.Equal(t, "Dining", *res.Category)
	assert.Equal(t, model.SourceRule, res.Source)
	require.NotNil(t, res.Confidence)
	assert.Equal(t, 95, *res.Confidence)
	assert.False(t, res.NeedsReview)
	assert.Zero(t, out.Stats.Conflicts)
}

func TestProcess_SubBatchSizing(t *testing.T) {
	set := newTestSet(t) // no rules, everything escalates
	mock := &MockDelegate{
		Respond: func(string) (string, error) {
			return `{"results":[{"index":1,"category":"Miscellaneous","confidence":85}]}`, nil
		},
	}
	eng := New(set, testCategories, mock, quietLogger())

	txns := make([]model.Transaction, 250)
	for i := range txns {
		txns[i] = txnAt(fmt.Sprintf("t%03d", i), fmt.Sprintf("UNKNOWN MERCHANT %d", i), "-10.00")
	}

	out, err := eng.Process(context.Background(), txns, Options{Mode: model.ModeAggressive, FanOut: 3})
	require.NoError(t, err)

	// Aggressive sub-batches hold 100, so 250 items need exactly 3 calls.
	assert.Equal(t, 3, mock.Calls())

	// Each chunk's reply addressed only its first slot; merge order follows
	// slot positions, not reply arrival.
	for _, idx := range []int{0, 100, 200} {
		res := out.Results[idx]
		require.NotNil(t, res.Category, "slot %d", idx)
		assert.Equal(t, "Miscellaneous", *res.Category)
		assert.Equal(t, model.SourceLLM, res.Source)
		require.NotNil(t, res.Confidence)
		assert.Equal(t, 85, *res.Confidence)
	}

	assert.Equal(t, 3, out.Stats.LLMCategorized)
	assert.Equal(t, 247, out.Stats.Skipped)
	assert.Equal(t, 250, out.Stats.Total)
	assert.Zero(t, out.Stats.RuleMatches)
}

func TestProcess_OmittedSlotDefaultsToSkip(t *testing.T) {
	set := newTestSet(t)
	mock := &MockDelegate{
		Respond: func(string) (string, error) {
			return `{"results":[{"index":2,"category":"Dining","confidence":70}]}`, nil
		},
	}
	eng := New(set, testCategories, mock, quietLogger())

	out, err := eng.Process(context.Background(), []model.Transaction{
		txnAt("t1", "MYSTERY ONE", "-5.00"),
		txnAt("t2", "MYSTERY TWO", "-6.00"),
	}, Options{Mode: model.ModeConservative})
	require.NoError(t, err)

	first := out.Results[0]
	assert.Nil(t, first.Category)
	assert.Equal(t, model.SourceNone, first.Source)

	second := out.Results[1]
	require.NotNil(t, second.Category)
	assert.Equal(t, "Dining", *second.Category)
	assert.Equal(t, model.SourceLLM, second.Source)

	assert.Equal(t, 1, out.Stats.Skipped)
	assert.Equal(t, 1, out.Stats.LLMCategorized)
}

func TestProcess_LabelRuleKeepsExistingCategory(t *testing.T) {
	set := newTestSet(t, model.Rule{
		ID: "big-spend", Kind: model.RuleKindLabel,
		Labels:    []string{"review"},
		AmountMin: func() *decimal.Decimal { d := decimal.NewFromInt(1000); return &d }(),
	})
	mock := &MockDelegate{}
	eng := New(set, testCategories, mock, quietLogger())

	txn := txnAt("t1", "QANTAS AIRWAYS", "-1500.00")
	txn.Category = &model.CategoryRef{ID: "c-travel", Title: "Travel"}

	out, err := eng.Process(context.Background(), []model.Transaction{txn}, Options{Mode: model.ModeSmart})
	require.NoError(t, err)

	res := out.Results[0]
	require.NotNil(t, res.Category)
	assert.Equal(t, "Travel", *res.Category)
	assert.Equal(t, []string{"review"}, res.Labels)
	assert.Equal(t, model.SourceRule, res.Source)
	assert.Zero(t, mock.Calls())

	d, ok := findDelta(out.Deltas, "big-spend")
	require.True(t, ok)
	assert.Equal(t, int64(1), d.Matched)
	assert.Equal(t, int64(1), d.Applied)
}

func TestProcess_AskUserBandReturnsPending(t *testing.T) {
	set := newTestSet(t, model.Rule{
		ID: "dining", Kind: model.RuleKindCategory,
		Match: []string{"cafe"}, Category: "Dining", Confidence: 75,
	})
	mock := &MockDelegate{}
	eng := New(set, testCategories, mock, quietLogger())

	out, err := eng.Process(context.Background(), []model.Transaction{
		txnAt("t1", "CAFE CORNER", "-8.50"),
	}, Options{Mode: model.ModeSmart})
	require.NoError(t, err)

	require.Len(t, out.Pending, 1)
	p := out.Pending[0]
	assert.Equal(t, "t1", p.TransactionID)
	assert.Equal(t, "dining", p.RuleID)
	assert.Equal(t, "Dining", p.Category)
	assert.Equal(t, 75, p.Confidence)

	// The transaction itself stays uncategorized this run.
	assert.Nil(t, out.Results[0].Category)
	assert.Equal(t, 1, out.Stats.AskUser)
	assert.Zero(t, mock.Calls())

	d, ok := findDelta(out.Deltas, "dining")
	require.True(t, ok)
	assert.Equal(t, int64(1), d.Matched)
	assert.Zero(t, d.Applied)
}

func TestProcess_AutoValidateConfirm(t *testing.T) {
	set := newTestSet(t, model.Rule{
		ID: "dining", Kind: model.RuleKindCategory,
		Match: []string{"cafe"}, Category: "Dining", Confidence: 75,
	})
	mock := &MockDelegate{
		Respond: func(string) (string, error) {
			return `{"results":[{"index":1,"verdict":"CONFIRM","confidence":88}]}`, nil
		},
	}
	eng := New(set, testCategories, mock, quietLogger())

	out, err := eng.Process(context.Background(), []model.Transaction{
		txnAt("t1", "CAFE CORNER", "-8.50"),
	}, Options{Mode: model.ModeSmart, AutoValidate: true})
	require.NoError(t, err)

	res := out.Results[0]
	require.NotNil(t, res.Category)
	assert.Equal(t, "Dining", *res.Category)
	assert.Equal(t, model.SourceRuleLLM, res.Source)
	require.NotNil(t, res.Confidence)
	assert.Equal(t, 88, *res.Confidence)

	assert.Equal(t, 1, mock.Calls())
	assert.Empty(t, out.Pending)
	assert.Equal(t, 1, out.Stats.LLMValidated)
	assert.Zero(t, out.Stats.AskUser)

	d, ok := findDelta(out.Deltas, "dining")
	require.True(t, ok)
	assert.Equal(t, int64(1), d.Applied)
	assert.Zero(t, d.Overridden)
}

func TestProcess_AutoValidateReject(t *testing.T) {
	set := newTestSet(t, model.Rule{
		ID: "dining", Kind: model.RuleKindCategory,
		Match: []string{"cafe"}, Category: "Dining", Confidence: 75,
	})
	mock := &MockDelegate{
		Respond: func(string) (string, error) {
			return `{"results":[{"index":1,"verdict":"REJECT","confidence":60,"category":"Groceries"}]}`, nil
		},
	}
	eng := New(set, testCategories, mock, quietLogger())

	out, err := eng.Process(context.Background(), []model.Transaction{
		txnAt("t1", "CAFE GROCER", "-8.50"),
	}, Options{Mode: model.ModeSmart, AutoValidate: true})
	require.NoError(t, err)

	res := out.Results[0]
	require.NotNil(t, res.Category)
	assert.Equal(t, "Groceries", *res.Category)
	assert.Equal(t, model.SourceLLM, res.Source)
	require.NotNil(t, res.Confidence)
	assert.Equal(t, 60, *res.Confidence)

	d, ok := findDelta(out.Deltas, "dining")
	require.True(t, ok)
	assert.Equal(t, int64(1), d.Matched)
	assert.Equal(t, int64(1), d.Overridden)
	assert.Zero(t, d.Applied)
}

func TestProcess_DelegateFailureDegradesToSkip(t *testing.T) {
	set := newTestSet(t)
	mock := &MockDelegate{Err: errors.New("upstream unavailable")}
	eng := New(set, testCategories, mock, quietLogger())

	out, err := eng.Process(context.Background(), []model.Transaction{
		txnAt("t1", "MYSTERY", "-5.00"),
		txnAt("t2", "ENIGMA", "-6.00"),
	}, Options{Mode: model.ModeSmart})
	require.NoError(t, err)

	for _, res := range out.Results {
		assert.Nil(t, res.Category)
		assert.Equal(t, model.SourceNone, res.Source)
	}
	assert.Equal(t, 2, out.Stats.Skipped)
	assert.Zero(t, out.Stats.LLMCategorized)
	assert.Equal(t, 1, mock.Calls())
}

func TestProcess_NilDelegateSkipsEscalation(t *testing.T) {
	set := newTestSet(t)
	eng := New(set, testCategories, nil, quietLogger())

	out, err := eng.Process(context.Background(), []model.Transaction{
		txnAt("t1", "MYSTERY", "-5.00"),
	}, Options{Mode: model.ModeSmart})
	require.NoError(t, err)

	assert.Nil(t, out.Results[0].Category)
	assert.Equal(t, 1, out.Stats.Skipped)
}

func TestProcess_RejectsCategoryRefWithoutTitle(t *testing.T) {
	eng := New(newTestSet(t), testCategories, &MockDelegate{}, quietLogger())

	txn := txnAt("t1", "ANY", "-5.00")
	txn.Category = &model.CategoryRef{ID: "c-travel"}

	_, err := eng.Process(context.Background(), []model.Transaction{txn}, Options{Mode: model.ModeSmart})
	require.Error(t, err)
	assert.ErrorIs(t, err, common.ErrInvariant)
}
