package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/brackendale/ledgerpilot/internal/common"
	"github.com/brackendale/ledgerpilot/internal/llm"
	"github.com/brackendale/ledgerpilot/internal/model"
	"github.com/brackendale/ledgerpilot/internal/rules"
)

// Delegate is the external LLM consulted for transactions the rule set
// cannot resolve. *llm.Delegate satisfies it; tests substitute fakes.
type Delegate interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// Options configures one batch run.
type Options struct {
	Mode model.IntelligenceMode
	// FanOut bounds how many delegate sub-batches are in flight at once.
	FanOut int
	// AutoValidate sends ask-user band matches to the delegate for
	// confirmation instead of returning them as pending suggestions.
	AutoValidate bool
}

// Stats summarizes a batch run.
type Stats struct {
	Total          int `json:"total"`
	RuleMatches    int `json:"rule_matches"`
	LLMCategorized int `json:"llm_categorized"`
	LLMValidated   int `json:"llm_validated"`
	Conflicts      int `json:"conflicts"`
	AskUser        int `json:"ask_user"`
	Skipped        int `json:"skipped"`
}

// Output is the result of one batch run. Results keep the input transaction
// order regardless of delegate response timing.
type Output struct {
	Results []model.Result
	Pending []model.Pending
	Deltas  []model.UsageDelta
	Stats   Stats
}

// Engine evaluates transaction batches against a rule set and escalates
// what the rules cannot decide to the delegate. The rule set must not be
// reloaded while a run is in progress.
type Engine struct {
	set        *rules.Set
	delegate   Delegate
	logger     *slog.Logger
	categories []model.Category
}

// New creates an engine. A nil delegate is allowed; uncategorized
// transactions then fall through to the skip outcome instead of escalating.
func New(set *rules.Set, categories []model.Category, delegate Delegate, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		set:        set,
		delegate:   delegate,
		logger:     logger,
		categories: categories,
	}
}

// slot tracks one transaction through the phases of a run. Each phase-2/3
// goroutine writes only its own chunk's slots, so slots need no locking.
type slot struct {
	txn              model.Transaction
	result           model.Result
	labelRuleIDs     []string
	appliedRuleID    string
	overriddenRuleID string
	ruleMatched      bool
	askUser          bool
	skipped          bool
	viaCategorize    bool
	viaValidate      bool
}

// validationRef is one ask-user match queued for delegate validation.
type validationRef struct {
	slotIndex  int
	rule       model.Rule
	suggestion string
}

// Process runs the full pipeline: rule evaluation and coexistence
// resolution for every transaction, then delegate categorization for the
// uncategorized remainder, then delegate validation for ask-user matches
// when enabled.
func (e *Engine) Process(ctx context.Context, txns []model.Transaction, opts Options) (*Output, error) {
	if opts.FanOut <= 0 {
		opts.FanOut = 2
	}
	now := time.Now()

	slots := make([]slot, len(txns))
	matchedDeltas := make(map[string]*model.UsageDelta)
	var pending []model.Pending
	var categorize []int
	var validations []validationRef

	// Phase 1: pure evaluation, sequential.
	for i, txn := range txns {
		if txn.Categorized() && txn.Category.Title == "" {
			return nil, fmt.Errorf("%w: transaction %s has a category id without a title", common.ErrInvariant, txn.ID)
		}
		slots[i].txn = txn

		matching := e.set.FindMatching(txn)
		slots[i].ruleMatched = len(matching) > 0
		for _, r := range matching {
			d, ok := matchedDeltas[r.ID]
			if !ok {
				d = &model.UsageDelta{RuleID: r.ID}
				matchedDeltas[r.ID] = d
			}
			d.Matched++
			d.LastUsed = now
		}

		best, hasBest := e.set.FindBestCategory(txn)
		suggestion := ""
		if hasBest {
			suggestion = best.Category
		}

		switch resolveCoexistence(txn.Category, suggestion) {
		case outcomeApplyNew:
			switch Decide(opts.Mode, best.Confidence) {
			case ActionAutoApply:
				e.applyCategory(&slots[i], best.Category, best.Confidence, model.SourceRule, best.Labels)
				slots[i].appliedRuleID = best.ID
			case ActionAskUser:
				if opts.AutoValidate && e.delegate != nil {
					validations = append(validations, validationRef{
						slotIndex:  i,
						rule:       best,
						suggestion: best.Category,
					})
				} else {
					pending = append(pending, model.Pending{
						TransactionID: txn.ID,
						Payee:         txn.Payee,
						RuleID:        best.ID,
						Category:      best.Category,
						Confidence:    best.Confidence,
					})
					e.applyLabelsOnly(&slots[i], nil)
					slots[i].askUser = true
				}
			case ActionSkip:
				e.applyLabelsOnly(&slots[i], nil)
				slots[i].skipped = true
			}

		case outcomeNoSuggestion:
			if e.delegate != nil {
				categorize = append(categorize, i)
			} else {
				e.applyLabelsOnly(&slots[i], nil)
				slots[i].skipped = true
			}

		case outcomeLabelsOnly:
			e.applyLabelsOnly(&slots[i], txn.Category)

		case outcomeAgree:
			labels, ids := e.set.LabelsFor(txn, txn.Category.Title)
			labels = rules.MergeLabels(labels, best.Labels)
			conf := best.Confidence
			slots[i].labelRuleIDs = ids
			slots[i].result = model.Result{
				TransactionID: txn.ID,
				Category:      &txn.Category.Title,
				Labels:        labels,
				Confidence:    &conf,
				Source:        model.SourceRule,
			}

		case outcomeConflict:
			slots[i].result = model.Result{
				TransactionID:     txn.ID,
				Category:          &txn.Category.Title,
				Source:            model.SourceConflict,
				NeedsReview:       true,
				SuggestedCategory: best.Category,
			}
			e.logger.Info("category conflict",
				"transaction_id", txn.ID,
				"existing", txn.Category.Title,
				"suggested", best.Category,
				"rule_id", best.ID)
		}
	}

	batchSize := delegateBatchSize(opts.Mode)

	// Phase 2: delegate categorization for unmatched, uncategorized items.
	if err := e.runCategorization(ctx, slots, categorize, batchSize, opts.FanOut); err != nil {
		return nil, err
	}

	// Phase 3: delegate validation of ask-user band matches.
	if err := e.runValidation(ctx, slots, validations, batchSize, opts.FanOut); err != nil {
		return nil, err
	}

	return e.assemble(slots, pending, matchedDeltas, now), nil
}

// applyCategory resolves a slot with a freshly assigned category, running
// label matching against it.
func (e *Engine) applyCategory(s *slot, category string, confidence int, source model.Source, ruleLabels []string) {
	labels, ids := e.set.LabelsFor(s.txn, category)
	labels = rules.MergeLabels(labels, ruleLabels)
	conf := confidence
	s.labelRuleIDs = ids
	s.result = model.Result{
		TransactionID: s.txn.ID,
		Category:      &category,
		Labels:        labels,
		Confidence:    &conf,
		Source:        source,
	}
}

// applyLabelsOnly resolves a slot without changing its category. Label
// rules still run against the existing category (or none).
func (e *Engine) applyLabelsOnly(s *slot, existing *model.CategoryRef) {
	category := ""
	var categoryOut *string
	if existing != nil {
		category = existing.Title
		categoryOut = &existing.Title
	}

	labels, ids := e.set.LabelsFor(s.txn, category)
	source := model.SourceNone
	if len(ids) > 0 {
		source = model.SourceRule
	}
	s.labelRuleIDs = ids
	s.result = model.Result{
		TransactionID: s.txn.ID,
		Category:      categoryOut,
		Labels:        labels,
		Source:        source,
	}
}

// runCategorization chunks the uncategorized slots and dispatches each chunk
// as one delegate call. Chunks are independent; results land in fixed slot
// positions so output never depends on reply latency. A failed chunk
// degrades its transactions to the skip outcome.
func (e *Engine) runCategorization(ctx context.Context, slots []slot, indices []int, batchSize, fanOut int) error {
	if len(indices) == 0 {
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(fanOut)

	for start := 0; start < len(indices); start += batchSize {
		end := min(start+batchSize, len(indices))
		chunk := indices[start:end]

		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}

			chunkTxns := make([]model.Transaction, len(chunk))
			for j, idx := range chunk {
				chunkTxns[j] = slots[idx].txn
			}
			env := llm.NewCategorizationEnvelope(chunkTxns, e.categories)

			raw, err := e.delegate.Complete(gctx, env.Prompt)
			if err != nil {
				e.logger.Warn("delegate categorization sub-batch failed",
					"transactions", len(chunk),
					"error", err)
				raw = ""
			}
			replies := env.ParseCategorization(raw)

			for _, idx := range chunk {
				s := &slots[idx]
				reply := replies[s.txn.ID]
				s.viaCategorize = true

				if reply.Category == "" {
					e.applyLabelsOnly(s, nil)
					s.skipped = true
					continue
				}
				e.applyCategory(s, reply.Category, reply.Confidence, model.SourceLLM, nil)
			}
			return nil
		})
	}

	return g.Wait()
}

// runValidation chunks pending validations and asks the delegate to confirm
// or reject each rule suggestion. CONFIRM applies the suggestion with the
// adjusted confidence; REJECT replaces the category and counts as an
// override of the rule. A failed chunk falls back to confirming every item
// at its original confidence, the same default used for omitted slots.
func (e *Engine) runValidation(ctx context.Context, slots []slot, refs []validationRef, batchSize, fanOut int) error {
	if len(refs) == 0 {
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(fanOut)

	for start := 0; start < len(refs); start += batchSize {
		end := min(start+batchSize, len(refs))
		chunk := refs[start:end]

		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}

			items := make([]llm.ValidationItem, len(chunk))
			for j, ref := range chunk {
				items[j] = llm.ValidationItem{
					Transaction: slots[ref.slotIndex].txn,
					RuleID:      ref.rule.ID,
					Suggested:   ref.suggestion,
					Confidence:  ref.rule.Confidence,
				}
			}
			env := llm.NewValidationEnvelope(items)

			raw, err := e.delegate.Complete(gctx, env.Prompt)
			if err != nil {
				e.logger.Warn("delegate validation sub-batch failed",
					"items", len(chunk),
					"error", err)
				raw = ""
			}
			replies := env.ParseValidation(raw)

			for j, ref := range chunk {
				s := &slots[ref.slotIndex]
				reply := replies[j]
				s.viaValidate = true

				switch {
				case reply.Confirmed:
					e.applyCategory(s, ref.suggestion, reply.Confidence, model.SourceRuleLLM, ref.rule.Labels)
					s.appliedRuleID = ref.rule.ID
				case reply.Replacement != "":
					e.applyCategory(s, reply.Replacement, reply.Confidence, model.SourceLLM, nil)
					s.overriddenRuleID = ref.rule.ID
				default:
					// Rejected with no replacement offered.
					e.applyLabelsOnly(s, nil)
					s.skipped = true
					s.overriddenRuleID = ref.rule.ID
				}
			}
			return nil
		})
	}

	return g.Wait()
}

// assemble folds slots into ordered results, statistics, and usage deltas.
func (e *Engine) assemble(slots []slot, pending []model.Pending, deltas map[string]*model.UsageDelta, now time.Time) *Output {
	out := &Output{
		Results: make([]model.Result, len(slots)),
		Pending: pending,
		Stats:   Stats{Total: len(slots), AskUser: len(pending)},
	}

	addDelta := func(ruleID string) *model.UsageDelta {
		d, ok := deltas[ruleID]
		if !ok {
			d = &model.UsageDelta{RuleID: ruleID}
			deltas[ruleID] = d
		}
		d.LastUsed = now
		return d
	}

	for i := range slots {
		s := &slots[i]
		out.Results[i] = s.result

		if s.ruleMatched {
			out.Stats.RuleMatches++
		}
		if s.result.Source == model.SourceConflict {
			out.Stats.Conflicts++
		}
		if s.skipped {
			out.Stats.Skipped++
		}
		if s.viaCategorize && s.result.Source == model.SourceLLM {
			out.Stats.LLMCategorized++
		}
		if s.viaValidate {
			out.Stats.LLMValidated++
		}

		if s.appliedRuleID != "" {
			addDelta(s.appliedRuleID).Applied++
		}
		if s.overriddenRuleID != "" {
			addDelta(s.overriddenRuleID).Overridden++
		}
		for _, id := range s.labelRuleIDs {
			addDelta(id).Applied++
		}
	}

	out.Deltas = make([]model.UsageDelta, 0, len(deltas))
	for _, d := range deltas {
		out.Deltas = append(out.Deltas, *d)
	}
	sort.Slice(out.Deltas, func(i, j int) bool { return out.Deltas[i].RuleID < out.Deltas[j].RuleID })

	return out
}
