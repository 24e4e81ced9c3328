package llm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func threeSlotEnvelope() Envelope {
	return Envelope{TransactionIDs: []string{"t1", "t2", "t3"}}
}

func TestParseCategorization_ResultsArray(t *testing.T) {
	env := threeSlotEnvelope()

	replies := env.ParseCategorization(`{"results":[
		{"index":1,"category":"Groceries","confidence":95},
		{"index":2,"category":"Dining","confidence":70},
		{"index":3,"category":"","confidence":0}
	]}`)

	require.Len(t, replies, 3)
	assert.Equal(t, CategorizationReply{Category: "Groceries", Confidence: 95}, replies["t1"])
	assert.Equal(t, CategorizationReply{Category: "Dining", Confidence: 70}, replies["t2"])
	assert.Equal(t, CategorizationReply{}, replies["t3"])
}

func TestParseCategorization_BareArrayUsesPosition(t *testing.T) {
	env := threeSlotEnvelope()

	replies := env.ParseCategorization(`[
		{"category":"Groceries","confidence":90},
		{"category":"Fuel","confidence":80}
	]`)

	assert.Equal(t, "Groceries", replies["t1"].Category)
	assert.Equal(t, "Fuel", replies["t2"].Category)
	assert.Equal(t, CategorizationReply{}, replies["t3"])
}

func TestParseCategorization_IndexKeyedObject(t *testing.T) {
	env := threeSlotEnvelope()

	replies := env.ParseCategorization(`{
		"1": {"category":"Groceries","confidence":90},
		"3": {"category":"Travel","confidence":60}
	}`)

	assert.Equal(t, "Groceries", replies["t1"].Category)
	assert.Equal(t, CategorizationReply{}, replies["t2"])
	assert.Equal(t, "Travel", replies["t3"].Category)
}

func TestParseCategorization_NumberedBlocks(t *testing.T) {
	env := threeSlotEnvelope()

	replies := env.ParseCategorization(`1. CATEGORY: Groceries
   CONFIDENCE: 95
2. Dining
   confidence: 70%
3. CATEGORY: Travel
   CONFIDENCE: 0.85`)

	assert.Equal(t, CategorizationReply{Category: "Groceries", Confidence: 95}, replies["t1"])
	// Inline text on the header line stands in for a missing CATEGORY key,
	// and percent suffixes are accepted.
	assert.Equal(t, CategorizationReply{Category: "Dining", Confidence: 70}, replies["t2"])
	// Fractional confidences scale to the 0-100 range.
	assert.Equal(t, CategorizationReply{Category: "Travel", Confidence: 85}, replies["t3"])
}

func TestParseCategorization_MarkdownFence(t *testing.T) {
	env := Envelope{TransactionIDs: []string{"t1"}}

	replies := env.ParseCategorization("```json\n{\"results\":[{\"index\":1,\"category\":\"Dining\",\"confidence\":75}]}\n```")

	assert.Equal(t, CategorizationReply{Category: "Dining", Confidence: 75}, replies["t1"])
}

func TestParseCategorization_GarbageAndOutOfRange(t *testing.T) {
	env := threeSlotEnvelope()

	t.Run("unparseable reply yields all defaults", func(t *testing.T) {
		replies := env.ParseCategorization("I could not categorize these, sorry.")
		for _, id := range env.TransactionIDs {
			assert.Equal(t, CategorizationReply{}, replies[id])
		}
	})

	t.Run("out-of-range indices are ignored", func(t *testing.T) {
		replies := env.ParseCategorization(`{"results":[
			{"index":0,"category":"Nope","confidence":50},
			{"index":4,"category":"Nope","confidence":50},
			{"index":2,"category":"Dining","confidence":150}
		]}`)
		assert.Equal(t, CategorizationReply{}, replies["t1"])
		assert.Equal(t, CategorizationReply{}, replies["t3"])
		// Confidence above 100 clamps.
		assert.Equal(t, CategorizationReply{Category: "Dining", Confidence: 100}, replies["t2"])
	})
}

func TestParseValidation(t *testing.T) {
	env := ValidationEnvelope{Items: []ValidationItem{
		{RuleID: "r1", Suggested: "Dining", Confidence: 75},
		{RuleID: "r2", Suggested: "Fuel", Confidence: 72},
		{RuleID: "r3", Suggested: "Travel", Confidence: 71},
	}}

	replies := env.ParseValidation(`{"results":[
		{"index":1,"verdict":"CONFIRM","confidence":88},
		{"index":2,"verdict":"REJECT","confidence":60,"category":"Groceries"}
	]}`)

	require.Len(t, replies, 3)
	assert.Equal(t, ValidationReply{Confirmed: true, Confidence: 88}, replies[0])
	assert.Equal(t, ValidationReply{Confirmed: false, Confidence: 60, Replacement: "Groceries"}, replies[1])
	// Omitted slot defaults to CONFIRM at the original rule confidence.
	assert.Equal(t, ValidationReply{Confirmed: true, Confidence: 71}, replies[2])
}

func TestParseValidation_NumberedBlocks(t *testing.T) {
	env := ValidationEnvelope{Items: []ValidationItem{
		{RuleID: "r1", Suggested: "Dining", Confidence: 75},
		{RuleID: "r2", Suggested: "Fuel", Confidence: 72},
	}}

	replies := env.ParseValidation(`1. VERDICT: CONFIRM
2. VERDICT: REJECT
   CONFIDENCE: 55
   CATEGORY: Groceries`)

	// A verdict with no confidence keeps the original confidence.
	assert.Equal(t, ValidationReply{Confirmed: true, Confidence: 75}, replies[0])
	assert.Equal(t, ValidationReply{Confirmed: false, Confidence: 55, Replacement: "Groceries"}, replies[1])
}

func TestParseValidation_EmptyReplyConfirmsEverything(t *testing.T) {
	env := ValidationEnvelope{Items: []ValidationItem{
		{RuleID: "r1", Suggested: "Dining", Confidence: 75},
	}}

	replies := env.ParseValidation("")
	assert.Equal(t, ValidationReply{Confirmed: true, Confidence: 75}, replies[0])
}

func TestParseConfidence(t *testing.T) {
	tests := []struct {
		in   string
		want int
	}{
		{"85", 85},
		{" 85 ", 85},
		{"85%", 85},
		{"0.85", 85},
		{"1", 1},
		{"0", 0},
		{"150", 100},
		{"-5", 0},
		{"high", 0},
		{"", 0},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, parseConfidence(tt.in), "input %q", tt.in)
	}
}

func TestClampConfidence(t *testing.T) {
	assert.Equal(t, 0, ClampConfidence(-10))
	assert.Equal(t, 42, ClampConfidence(42))
	assert.Equal(t, 100, ClampConfidence(250))
}
