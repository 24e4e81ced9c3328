package llm

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"
)

// CategorizationReply is the parsed delegate answer for one transaction.
// The zero value (empty category, confidence 0) is the documented fallback
// for slots the delegate omits.
type CategorizationReply struct {
	Category   string
	Confidence int
}

// ValidationReply is the parsed delegate verdict for one validation item.
type ValidationReply struct {
	Replacement string
	Confidence  int
	Confirmed   bool
}

var blockHeader = regexp.MustCompile(`^(\d+)[.):]\s*(.*)$`)

// ParseCategorization maps a raw delegate reply onto the envelope's
// transaction ids. The mapping is total: every submitted id receives a
// reply, defaulting to (category empty, confidence 0) when the delegate
// skipped its slot. Confidences are clamped to [0,100].
func (e Envelope) ParseCategorization(raw string) map[string]CategorizationReply {
	replies := make(map[string]CategorizationReply, len(e.TransactionIDs))
	for _, id := range e.TransactionIDs {
		replies[id] = CategorizationReply{}
	}

	assign := func(index int, category string, confidence int) {
		if index < 1 || index > len(e.TransactionIDs) {
			return
		}
		replies[e.TransactionIDs[index-1]] = CategorizationReply{
			Category:   strings.TrimSpace(category),
			Confidence: ClampConfidence(confidence),
		}
	}

	if parseStructured(raw, func(index int, fields gjson.Result) {
		assign(index,
			fields.Get("category").String(),
			parseConfidence(fields.Get("confidence").String()))
	}) {
		return replies
	}

	for _, block := range splitNumberedBlocks(raw) {
		category := block.fields["CATEGORY"]
		if category == "" {
			category = block.inline
		}
		assign(block.index, category, parseConfidence(block.fields["CONFIDENCE"]))
	}

	return replies
}

// ParseValidation maps a raw delegate reply onto the envelope's items, in
// submission order. Omitted slots default to CONFIRM with the original
// confidence; a REJECT without a replacement category is kept as a REJECT
// with no replacement so the caller can fall back safely.
func (e ValidationEnvelope) ParseValidation(raw string) []ValidationReply {
	replies := make([]ValidationReply, len(e.Items))
	for i, item := range e.Items {
		replies[i] = ValidationReply{
			Confirmed:  true,
			Confidence: item.Confidence,
		}
	}

	assign := func(index int, verdict, category string, confidence, defaultConf int) {
		if index < 1 || index > len(replies) {
			return
		}
		confirmed := !strings.EqualFold(strings.TrimSpace(verdict), "REJECT")
		conf := ClampConfidence(confidence)
		if verdict == "" {
			return
		}
		if confidence < 0 {
			conf = defaultConf
		}
		replies[index-1] = ValidationReply{
			Confirmed:   confirmed,
			Confidence:  conf,
			Replacement: strings.TrimSpace(category),
		}
	}

	if parseStructured(raw, func(index int, fields gjson.Result) {
		confidence := -1
		if c := fields.Get("confidence"); c.Exists() {
			confidence = parseConfidence(c.String())
		}
		defaultConf := 0
		if index >= 1 && index <= len(e.Items) {
			defaultConf = e.Items[index-1].Confidence
		}
		assign(index, fields.Get("verdict").String(), fields.Get("category").String(), confidence, defaultConf)
	}) {
		return replies
	}

	for _, block := range splitNumberedBlocks(raw) {
		verdict := block.fields["VERDICT"]
		if verdict == "" {
			verdict = block.inline
		}
		confidence := -1
		if c, ok := block.fields["CONFIDENCE"]; ok {
			confidence = parseConfidence(c)
		}
		defaultConf := 0
		if block.index >= 1 && block.index <= len(e.Items) {
			defaultConf = e.Items[block.index-1].Confidence
		}
		assign(block.index, verdict, block.fields["CATEGORY"], confidence, defaultConf)
	}

	return replies
}

// parseStructured extracts indexed result entries from a JSON reply. It
// accepts a "results" array, a bare array, and an object keyed by sequential
// index. Returns false when the reply is not usable JSON.
func parseStructured(raw string, visit func(index int, fields gjson.Result)) bool {
	content := cleanMarkdownWrapper(raw)
	if !gjson.Valid(content) {
		return false
	}

	doc := gjson.Parse(content)
	results := doc.Get("results")
	if !results.Exists() {
		results = doc
	}

	found := false
	if results.IsArray() {
		position := 0
		results.ForEach(func(_, entry gjson.Result) bool {
			position++
			index := position
			if idx := entry.Get("index"); idx.Exists() {
				index = int(idx.Int())
			}
			visit(index, entry)
			found = true
			return true
		})
		return found
	}

	if results.IsObject() {
		results.ForEach(func(key, entry gjson.Result) bool {
			index, err := strconv.Atoi(strings.TrimSpace(key.String()))
			if err != nil {
				return true
			}
			visit(index, entry)
			found = true
			return true
		})
		return found
	}

	return false
}

// numberedBlock is one "N. ..." section of an unstructured reply.
type numberedBlock struct {
	fields map[string]string
	inline string
	index  int
}

// splitNumberedBlocks parses the numbered-block text format. Keys inside a
// block ("CATEGORY: x") are collected case-insensitively; text on the header
// line itself is kept as the inline value.
func splitNumberedBlocks(raw string) []numberedBlock {
	var blocks []numberedBlock
	var current *numberedBlock

	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		if m := blockHeader.FindStringSubmatch(line); m != nil {
			index, err := strconv.Atoi(m[1])
			if err == nil {
				blocks = append(blocks, numberedBlock{
					index:  index,
					fields: make(map[string]string),
				})
				current = &blocks[len(blocks)-1]
				line = strings.TrimSpace(m[2])
				if line == "" {
					continue
				}
			}
		}
		if current == nil {
			continue
		}

		if key, value, ok := strings.Cut(line, ":"); ok {
			current.fields[strings.ToUpper(strings.TrimSpace(key))] = strings.TrimSpace(value)
		} else if current.inline == "" {
			current.inline = line
		}
	}

	return blocks
}

// parseConfidence converts a delegate confidence string to an integer in
// [0,100]. Accepts percent suffixes and 0-1 fractions.
func parseConfidence(s string) int {
	s = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(s), "%"))
	if s == "" {
		return 0
	}

	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	if v > 0 && v <= 1 && strings.Contains(s, ".") {
		v *= 100
	}
	return ClampConfidence(int(v + 0.5))
}

// cleanMarkdownWrapper strips a ```json fence if the delegate wrapped its
// reply in one.
func cleanMarkdownWrapper(content string) string {
	content = strings.TrimSpace(content)
	if !strings.HasPrefix(content, "```") {
		return content
	}

	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(strings.TrimSpace(content), "```")
	return strings.TrimSpace(content)
}
