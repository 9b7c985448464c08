package agents

import (
	"regexp"
	"strconv"
	"unicode/utf8"

	"github.com/tidwall/gjson"
)

var (
	jsonBlockRe   = regexp.MustCompile(`(?s)\{[^{}]+\}`)
	probFieldRe   = regexp.MustCompile(`(?i)probability["']?\s*[:=]\s*([0-9.]+)`)
	confFieldRe   = regexp.MustCompile(`(?i)confidence["']?\s*[:=]\s*([0-9.]+)`)
	reasonFieldRe = regexp.MustCompile(`(?is)reasoning["']?\s*[:=]\s*["'](.+?)["']`)
	modelFieldRe  = regexp.MustCompile(`(?i)model_type["']?\s*[:=]\s*["'](.+?)["']`)
)

type parsedEstimate struct {
	Probability *float64
	Confidence  *float64
	Reasoning   string
	ModelKind   string
}

// parseEstimate reads a desk reply, preferring an embedded JSON object and
// falling back to labeled fields in free text.
func parseEstimate(raw string) parsedEstimate {
	var out parsedEstimate

	if block := jsonBlockRe.FindString(raw); block != "" && gjson.Valid(block) {
		doc := gjson.Parse(block)
		if v := doc.Get("probability"); v.Exists() {
			p := v.Float()
			out.Probability = &p
		}
		if v := doc.Get("confidence"); v.Exists() {
			c := v.Float()
			out.Confidence = &c
		}
		out.Reasoning = doc.Get("reasoning").String()
		out.ModelKind = doc.Get("model_type").String()
		if out.Probability != nil || out.Confidence != nil || out.Reasoning != "" {
			return out
		}
	}

	if m := probFieldRe.FindStringSubmatch(raw); m != nil {
		if p, err := strconv.ParseFloat(m[1], 64); err == nil {
			out.Probability = &p
		}
	}
	if m := confFieldRe.FindStringSubmatch(raw); m != nil {
		if c, err := strconv.ParseFloat(m[1], 64); err == nil {
			out.Confidence = &c
		}
	}
	if m := reasonFieldRe.FindStringSubmatch(raw); m != nil {
		out.Reasoning = m[1]
	}
	if m := modelFieldRe.FindStringSubmatch(raw); m != nil {
		out.ModelKind = m[1]
	}
	return out
}

var updatedProbRes = []*regexp.Regexp{
	regexp.MustCompile(`(?i)updated\s+(?:probability|estimate)[:\s]+([0-9]+\.?[0-9]*)`),
	regexp.MustCompile(`(?i)(?:my|revised|new|final)\s+(?:probability|estimate)[:\s]+([0-9]+\.?[0-9]*)`),
	regexp.MustCompile(`(?i)probability[:\s]+([0-9]+\.?[0-9]*)`),
	regexp.MustCompile(`(?i)([0-9]\.[0-9]{1,3})\s*(?:probability|chance|likelihood)`),
}

// extractUpdatedProbability pulls an updated estimate out of a debate reply.
// Values over 1 are read as percentages.
func extractUpdatedProbability(text string) (float64, bool) {
	for _, re := range updatedProbRes {
		m := re.FindStringSubmatch(text)
		if m == nil {
			continue
		}
		val, err := strconv.ParseFloat(m[1], 64)
		if err != nil {
			continue
		}
		if val > 0 && val < 1 {
			return val, true
		}
		if val > 1 && val <= 100 {
			return val / 100, true
		}
	}
	return 0, false
}

func clampProbability(p float64) float64 {
	if p < 0.01 {
		return 0.01
	}
	if p > 0.99 {
		return 0.99
	}
	return p
}

// truncate cuts s to at most max bytes, backing off to a rune boundary so
// multi-byte text never ends in a broken sequence.
func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
