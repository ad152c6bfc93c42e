package rules

// #region load-result
// Rejection records a rule text that failed to parse.
type Rejection struct {
	Index int // position in the input slice
	Text  string
	Err   error
}

// LoadResult holds the rules that parsed, in declaration order, and the
// texts that were skipped.
type LoadResult struct {
	Rules    []Rule
	Rejected []Rejection
}

// #endregion load-result

// #region load
// Load parses every text in order. Invalid texts are recorded and skipped;
// Load itself never fails. The order of Rules is the evaluation precedence.
func Load(texts []string) LoadResult {
	res := LoadResult{Rules: make([]Rule, 0, len(texts))}
	for i, text := range texts {
		r, err := Parse(text)
		if err != nil {
			res.Rejected = append(res.Rejected, Rejection{Index: i, Text: text, Err: err})
			continue
		}
		res.Rules = append(res.Rules, r)
	}
	return res
}

// Variables returns the distinct variables named by rs in first-seen order.
func Variables(rs []Rule) []string {
	seen := make(map[string]bool, len(rs))
	var out []string
	for _, r := range rs {
		if !seen[r.Variable] {
			seen[r.Variable] = true
			out = append(out, r.Variable)
		}
	}
	return out
}

// #endregion load
