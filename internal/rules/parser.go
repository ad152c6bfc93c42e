package rules

import (
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"
)

// #region tokens
// token is one lexical unit of a rule sentence. start/end are byte offsets
// into the original text so free-text clauses can be sliced out verbatim.
type token struct {
	text  string
	start int
	end   int
}

func (t token) punct() bool {
	return t.text == "," || t.text == "."
}

// lex splits text on whitespace and peels trailing commas and periods off
// each word into their own tokens.
func lex(text string) []token {
	var toks []token
	i := 0
	for i < len(text) {
		r, size := utf8.DecodeRuneInString(text[i:])
		if unicode.IsSpace(r) {
			i += size
			continue
		}
		start := i
		for i < len(text) {
			r, size = utf8.DecodeRuneInString(text[i:])
			if unicode.IsSpace(r) {
				break
			}
			i += size
		}
		end := i
		wordEnd := end
		for wordEnd > start && (text[wordEnd-1] == ',' || text[wordEnd-1] == '.') {
			wordEnd--
		}
		if wordEnd > start {
			toks = append(toks, token{text: text[start:wordEnd], start: start, end: wordEnd})
		}
		for j := wordEnd; j < end; j++ {
			toks = append(toks, token{text: text[j : j+1], start: j, end: j + 1})
		}
	}
	return toks
}

// #endregion tokens

// #region parser
type parser struct {
	text string
	toks []token
}

// kw reports whether token i is the keyword word, ignoring case.
func (p *parser) kw(i int, word string) bool {
	return i >= 0 && i < len(p.toks) && strings.EqualFold(p.toks[i].text, word)
}

// comparatorAt matches a comparator phrase starting at token i and returns
// how many tokens it spans.
func (p *parser) comparatorAt(i int) (Comparator, int, bool) {
	switch {
	case p.kw(i, "above"):
		return Above, 1, true
	case p.kw(i, "below"):
		return Below, 1, true
	case p.kw(i, "equal") && p.kw(i+1, "to"):
		return EqualTo, 2, true
	}
	return "", 0, false
}

func (p *parser) adjustmentAt(i int) (Adjustment, bool) {
	switch {
	case p.kw(i, "increase"):
		return Increase, true
	case p.kw(i, "decrease"):
		return Decrease, true
	case p.kw(i, "maintain"):
		return Maintain, true
	}
	return "", false
}

// phrase joins toks[lo:hi] as a variable phrase. Every word must be letters only.
func (p *parser) phrase(lo, hi int) (string, bool) {
	if lo >= hi {
		return "", false
	}
	words := make([]string, 0, hi-lo)
	for _, t := range p.toks[lo:hi] {
		for _, r := range t.text {
			if !unicode.IsLetter(r) {
				return "", false
			}
		}
		words = append(words, t.text)
	}
	return strings.Join(words, " "), true
}

func (p *parser) fail(kind ErrorKind, detail string) (Rule, error) {
	return Rule{}, &ParseError{Kind: kind, Text: p.text, Detail: detail}
}

// Parse compiles one rule sentence of the form
//
//	If the <variable> is <above|below|equal to> the setpoint, then
//	<increase|decrease|maintain> the <variable> by <n>[, using <label>].
//
// Keywords are case-insensitive. Variable phrases are compared verbatim.
func Parse(text string) (Rule, error) {
	p := &parser{text: text, toks: lex(text)}
	n := len(p.toks)

	if !p.kw(0, "if") || !p.kw(1, "the") {
		return p.fail(KindUnrecognized, `expected "If the"`)
	}

	// Condition clause: the variable ends at the first "is" followed by a
	// comparator and "the setpoint".
	condEnd, cmp, width := -1, Comparator(""), 0
	for i := 3; i < n; i++ {
		if !p.kw(i, "is") {
			continue
		}
		c, w, ok := p.comparatorAt(i + 1)
		if ok && p.kw(i+1+w, "the") && p.kw(i+2+w, "setpoint") {
			condEnd, cmp, width = i, c, w
			break
		}
	}
	if condEnd < 0 {
		return p.fail(KindUnrecognized, "no comparison against the setpoint")
	}
	condVar, ok := p.phrase(2, condEnd)
	if !ok {
		return p.fail(KindUnrecognized, "condition variable must be letters and spaces")
	}

	i := condEnd + 1 + width + 2
	if i < n && p.toks[i].text == "," {
		i++
	}
	if !p.kw(i, "then") {
		return p.fail(KindUnrecognized, `expected "then"`)
	}
	adj, ok := p.adjustmentAt(i + 1)
	if !ok {
		return p.fail(KindUnrecognized, "unknown adjustment verb")
	}
	if !p.kw(i+2, "the") {
		return p.fail(KindUnrecognized, `expected "the" after adjustment verb`)
	}

	// Action clause: prefer the condition phrase verbatim so a variable may
	// itself contain "by"; otherwise cut at the first "by".
	actStart := i + 3
	byIdx := -1
	condWords := condEnd - 2
	if actStart+condWords < n && p.kw(actStart+condWords, "by") {
		if v, ok := p.phrase(actStart, actStart+condWords); ok && v == condVar {
			byIdx = actStart + condWords
		}
	}
	if byIdx < 0 {
		for j := actStart; j < n; j++ {
			if p.kw(j, "by") {
				byIdx = j
				break
			}
		}
	}
	if byIdx < 0 {
		end := n
		if end > actStart && p.toks[end-1].text == "." {
			end--
		}
		if v, ok := p.phrase(actStart, end); ok && v == condVar {
			return p.fail(KindMalformedAmount, "amount missing")
		}
		return p.fail(KindUnrecognized, `expected "by <amount>"`)
	}
	actVar, ok := p.phrase(actStart, byIdx)
	if !ok {
		return p.fail(KindUnrecognized, "action variable must be letters and spaces")
	}
	if actVar != condVar {
		return p.fail(KindVariableMismatch, condVar+" != "+actVar)
	}

	a := byIdx + 1
	if a >= n || p.toks[a].punct() {
		return p.fail(KindMalformedAmount, "amount missing")
	}
	amount, ok := parseAmount(p.toks[a].text)
	if !ok {
		return p.fail(KindMalformedAmount, p.toks[a].text)
	}

	rule := Rule{
		Variable:   condVar,
		Comparator: cmp,
		Adjustment: adj,
		Amount:     float64(amount),
		Text:       strings.TrimSpace(text),
	}

	q := a + 1
	if q < n && p.toks[q].text == "," {
		q++
		if !p.kw(q, "using") {
			return p.fail(KindUnrecognized, `expected "using" after comma`)
		}
	}
	if p.kw(q, "using") {
		lo, hi := q+1, n
		if hi > lo && p.toks[hi-1].text == "." {
			hi--
		}
		if lo >= hi {
			return p.fail(KindUnrecognized, "empty using clause")
		}
		rule.Label = strings.TrimSpace(text[p.toks[lo].start:p.toks[hi-1].end])
		return rule, nil
	}
	if q < n && p.toks[q].text == "." {
		q++
	}
	if q != n {
		return p.fail(KindUnrecognized, "unexpected text after amount")
	}
	return rule, nil
}

// parseAmount accepts only plain decimal digits, so signs and fractions are rejected.
func parseAmount(s string) (int, bool) {
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0, false
		}
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, false
	}
	return n, true
}

// #endregion parser
