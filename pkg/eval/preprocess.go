package eval

import (
	"strings"
	"unicode"
)

// Words that must never be quoted even when they sit next to a comparison
// operator.
var reservedWords = map[string]bool{
	"true":  true,
	"false": true,
	"nil":   true,
	"and":   true,
	"or":    true,
	"not":   true,
	"in":    true,
	"int":   true,
	"float": true,
	"len":   true,
	"min":   true,
	"max":   true,
}

// quoteBareOperands rewrites bare-word comparison operands into string
// literals, so `status == ready` compiles as `status == "ready"` when
// `ready` is not a known variable or function. Operands already quoted,
// numeric, reserved, known to the environment, or followed by a call
// parenthesis are left alone. Content inside string literals is never
// touched.
func quoteBareOperands(src string, known func(string) bool) string {
	if !strings.ContainsAny(src, "=<>!") {
		return src
	}

	tokens := scanTokens(src)
	var b strings.Builder
	for i, tok := range tokens {
		if tok.kind == tokWord && !reservedWords[tok.text] && !known(tok.text) && !isCall(tokens, i) && nearComparison(tokens, i) {
			b.WriteByte('"')
			b.WriteString(tok.text)
			b.WriteByte('"')
			continue
		}
		b.WriteString(tok.text)
	}
	return b.String()
}

type tokKind int

const (
	tokOther tokKind = iota
	tokWord
	tokCompare
	tokSpace
	tokString
)

type token struct {
	kind tokKind
	text string
}

func scanTokens(src string) []token {
	var tokens []token
	runes := []rune(src)
	for i := 0; i < len(runes); {
		r := runes[i]
		switch {
		case r == '"' || r == '\'':
			quote := r
			j := i + 1
			for j < len(runes) && runes[j] != quote {
				j++
			}
			if j < len(runes) {
				j++
			}
			tokens = append(tokens, token{tokString, string(runes[i:j])})
			i = j
		case unicode.IsLetter(r) || r == '_':
			j := i
			for j < len(runes) && (unicode.IsLetter(runes[j]) || unicode.IsDigit(runes[j]) || runes[j] == '_') {
				j++
			}
			tokens = append(tokens, token{tokWord, string(runes[i:j])})
			i = j
		case r == '=' || r == '!' || r == '<' || r == '>':
			j := i + 1
			if j < len(runes) && runes[j] == '=' {
				j++
			}
			tokens = append(tokens, token{tokCompare, string(runes[i:j])})
			i = j
		case unicode.IsSpace(r):
			j := i
			for j < len(runes) && unicode.IsSpace(runes[j]) {
				j++
			}
			tokens = append(tokens, token{tokSpace, string(runes[i:j])})
			i = j
		default:
			tokens = append(tokens, token{tokOther, string(r)})
			i++
		}
	}
	return tokens
}

// isCall reports whether token i is immediately followed by '('.
func isCall(tokens []token, i int) bool {
	for j := i + 1; j < len(tokens); j++ {
		if tokens[j].kind == tokSpace {
			continue
		}
		return tokens[j].text == "("
	}
	return false
}

// nearComparison reports whether the nearest non-space neighbor on either
// side of token i is a comparison operator.
func nearComparison(tokens []token, i int) bool {
	for j := i - 1; j >= 0; j-- {
		if tokens[j].kind == tokSpace {
			continue
		}
		if tokens[j].kind == tokCompare && tokens[j].text != "!" {
			return true
		}
		break
	}
	for j := i + 1; j < len(tokens); j++ {
		if tokens[j].kind == tokSpace {
			continue
		}
		if tokens[j].kind == tokCompare && tokens[j].text != "!" {
			return true
		}
		break
	}
	return false
}
