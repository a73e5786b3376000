package expr

import "strings"

type tokenKind int

const (
	tokNumber tokenKind = iota // 42 | 3.14
	tokString                  // "…" or '…'
	tokBool                    // true | false
	tokIdent                   // variable path or function name
	tokOp                      // + - * / ^ ! && || == != < <= > >=
	tokLParen
	tokRParen
	tokComma
)

type token struct {
	kind tokenKind
	val  string
	pos  int
}

var twoCharOps = map[string]bool{
	"&&": true, "||": true, "==": true, "!=": true, "<=": true, ">=": true,
}

// Identifiers are ASCII only. Bytes of a multi-byte rune never match.
func isIdentStart(ch byte) bool {
	return ch == '_' || (ch >= 'a' && ch <= 'z') || (ch >= 'A' && ch <= 'Z')
}

func isIdentPart(ch byte) bool {
	return isIdentStart(ch) || isDigit(ch) || ch == '.'
}

func isDigit(ch byte) bool { return ch >= '0' && ch <= '9' }

func isSpace(ch byte) bool {
	return ch == ' ' || ch == '\t' || ch == '\n' || ch == '\r' || ch == '\v' || ch == '\f'
}

func tokenize(expr string) ([]token, error) {
	var tokens []token
	i := 0
	for i < len(expr) {
		ch := expr[i]
		if isSpace(ch) {
			i++
			continue
		}
		switch ch {
		case '(':
			tokens = append(tokens, token{tokLParen, "(", i})
			i++
			continue
		case ')':
			tokens = append(tokens, token{tokRParen, ")", i})
			i++
			continue
		case ',':
			tokens = append(tokens, token{tokComma, ",", i})
			i++
			continue
		}
		// Two-character operators first so "<=" never lexes as "<" "=".
		if i+1 < len(expr) && twoCharOps[expr[i:i+2]] {
			tokens = append(tokens, token{tokOp, expr[i : i+2], i})
			i += 2
			continue
		}
		if strings.IndexByte("+-*/^!<>", ch) >= 0 {
			tokens = append(tokens, token{tokOp, string(ch), i})
			i++
			continue
		}
		// String literals.
		if ch == '"' || ch == '\'' {
			quote := ch
			var sb strings.Builder
			j := i + 1
			for j < len(expr) && expr[j] != quote {
				if expr[j] == '\\' && j+1 < len(expr) {
					j++
				}
				sb.WriteByte(expr[j])
				j++
			}
			if j >= len(expr) {
				return nil, &LexicalError{Pos: i, Msg: "unterminated string"}
			}
			tokens = append(tokens, token{tokString, sb.String(), i})
			i = j + 1
			continue
		}
		// Numbers: digits with at most one decimal point.
		if isDigit(ch) || (ch == '.' && i+1 < len(expr) && isDigit(expr[i+1])) {
			j := i
			dot := false
			for j < len(expr) && (isDigit(expr[j]) || (expr[j] == '.' && !dot)) {
				if expr[j] == '.' {
					dot = true
				}
				j++
			}
			if j < len(expr) && (isIdentPart(expr[j])) {
				return nil, &LexicalError{Pos: i, Msg: "malformed number " + quoteRun(expr, i)}
			}
			tokens = append(tokens, token{tokNumber, expr[i:j], i})
			i = j
			continue
		}
		// Identifiers, dotted paths and the boolean keywords.
		if isIdentStart(ch) {
			j := i
			for j < len(expr) && isIdentPart(expr[j]) {
				j++
			}
			word := expr[i:j]
			switch word {
			case "true", "false":
				tokens = append(tokens, token{tokBool, word, i})
			default:
				tokens = append(tokens, token{tokIdent, word, i})
			}
			i = j
			continue
		}
		return nil, &LexicalError{Pos: i, Msg: "unexpected character " + quoteRun(expr, i)}
	}
	return tokens, nil
}

// quoteRun quotes the non-space run starting at i for error messages.
func quoteRun(expr string, i int) string {
	j := i + 1
	for j < len(expr) && !isSpace(expr[j]) {
		j++
	}
	return `"` + expr[i:j] + `"`
}
