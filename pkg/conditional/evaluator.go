// Package conditional evaluates boolean expressions against an execution
// context. The surface is deliberately narrow: comparison and logical
// operators over fields reachable from the context map. No function
// calls, no assignment, no access outside the provided data.
package conditional

import (
	"errors"
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"unicode"
)

// Evaluate parses and evaluates an expression against the context data.
// An empty expression is vacuously true.
func Evaluate(expression string, data map[string]any) (bool, error) {
	expression = strings.TrimSpace(expression)
	if expression == "" {
		return true, nil
	}

	tokens, err := tokenize(expression)
	if err != nil {
		return false, err
	}

	p := &parser{tokens: tokens, data: data}

	value, err := p.parseOr()
	if err != nil {
		return false, err
	}

	if p.pos != len(p.tokens) {
		return false, fmt.Errorf("unexpected token %q", p.tokens[p.pos].text)
	}

	return truthy(value), nil
}

type tokenKind int

const (
	tokenIdent tokenKind = iota
	tokenNumber
	tokenString
	tokenOp
)

type token struct {
	kind tokenKind
	text string
}

func tokenize(input string) ([]token, error) {
	var tokens []token

	runes := []rune(input)
	i := 0

	for i < len(runes) {
		r := runes[i]

		switch {
		case unicode.IsSpace(r):
			i++
		case r == '\'' || r == '"':
			quote := r
			j := i + 1

			for j < len(runes) && runes[j] != quote {
				j++
			}

			if j >= len(runes) {
				return nil, errors.New("unterminated string literal")
			}

			tokens = append(tokens, token{kind: tokenString, text: string(runes[i+1 : j])})
			i = j + 1
		case unicode.IsDigit(r) || (r == '-' && i+1 < len(runes) && unicode.IsDigit(runes[i+1])):
			j := i + 1
			for j < len(runes) && (unicode.IsDigit(runes[j]) || runes[j] == '.') {
				j++
			}

			tokens = append(tokens, token{kind: tokenNumber, text: string(runes[i:j])})
			i = j
		case unicode.IsLetter(r) || r == '_':
			j := i
			for j < len(runes) && (unicode.IsLetter(runes[j]) || unicode.IsDigit(runes[j]) || runes[j] == '_' || runes[j] == '.') {
				j++
			}

			tokens = append(tokens, token{kind: tokenIdent, text: string(runes[i:j])})
			i = j
		default:
			op, width := matchOperator(runes[i:])
			if op == "" {
				return nil, fmt.Errorf("unexpected character %q", string(r))
			}

			tokens = append(tokens, token{kind: tokenOp, text: op})
			i += width
		}
	}

	return tokens, nil
}

func matchOperator(rest []rune) (string, int) {
	two := ""
	if len(rest) >= 2 {
		two = string(rest[:2])
	}

	switch two {
	case "&&", "||", "==", "!=", "<=", ">=":
		return two, 2
	}

	switch rest[0] {
	case '<', '>', '!', '(', ')':
		return string(rest[0]), 1
	}

	return "", 0
}

type parser struct {
	tokens []token
	pos    int
	data   map[string]any
}

func (p *parser) peek() (token, bool) {
	if p.pos >= len(p.tokens) {
		return token{}, false
	}

	return p.tokens[p.pos], true
}

func (p *parser) acceptOp(op string) bool {
	if t, ok := p.peek(); ok && t.kind == tokenOp && t.text == op {
		p.pos++

		return true
	}

	return false
}

func (p *parser) parseOr() (any, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}

	for p.acceptOp("||") {
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}

		left = truthy(left) || truthy(right)
	}

	return left, nil
}

func (p *parser) parseAnd() (any, error) {
	left, err := p.parseComparison()
	if err != nil {
		return nil, err
	}

	for p.acceptOp("&&") {
		right, err := p.parseComparison()
		if err != nil {
			return nil, err
		}

		left = truthy(left) && truthy(right)
	}

	return left, nil
}

func (p *parser) parseComparison() (any, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}

	for _, op := range []string{"==", "!=", "<=", ">=", "<", ">"} {
		if p.acceptOp(op) {
			right, err := p.parseUnary()
			if err != nil {
				return nil, err
			}

			return compare(op, left, right)
		}
	}

	return left, nil
}

func (p *parser) parseUnary() (any, error) {
	if p.acceptOp("!") {
		value, err := p.parseUnary()
		if err != nil {
			return nil, err
		}

		return !truthy(value), nil
	}

	return p.parsePrimary()
}

func (p *parser) parsePrimary() (any, error) {
	t, ok := p.peek()
	if !ok {
		return nil, errors.New("unexpected end of expression")
	}

	switch t.kind {
	case tokenOp:
		if t.text == "(" {
			p.pos++

			value, err := p.parseOr()
			if err != nil {
				return nil, err
			}

			if !p.acceptOp(")") {
				return nil, errors.New("missing closing parenthesis")
			}

			return value, nil
		}

		return nil, fmt.Errorf("unexpected operator %q", t.text)
	case tokenNumber:
		p.pos++

		value, err := strconv.ParseFloat(t.text, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid number %q: %w", t.text, err)
		}

		return value, nil
	case tokenString:
		p.pos++

		return t.text, nil
	case tokenIdent:
		p.pos++

		switch t.text {
		case "true":
			return true, nil
		case "false":
			return false, nil
		case "null", "nil":
			return nil, nil
		}

		return resolvePath(p.data, t.text), nil
	default:
		return nil, fmt.Errorf("unexpected token %q", t.text)
	}
}

// resolvePath walks a dotted path through nested maps. Missing segments
// resolve to nil rather than erroring, so expressions can check for
// fields that earlier steps may not have produced.
func resolvePath(data map[string]any, path string) any {
	segments := strings.Split(path, ".")

	var current any = data

	for _, segment := range segments {
		asMap, ok := current.(map[string]any)
		if !ok {
			return nil
		}

		current, ok = asMap[segment]
		if !ok {
			return nil
		}
	}

	return current
}

func compare(op string, left, right any) (bool, error) {
	switch op {
	case "==", "!=":
		equal, err := looseEqual(left, right)
		if err != nil {
			return false, err
		}

		if op == "!=" {
			return !equal, nil
		}

		return equal, nil
	}

	leftNum, leftOK := asNumber(left)
	rightNum, rightOK := asNumber(right)

	if !leftOK || !rightOK {
		return false, fmt.Errorf("operator %q requires numeric operands, got %T and %T", op, left, right)
	}

	switch op {
	case "<":
		return leftNum < rightNum, nil
	case "<=":
		return leftNum <= rightNum, nil
	case ">":
		return leftNum > rightNum, nil
	case ">=":
		return leftNum >= rightNum, nil
	default:
		return false, fmt.Errorf("unknown operator %q", op)
	}
}

// looseEqual compares numbers across numeric types and everything else
// by value. Operands whose dynamic type Go cannot compare, like the
// maps and slices a dotted path can resolve to, produce an evaluation
// error instead of a runtime panic.
func looseEqual(left, right any) (bool, error) {
	if leftNum, ok := asNumber(left); ok {
		if rightNum, ok := asNumber(right); ok {
			return leftNum == rightNum, nil
		}
	}

	if !isComparable(left) || !isComparable(right) {
		return false, fmt.Errorf("equality requires comparable operands, got %T and %T", left, right)
	}

	return left == right, nil
}

func isComparable(value any) bool {
	if value == nil {
		return true
	}

	return reflect.TypeOf(value).Comparable()
}

func asNumber(value any) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	default:
		return 0, false
	}
}

func truthy(value any) bool {
	switch v := value.(type) {
	case nil:
		return false
	case bool:
		return v
	case string:
		return v != ""
	case float64:
		return v != 0
	case int:
		return v != 0
	default:
		return true
	}
}
