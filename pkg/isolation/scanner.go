package isolation

import (
	"strconv"
	"strings"
)

// Shape is what a lexical pass over a SQL statement reveals about how it
// is scoped. It is a guardrail, not a parser: statements it does not
// understand come out unscoped and are denied.
type Shape struct {
	// Verb is the first keyword, lowercased.
	Verb string

	// Writes is set when the statement contains UPDATE or DELETE.
	Writes bool

	// Inserts is set when the statement contains INSERT.
	Inserts bool

	// Forbidden is set when the statement contains DROP, TRUNCATE, ALTER
	// or GRANT.
	Forbidden bool

	// System is set for statements that read no tenant data: SHOW,
	// DESCRIBE, SELECT without FROM, or SELECT over catalog schemas only.
	System bool

	// TenantFilter is set when a WHERE or ON clause compares a tenant
	// column with a bound value.
	TenantFilter bool

	// IDLookup is set when a WHERE clause compares id with a placeholder.
	IDLookup bool

	// TenantValues are the values the tenant column is compared with:
	// placeholders as Param, quoted literals as Literal.
	TenantValues []Value

	// IDValues are the placeholders compared with id.
	IDValues []Value
}

// Value is one side of a comparison found by the scanner. Exactly one of
// Param (1-based) and Literal is set.
type Value struct {
	Param   int
	Literal string
	IsLit   bool
}

// Scoped reports whether the statement carries a recognized user-scoping
// predicate or reads no tenant data.
func (s Shape) Scoped() bool {
	return s.System || s.TenantFilter || s.IDLookup
}

var tenantColumns = map[string]bool{
	"userid":  true,
	"user_id": true,
}

var catalogSchemas = map[string]bool{
	"information_schema": true,
	"pg_catalog":         true,
}

// filterEnd lists keywords that close a WHERE or ON clause.
var filterEnd = map[string]bool{
	"order": true, "group": true, "limit": true, "offset": true,
	"returning": true, "having": true, "union": true, "intersect": true,
	"except": true, "window": true,
}

// sourceEnd lists keywords that end a FROM list.
var sourceEnd = map[string]bool{
	"where": true, "join": true, "inner": true, "left": true, "right": true,
	"full": true, "cross": true, "on": true, "using": true, "natural": true,
	"order": true, "group": true, "limit": true, "offset": true, "having": true,
	"union": true, "intersect": true, "except": true, "for": true, "window": true,
	"as": true, "set": true, "returning": true,
}

// Inspect lexes query and reports its scoping shape.
func Inspect(query string) Shape {
	toks := lex(query)
	var sh Shape
	if len(toks) == 0 {
		return sh
	}
	if toks[0].kind == tokWord {
		sh.Verb = toks[0].text
	}

	inFilter := false
	for i, t := range toks {
		if t.kind == tokWord {
			switch t.text {
			case "update", "delete":
				sh.Writes = true
			case "insert":
				sh.Inserts = true
			case "drop", "truncate", "alter", "grant":
				sh.Forbidden = true
			case "where", "on":
				inFilter = true
			default:
				if filterEnd[t.text] {
					inFilter = false
				}
			}
		}
		if !inFilter || !t.isIdent() {
			continue
		}
		switch {
		case tenantColumns[t.text]:
			if vals, ok := comparedValues(toks, i); ok {
				sh.TenantFilter = true
				sh.TenantValues = append(sh.TenantValues, vals...)
			}
		case t.text == "id":
			if vals, ok := comparedValues(toks, i); ok && len(vals) == 1 && !vals[0].IsLit {
				sh.IDLookup = true
				sh.IDValues = append(sh.IDValues, vals...)
			}
		}
	}

	sh.System = systemStatement(sh.Verb, toks)
	return sh
}

// comparedValues returns the bound values the column at i is compared
// with, in either "col = v", "v = col" or "col IN (v, ...)" form.
func comparedValues(toks []token, i int) ([]Value, bool) {
	if i+2 < len(toks) && toks[i+1].is(tokPunct, "=") {
		if v, ok := toks[i+2].value(); ok {
			return []Value{v}, true
		}
		return nil, false
	}
	if i >= 2 && toks[i-1].is(tokPunct, "=") {
		if v, ok := toks[i-2].value(); ok {
			return []Value{v}, true
		}
		return nil, false
	}
	if i+2 < len(toks) && toks[i+1].is(tokWord, "in") && toks[i+2].is(tokPunct, "(") {
		var vals []Value
		for j := i + 3; j < len(toks); j++ {
			switch {
			case toks[j].is(tokPunct, ")"):
				return vals, len(vals) > 0
			case toks[j].is(tokPunct, ","):
			default:
				v, ok := toks[j].value()
				if !ok {
					return nil, false
				}
				vals = append(vals, v)
			}
		}
	}
	return nil, false
}

func systemStatement(verb string, toks []token) bool {
	switch verb {
	case "show", "describe":
		return true
	case "select":
	default:
		return false
	}

	for i := range toks {
		if !toks[i].is(tokWord, "from") && !toks[i].is(tokWord, "join") {
			continue
		}
		j := i + 1
		for j < len(toks) {
			if toks[j].is(tokPunct, "(") {
				break
			}
			schema, next, ok := tableRef(toks, j)
			if !ok || !catalogSchemas[schema] {
				return false
			}
			j = skipAlias(toks, next)
			if j < len(toks) && toks[j].is(tokPunct, ",") {
				j++
				continue
			}
			break
		}
	}
	return true
}

// tableRef reads [schema.]table at i and returns the schema.
func tableRef(toks []token, i int) (schema string, next int, ok bool) {
	if i >= len(toks) || !toks[i].isIdent() {
		return "", i, false
	}
	if i+2 < len(toks) && toks[i+1].is(tokPunct, ".") && toks[i+2].isIdent() {
		return toks[i].text, i + 3, true
	}
	return "", i + 1, true
}

func skipAlias(toks []token, i int) int {
	if i < len(toks) && toks[i].is(tokWord, "as") {
		i++
	}
	if i < len(toks) && toks[i].isIdent() && !sourceEnd[toks[i].text] {
		i++
	}
	return i
}

type tokenKind int

const (
	tokWord tokenKind = iota
	tokQuoted
	tokLiteral
	tokNumber
	tokParam
	tokPunct
)

type token struct {
	kind tokenKind
	text string
	n    int
}

func (t token) is(kind tokenKind, text string) bool {
	return t.kind == kind && t.text == text
}

func (t token) isIdent() bool {
	return t.kind == tokWord || t.kind == tokQuoted
}

func (t token) value() (Value, bool) {
	switch t.kind {
	case tokParam:
		return Value{Param: t.n}, true
	case tokLiteral:
		return Value{Literal: t.text, IsLit: true}, true
	default:
		return Value{}, false
	}
}

// lex tokenizes sql in a single pass. Comments are dropped, barewords and
// quoted identifiers are lowercased, and ? placeholders are numbered in
// order of appearance.
func lex(sql string) []token {
	var toks []token
	n := len(sql)
	pos := 0
	ordinal := 0

	for pos < n {
		ch := sql[pos]
		switch {
		case ch == '\'':
			lit, next := readSingleQuoted(sql, pos, n)
			toks = append(toks, token{kind: tokLiteral, text: lit})
			pos = next
		case ch == '"':
			id, next := readDoubleQuoted(sql, pos, n)
			toks = append(toks, token{kind: tokQuoted, text: strings.ToLower(id)})
			pos = next
		case isBlockCommentStart(sql, pos, n):
			pos = skipBlockComment(sql, pos, n)
		case isLineCommentStart(sql, pos, n):
			pos = skipLineComment(sql, pos, n)
		case ch == '$' && pos+1 < n && isDigit(sql[pos+1]):
			num, next := readParam(sql, pos+1, n)
			idx, _ := strconv.Atoi(num)
			toks = append(toks, token{kind: tokParam, text: "$" + num, n: idx})
			pos = next
		case ch == '$':
			lit, next, ok := readDollarQuoted(sql, pos, n)
			if ok {
				toks = append(toks, token{kind: tokLiteral, text: lit})
				pos = next
			} else {
				pos++
			}
		case ch == '?':
			ordinal++
			toks = append(toks, token{kind: tokParam, text: "?", n: ordinal})
			pos++
		case isIdentStart(ch):
			word, next := readBareword(sql, pos, n)
			toks = append(toks, token{kind: tokWord, text: strings.ToLower(word)})
			pos = next
		case isDigit(ch):
			num, next := readDigits(sql, pos, n)
			toks = append(toks, token{kind: tokNumber, text: num})
			pos = next
		case (ch == '<' || ch == '>' || ch == '!') && pos+1 < n && (sql[pos+1] == '=' || sql[pos+1] == '>'):
			toks = append(toks, token{kind: tokPunct, text: sql[pos : pos+2]})
			pos += 2
		case ch == ' ' || ch == '\t' || ch == '\n' || ch == '\r':
			pos++
		default:
			toks = append(toks, token{kind: tokPunct, text: string(ch)})
			pos++
		}
	}
	return toks
}

func isBlockCommentStart(sql string, pos, n int) bool {
	return sql[pos] == '/' && pos+1 < n && sql[pos+1] == '*'
}

func isLineCommentStart(sql string, pos, n int) bool {
	return sql[pos] == '-' && pos+1 < n && sql[pos+1] == '-'
}

// readSingleQuoted reads a string literal, handling '' escapes.
func readSingleQuoted(sql string, pos, n int) (lit string, next int) {
	pos++ // skip opening quote
	var b strings.Builder
	for pos < n {
		if sql[pos] == '\'' {
			pos++
			if pos < n && sql[pos] == '\'' {
				b.WriteByte('\'')
				pos++
				continue
			}
			return b.String(), pos
		}
		b.WriteByte(sql[pos])
		pos++
	}
	return b.String(), pos
}

// readDoubleQuoted reads a quoted identifier, handling "" escapes.
func readDoubleQuoted(sql string, pos, n int) (id string, next int) {
	pos++ // skip opening quote
	var b strings.Builder
	for pos < n {
		if sql[pos] == '"' {
			pos++
			if pos < n && sql[pos] == '"' {
				b.WriteByte('"')
				pos++
				continue
			}
			return b.String(), pos
		}
		b.WriteByte(sql[pos])
		pos++
	}
	return b.String(), pos
}

// readDollarQuoted reads a $tag$...$tag$ string.
func readDollarQuoted(sql string, pos, n int) (lit string, next int, ok bool) {
	end := pos + 1
	for end < n && isIdentChar(sql[end]) {
		end++
	}
	if end >= n || sql[end] != '$' {
		return "", pos, false
	}
	tag := sql[pos : end+1]
	body := end + 1
	closeAt := strings.Index(sql[body:], tag)
	if closeAt < 0 {
		return sql[body:], n, true
	}
	return sql[body : body+closeAt], body + closeAt + len(tag), true
}

func skipBlockComment(sql string, pos, n int) int {
	pos += 2 // skip /*
	for pos+1 < n {
		if sql[pos] == '*' && sql[pos+1] == '/' {
			return pos + 2
		}
		pos++
	}
	return n
}

func skipLineComment(sql string, pos, n int) int {
	pos += 2 // skip --
	for pos < n && sql[pos] != '\n' {
		pos++
	}
	return pos
}

func readBareword(sql string, pos, n int) (word string, next int) {
	start := pos
	for pos < n && isIdentChar(sql[pos]) {
		pos++
	}
	return sql[start:pos], pos
}

func readParam(sql string, pos, n int) (digits string, next int) {
	start := pos
	for pos < n && isDigit(sql[pos]) {
		pos++
	}
	return sql[start:pos], pos
}

func readDigits(sql string, pos, n int) (digits string, next int) {
	start := pos
	for pos < n && (isDigit(sql[pos]) || sql[pos] == '.') {
		pos++
	}
	return sql[start:pos], pos
}

func isIdentStart(ch byte) bool {
	return (ch >= 'a' && ch <= 'z') || (ch >= 'A' && ch <= 'Z') || ch == '_'
}

func isIdentChar(ch byte) bool {
	return isIdentStart(ch) || isDigit(ch)
}

func isDigit(ch byte) bool {
	return ch >= '0' && ch <= '9'
}
