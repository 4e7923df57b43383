// internal/browser/dom/selector.go
package dom

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

// ErrInvalidSelector is wrapped by every selector translation failure.
var ErrInvalidSelector = errors.New("invalid selector")

// TranslateSelector converts a CSS selector into an XPath expression that
// htmlquery can evaluate. Supported: type, universal, #id, .class, attribute
// selectors ([a], =, ~=, |=, ^=, $=, *=), the descendant, child (>), adjacent
// (+) and general sibling (~) combinators, and comma separated groups.
// Pseudo-classes are rejected. With relative set the expression is anchored at
// the context node, as Element.querySelector is.
func TranslateSelector(css string, relative bool) (string, error) {
	css = strings.TrimSpace(css)
	if css == "" {
		return "", fmt.Errorf("%w: empty selector", ErrInvalidSelector)
	}

	groups, err := splitGroups(css)
	if err != nil {
		return "", err
	}

	paths := make([]string, 0, len(groups))
	for _, g := range groups {
		p := &selectorParser{src: g}
		xpath, err := p.parseComplex(relative)
		if err != nil {
			return "", fmt.Errorf("%w %q: %v", ErrInvalidSelector, css, err)
		}
		paths = append(paths, xpath)
	}
	return strings.Join(paths, " | "), nil
}

// splitGroups splits on top-level commas, ignoring commas inside brackets or quotes.
func splitGroups(css string) ([]string, error) {
	var (
		groups []string
		depth  int
		quote  rune
		start  int
	)
	for i, r := range css {
		switch {
		case quote != 0:
			if r == quote {
				quote = 0
			}
		case r == '"' || r == '\'':
			quote = r
		case r == '[':
			depth++
		case r == ']':
			depth--
		case r == ',' && depth == 0:
			groups = append(groups, strings.TrimSpace(css[start:i]))
			start = i + 1
		}
	}
	if quote != 0 || depth != 0 {
		return nil, fmt.Errorf("%w %q: unbalanced brackets or quotes", ErrInvalidSelector, css)
	}
	groups = append(groups, strings.TrimSpace(css[start:]))
	for _, g := range groups {
		if g == "" {
			return nil, fmt.Errorf("%w %q: empty group", ErrInvalidSelector, css)
		}
	}
	return groups, nil
}

type selectorParser struct {
	src string
	pos int
}

func (p *selectorParser) eof() bool { return p.pos >= len(p.src) }

func (p *selectorParser) peek() byte {
	if p.eof() {
		return 0
	}
	return p.src[p.pos]
}

func (p *selectorParser) skipSpace() bool {
	start := p.pos
	for !p.eof() && isSpace(p.src[p.pos]) {
		p.pos++
	}
	return p.pos > start
}

// parseComplex parses compound selectors joined by combinators.
func (p *selectorParser) parseComplex(relative bool) (string, error) {
	var sb strings.Builder
	if relative {
		sb.WriteString(".")
	}

	combinator := byte(' ')
	for {
		p.skipSpace()
		if p.eof() {
			return "", errors.New("dangling combinator")
		}
		tag, preds, err := p.parseCompound()
		if err != nil {
			return "", err
		}
		switch combinator {
		case ' ':
			sb.WriteString("//" + tag)
		case '>':
			sb.WriteString("/" + tag)
		case '~':
			sb.WriteString("/following-sibling::" + tag)
		case '+':
			sb.WriteString("/following-sibling::*[1]")
			if tag != "*" {
				sb.WriteString("[self::" + tag + "]")
			}
		}
		for _, pred := range preds {
			sb.WriteString("[" + pred + "]")
		}

		hadSpace := p.skipSpace()
		if p.eof() {
			return sb.String(), nil
		}
		switch c := p.peek(); c {
		case '>', '+', '~':
			combinator = c
			p.pos++
		default:
			if !hadSpace {
				return "", fmt.Errorf("unexpected %q at offset %d", c, p.pos)
			}
			combinator = ' '
		}
	}
}

// parseCompound parses one compound selector such as input.title[name^="x"].
func (p *selectorParser) parseCompound() (tag string, preds []string, err error) {
	tag = "*"
	matched := false
	switch c := p.peek(); {
	case c == '*':
		p.pos++
		matched = true
	case isIdentStart(c):
		tag = strings.ToLower(p.ident())
		matched = true
	}

loop:
	for !p.eof() {
		switch p.peek() {
		case '#':
			p.pos++
			id := p.ident()
			if id == "" {
				return "", nil, errors.New("empty id")
			}
			preds = append(preds, "@id="+xpathLiteral(id))
		case '.':
			p.pos++
			class := p.ident()
			if class == "" {
				return "", nil, errors.New("empty class")
			}
			preds = append(preds, "contains(concat(' ', normalize-space(@class), ' '), "+xpathLiteral(" "+class+" ")+")")
		case '[':
			pred, err := p.attribute()
			if err != nil {
				return "", nil, err
			}
			preds = append(preds, pred)
		case ':':
			return "", nil, fmt.Errorf("unsupported pseudo-class at offset %d", p.pos)
		default:
			break loop
		}
		matched = true
	}

	if !matched {
		return "", nil, fmt.Errorf("unexpected %q at offset %d", p.peek(), p.pos)
	}
	return tag, preds, nil
}

// attribute parses [name], [name=value] and the operator forms.
func (p *selectorParser) attribute() (string, error) {
	p.pos++ // [
	p.skipSpace()
	name := strings.ToLower(p.ident())
	if name == "" {
		return "", errors.New("empty attribute name")
	}
	p.skipSpace()
	if p.peek() == ']' {
		p.pos++
		return "@" + name, nil
	}

	var op string
	switch c := p.peek(); c {
	case '=':
		op = "="
		p.pos++
	case '~', '|', '^', '$', '*':
		p.pos++
		if p.peek() != '=' {
			return "", fmt.Errorf("bad attribute operator at offset %d", p.pos)
		}
		p.pos++
		op = string(c) + "="
	default:
		return "", fmt.Errorf("bad attribute operator at offset %d", p.pos)
	}

	p.skipSpace()
	value, err := p.attributeValue()
	if err != nil {
		return "", err
	}
	p.skipSpace()
	if p.peek() != ']' {
		return "", errors.New("unterminated attribute selector")
	}
	p.pos++

	attr := "@" + name
	lit := xpathLiteral(value)
	switch op {
	case "=":
		return attr + "=" + lit, nil
	case "~=":
		if value == "" || strings.ContainsAny(value, " \t\n") {
			return "false()", nil
		}
		return "contains(concat(' ', normalize-space(" + attr + "), ' '), " + xpathLiteral(" "+value+" ") + ")", nil
	case "|=":
		return "(" + attr + "=" + lit + " or starts-with(" + attr + ", " + xpathLiteral(value+"-") + "))", nil
	}
	// An empty operand never matches for the substring operators.
	if value == "" {
		return "false()", nil
	}
	switch op {
	case "^=":
		return "starts-with(" + attr + ", " + lit + ")", nil
	case "$=":
		return fmt.Sprintf("substring(%s, string-length(%s) - %d) = %s", attr, attr, utf8.RuneCountInString(value)-1, lit), nil
	default: // *=
		return "contains(" + attr + ", " + lit + ")", nil
	}
}

func (p *selectorParser) attributeValue() (string, error) {
	if c := p.peek(); c == '"' || c == '\'' {
		p.pos++
		end := strings.IndexByte(p.src[p.pos:], c)
		if end < 0 {
			return "", errors.New("unterminated string")
		}
		v := p.src[p.pos : p.pos+end]
		p.pos += end + 1
		return v, nil
	}
	v := p.ident()
	if v == "" {
		return "", errors.New("missing attribute value")
	}
	return v, nil
}

func (p *selectorParser) ident() string {
	start := p.pos
	for !p.eof() {
		c := p.src[p.pos]
		if isIdentStart(c) || (c >= '0' && c <= '9') || c == '-' {
			p.pos++
			continue
		}
		break
	}
	return p.src[start:p.pos]
}

func isIdentStart(c byte) bool {
	return c == '_' || c == '-' || c >= 0x80 || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r' || c == '\f'
}

// xpathLiteral quotes s as an XPath string literal, falling back to concat()
// when s holds both quote characters.
func xpathLiteral(s string) string {
	if !strings.Contains(s, "'") {
		return "'" + s + "'"
	}
	if !strings.Contains(s, `"`) {
		return `"` + s + `"`
	}
	parts := strings.Split(s, "'")
	quoted := make([]string, 0, len(parts)*2)
	for i, part := range parts {
		if i > 0 {
			quoted = append(quoted, `"'"`)
		}
		if part != "" {
			quoted = append(quoted, "'"+part+"'")
		}
	}
	return "concat(" + strings.Join(quoted, ", ") + ")"
}
