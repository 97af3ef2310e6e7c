// Package effect parses and executes the line-based effect command syntax:
//
//	SUBJECT.VERB(key=value, …)
//
// one command per line, e.g.
//
//	SYSTEM.APPLY_DAMAGE(target=npc.bandit, source=actor.p, tool=item.longbow_1, potency="1d8+2")
//
// Values are double-quoted strings (with \" and \\ escapes), numbers,
// booleans, bare identifiers (which cover dotted refs), lists in [...] and
// objects in {k=v, ...}. The applier half of the package dispatches parsed
// commands to per-verb handlers that mutate the world store.
package effect

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// ErrParse wraps every syntax failure.
var ErrParse = errors.New("effect: parse error")

// Ident is a bare identifier value, typically a ref like npc.guard.
type Ident string

// Command is one parsed effect line. Args values are string, float64, bool,
// Ident, []any or map[string]any. Keys preserves argument order so a parsed
// command formats back to its source modulo whitespace.
type Command struct {
	Subject string
	Verb    string
	Keys    []string
	Args    map[string]any
}

// Name returns the dispatch key "SUBJECT.VERB".
func (c Command) Name() string {
	return c.Subject + "." + c.Verb
}

// Ref returns the named argument as a ref string when it is an Ident or
// string, else "".
func (c Command) Ref(key string) string {
	switch v := c.Args[key].(type) {
	case Ident:
		return string(v)
	case string:
		return v
	}
	return ""
}

// Num returns the named numeric argument.
func (c Command) Num(key string) (float64, bool) {
	v, ok := c.Args[key].(float64)
	return v, ok
}

// Str returns the named argument as text: quoted strings and idents both
// qualify.
func (c Command) Str(key string) string {
	return c.Ref(key)
}

// Bool returns the named boolean argument, defaulting to def when absent.
func (c Command) Bool(key string, def bool) bool {
	if v, ok := c.Args[key].(bool); ok {
		return v
	}
	return def
}

// String formats the command back into the machine syntax.
func (c Command) String() string {
	var b strings.Builder
	b.WriteString(c.Subject)
	b.WriteByte('.')
	b.WriteString(c.Verb)
	b.WriteByte('(')
	for i, k := range c.Keys {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(k)
		b.WriteByte('=')
		formatValue(&b, c.Args[k])
	}
	b.WriteByte(')')
	return b.String()
}

func formatValue(b *strings.Builder, v any) {
	switch val := v.(type) {
	case string:
		b.WriteString(strconv.Quote(val))
	case float64:
		b.WriteString(strconv.FormatFloat(val, 'f', -1, 64))
	case bool:
		b.WriteString(strconv.FormatBool(val))
	case Ident:
		b.WriteString(string(val))
	case []any:
		b.WriteByte('[')
		for i, item := range val {
			if i > 0 {
				b.WriteString(", ")
			}
			formatValue(b, item)
		}
		b.WriteByte(']')
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		b.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				b.WriteString(", ")
			}
			b.WriteString(k)
			b.WriteByte('=')
			formatValue(b, val[k])
		}
		b.WriteByte('}')
	}
}

// ParseAll parses every non-empty line. The first syntax error aborts.
func ParseAll(lines []string) ([]Command, error) {
	var cmds []Command
	for _, line := range lines {
		if strings.TrimSpace(line) == "" {
			continue
		}
		cmd, err := Parse(line)
		if err != nil {
			return nil, err
		}
		cmds = append(cmds, cmd)
	}
	return cmds, nil
}

// Parse parses one command line.
func Parse(line string) (Command, error) {
	p := &parser{input: line}
	cmd, err := p.command()
	if err != nil {
		return Command{}, fmt.Errorf("%w: %q: %v", ErrParse, line, err)
	}
	return cmd, nil
}

type parser struct {
	input string
	pos   int
}

// identChars beyond letters and digits. Dots join ref segments and the
// SUBJECT.VERB head.
const identChars = "_!:-."

func isIdentChar(c byte) bool {
	return c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9' ||
		strings.IndexByte(identChars, c) >= 0
}

func (p *parser) skipSpace() {
	for p.pos < len(p.input) && (p.input[p.pos] == ' ' || p.input[p.pos] == '\t') {
		p.pos++
	}
}

func (p *parser) peek() (byte, bool) {
	p.skipSpace()
	if p.pos >= len(p.input) {
		return 0, false
	}
	return p.input[p.pos], true
}

func (p *parser) expect(c byte) error {
	got, ok := p.peek()
	if !ok || got != c {
		return fmt.Errorf("expected %q at offset %d", string(c), p.pos)
	}
	p.pos++
	return nil
}

// ident consumes a run of identifier characters.
func (p *parser) ident() (string, error) {
	p.skipSpace()
	start := p.pos
	for p.pos < len(p.input) && isIdentChar(p.input[p.pos]) {
		p.pos++
	}
	if p.pos == start {
		return "", fmt.Errorf("expected identifier at offset %d", start)
	}
	return p.input[start:p.pos], nil
}

func (p *parser) command() (Command, error) {
	head, err := p.ident()
	if err != nil {
		return Command{}, err
	}
	subject, verb, found := strings.Cut(head, ".")
	if !found || subject == "" || verb == "" {
		return Command{}, fmt.Errorf("command head %q is not SUBJECT.VERB", head)
	}

	cmd := Command{Subject: subject, Verb: verb, Args: map[string]any{}}
	if err := p.expect('('); err != nil {
		return Command{}, err
	}
	if c, ok := p.peek(); ok && c == ')' {
		p.pos++
		return cmd, p.end()
	}
	for {
		key, err := p.ident()
		if err != nil {
			return Command{}, err
		}
		if err := p.expect('='); err != nil {
			return Command{}, err
		}
		val, err := p.value()
		if err != nil {
			return Command{}, err
		}
		if _, dup := cmd.Args[key]; dup {
			return Command{}, fmt.Errorf("duplicate argument %q", key)
		}
		cmd.Keys = append(cmd.Keys, key)
		cmd.Args[key] = val

		c, ok := p.peek()
		if !ok {
			return Command{}, errors.New("unterminated argument list")
		}
		if c == ',' {
			p.pos++
			continue
		}
		if c == ')' {
			p.pos++
			return cmd, p.end()
		}
		return Command{}, fmt.Errorf("expected ',' or ')' at offset %d", p.pos)
	}
}

func (p *parser) end() error {
	p.skipSpace()
	if p.pos != len(p.input) {
		return fmt.Errorf("trailing input at offset %d", p.pos)
	}
	return nil
}

func (p *parser) value() (any, error) {
	c, ok := p.peek()
	if !ok {
		return nil, errors.New("expected value")
	}
	switch c {
	case '"':
		return p.stringLit()
	case '[':
		return p.list()
	case '{':
		return p.object()
	}
	raw, err := p.ident()
	if err != nil {
		return nil, err
	}
	if n, err := strconv.ParseFloat(raw, 64); err == nil {
		return n, nil
	}
	switch raw {
	case "true":
		return true, nil
	case "false":
		return false, nil
	}
	return Ident(raw), nil
}

func (p *parser) stringLit() (string, error) {
	// Opening quote already peeked.
	p.pos++
	var b strings.Builder
	for p.pos < len(p.input) {
		c := p.input[p.pos]
		switch c {
		case '"':
			p.pos++
			return b.String(), nil
		case '\\':
			if p.pos+1 >= len(p.input) {
				return "", errors.New("dangling escape")
			}
			next := p.input[p.pos+1]
			if next != '"' && next != '\\' {
				return "", fmt.Errorf("unknown escape \\%s", string(next))
			}
			b.WriteByte(next)
			p.pos += 2
		default:
			b.WriteByte(c)
			p.pos++
		}
	}
	return "", errors.New("unterminated string")
}

func (p *parser) list() ([]any, error) {
	p.pos++ // consume '['
	out := []any{}
	if c, ok := p.peek(); ok && c == ']' {
		p.pos++
		return out, nil
	}
	for {
		val, err := p.value()
		if err != nil {
			return nil, err
		}
		out = append(out, val)
		c, ok := p.peek()
		if !ok {
			return nil, errors.New("unterminated list")
		}
		if c == ',' {
			p.pos++
			continue
		}
		if c == ']' {
			p.pos++
			return out, nil
		}
		return nil, fmt.Errorf("expected ',' or ']' at offset %d", p.pos)
	}
}

func (p *parser) object() (map[string]any, error) {
	p.pos++ // consume '{'
	out := map[string]any{}
	if c, ok := p.peek(); ok && c == '}' {
		p.pos++
		return out, nil
	}
	for {
		key, err := p.ident()
		if err != nil {
			return nil, err
		}
		if err := p.expect('='); err != nil {
			return nil, err
		}
		val, err := p.value()
		if err != nil {
			return nil, err
		}
		out[key] = val
		c, ok := p.peek()
		if !ok {
			return nil, errors.New("unterminated object")
		}
		if c == ',' {
			p.pos++
			continue
		}
		if c == '}' {
			p.pos++
			return out, nil
		}
		return nil, fmt.Errorf("expected ',' or '}' at offset %d", p.pos)
	}
}
