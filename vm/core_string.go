package vm

import (
	"strconv"
	"strings"
	"unicode/utf8"
)

// ---------------------------------------------------------------------------
// String, Symbol, Regexp and MatchData
// ---------------------------------------------------------------------------

func installString(rt *Runtime) {
	s := rt.String
	s.def1("+", func(t *Thread, self, arg Value) (Value, error) {
		other, ok := arg.(string)
		if !ok {
			return nil, t.rt.NewError(t.rt.TypeError, "no implicit conversion of %s into String", t.rt.ClassOf(arg).Name)
		}
		return self.(string) + other, nil
	})
	s.def1("*", func(t *Thread, self, arg Value) (Value, error) {
		n, ok := arg.(int64)
		if !ok {
			return nil, t.rt.NewError(t.rt.TypeError, "no implicit conversion of %s into Integer", t.rt.ClassOf(arg).Name)
		}
		if n < 0 {
			return nil, t.rt.NewError(t.rt.ArgumentError, "negative argument")
		}
		return strings.Repeat(self.(string), int(n)), nil
	})
	s.def1("==", func(t *Thread, self, arg Value) (Value, error) { return self == arg, nil })
	s.def1("<=>", func(t *Thread, self, arg Value) (Value, error) {
		other, ok := arg.(string)
		if !ok {
			return nil, nil
		}
		return int64(strings.Compare(self.(string), other)), nil
	})
	s.def1("<", stringCompare(func(c int) bool { return c < 0 }))
	s.def1(">", stringCompare(func(c int) bool { return c > 0 }))
	s.def0("to_s", func(t *Thread, self Value) (Value, error) { return self, nil })
	s.def0("to_str", func(t *Thread, self Value) (Value, error) { return self, nil })
	s.def0("inspect", func(t *Thread, self Value) (Value, error) { return strconv.Quote(self.(string)), nil })
	s.def0("to_sym", func(t *Thread, self Value) (Value, error) { return Symbol(self.(string)), nil })
	s.def0("hash", func(t *Thread, self Value) (Value, error) { return self, nil })
	length := func(t *Thread, self Value) (Value, error) {
		return int64(utf8.RuneCountInString(self.(string))), nil
	}
	s.def0("length", length)
	s.def0("size", length)
	s.def0("empty?", func(t *Thread, self Value) (Value, error) { return self.(string) == "", nil })
	s.def0("upcase", func(t *Thread, self Value) (Value, error) { return strings.ToUpper(self.(string)), nil })
	s.def0("downcase", func(t *Thread, self Value) (Value, error) { return strings.ToLower(self.(string)), nil })
	s.def0("capitalize", func(t *Thread, self Value) (Value, error) {
		str := self.(string)
		if str == "" {
			return str, nil
		}
		r, n := utf8.DecodeRuneInString(str)
		return strings.ToUpper(string(r)) + strings.ToLower(str[n:]), nil
	})
	s.def0("strip", func(t *Thread, self Value) (Value, error) { return strings.TrimSpace(self.(string)), nil })
	s.def0("reverse", func(t *Thread, self Value) (Value, error) {
		r := []rune(self.(string))
		for i, j := 0, len(r)-1; i < j; i, j = i+1, j-1 {
			r[i], r[j] = r[j], r[i]
		}
		return string(r), nil
	})
	s.def0("chars", func(t *Thread, self Value) (Value, error) {
		arr := &Array{}
		for _, r := range self.(string) {
			arr.Elems = append(arr.Elems, string(r))
		}
		return arr, nil
	})
	s.def0("to_i", func(t *Thread, self Value) (Value, error) { return parseLeadingInt(self.(string)), nil })
	s.def0("to_f", func(t *Thread, self Value) (Value, error) {
		str := strings.TrimSpace(self.(string))
		for end := len(str); end > 0; end-- {
			if f, err := strconv.ParseFloat(str[:end], 64); err == nil {
				return f, nil
			}
		}
		return 0.0, nil
	})
	s.def1("include?", func(t *Thread, self, arg Value) (Value, error) {
		sub, ok := arg.(string)
		if !ok {
			return nil, t.rt.typeError(arg, "String")
		}
		return strings.Contains(self.(string), sub), nil
	})
	s.def1("start_with?", func(t *Thread, self, arg Value) (Value, error) {
		p, ok := arg.(string)
		return ok && strings.HasPrefix(self.(string), p), nil
	})
	s.def1("end_with?", func(t *Thread, self, arg Value) (Value, error) {
		p, ok := arg.(string)
		return ok && strings.HasSuffix(self.(string), p), nil
	})
	s.def1("[]", func(t *Thread, self, arg Value) (Value, error) {
		i, ok := arg.(int64)
		if !ok {
			return nil, t.rt.typeError(arg, "Integer")
		}
		r := []rune(self.(string))
		if i < 0 {
			i += int64(len(r))
		}
		if i < 0 || i >= int64(len(r)) {
			return nil, nil
		}
		return string(r[i]), nil
	})
	s.defN("split", -1, func(t *Thread, self Value, args []Value, blk *Proc) (Value, error) {
		if err := t.rt.checkArgs(args, 0, 1); err != nil {
			return nil, err
		}
		str := self.(string)
		var parts []string
		switch sep := optArg(args, 0).(type) {
		case nil:
			parts = strings.Fields(str)
		case string:
			if sep == " " {
				parts = strings.Fields(str)
			} else {
				parts = strings.Split(str, sep)
			}
		case *Regexp:
			parts = sep.re.Split(str, -1)
		default:
			return nil, t.rt.typeError(sep, "String")
		}
		for len(parts) > 0 && parts[len(parts)-1] == "" {
			parts = parts[:len(parts)-1]
		}
		arr := &Array{Elems: make([]Value, len(parts))}
		for i, p := range parts {
			arr.Elems[i] = p
		}
		return arr, nil
	})

	// Pattern matching. These set $~ in the calling frame.
	s.def1("=~", func(t *Thread, self, arg Value) (Value, error) {
		re, ok := arg.(*Regexp)
		if !ok {
			return nil, t.rt.NewError(t.rt.TypeError, "wrong argument type %s (expected Regexp)", t.rt.ClassOf(arg).Name)
		}
		return t.matchIndex(re, self.(string)), nil
	})
	s.def1("match", func(t *Thread, self, arg Value) (Value, error) {
		re, err := t.rt.compileRegexp(arg)
		if err != nil {
			return nil, err
		}
		return t.matchData(re, self.(string)), nil
	})
	s.def1("match?", func(t *Thread, self, arg Value) (Value, error) {
		re, err := t.rt.compileRegexp(arg)
		if err != nil {
			return nil, err
		}
		return re.re.MatchString(self.(string)), nil
	})
	s.defN("sub", -1, func(t *Thread, self Value, args []Value, blk *Proc) (Value, error) {
		return t.substitute(self.(string), args, blk, false)
	})
	s.defN("gsub", -1, func(t *Thread, self Value, args []Value, blk *Proc) (Value, error) {
		return t.substitute(self.(string), args, blk, true)
	})
	s.def1("scan", func(t *Thread, self, arg Value) (Value, error) {
		re, err := t.rt.patternRegexp(arg)
		if err != nil {
			return nil, err
		}
		str := self.(string)
		arr := &Array{}
		var last *MatchData
		for _, loc := range re.re.FindAllStringSubmatchIndex(str, -1) {
			last = newMatchData(str, loc)
			if len(last.Groups) == 1 {
				arr.Elems = append(arr.Elems, last.Groups[0])
			} else {
				arr.Elems = append(arr.Elems, NewArray(append([]Value(nil), last.Groups[1:]...)...))
			}
		}
		t.setBackref(last)
		return arr, nil
	})

	sym := rt.Symbol
	sym.def0("to_s", func(t *Thread, self Value) (Value, error) { return string(self.(Symbol)), nil })
	sym.def0("to_sym", func(t *Thread, self Value) (Value, error) { return self, nil })
	sym.def0("to_proc", func(t *Thread, self Value) (Value, error) { return t.rt.symbolProc(self.(Symbol)), nil })
	sym.def0("length", func(t *Thread, self Value) (Value, error) {
		return int64(utf8.RuneCountInString(string(self.(Symbol)))), nil
	})
	sym.def1("<=>", func(t *Thread, self, arg Value) (Value, error) {
		other, ok := arg.(Symbol)
		if !ok {
			return nil, nil
		}
		return int64(strings.Compare(string(self.(Symbol)), string(other))), nil
	})

	re := rt.Regexp
	re.def1("=~", func(t *Thread, self, arg Value) (Value, error) {
		str, ok := arg.(string)
		if !ok {
			if arg == nil {
				t.setBackref(nil)
				return nil, nil
			}
			return nil, t.rt.typeError(arg, "String")
		}
		return t.matchIndex(self.(*Regexp), str), nil
	})
	re.def1("match", func(t *Thread, self, arg Value) (Value, error) {
		str, ok := arg.(string)
		if !ok {
			return nil, t.rt.typeError(arg, "String")
		}
		return t.matchData(self.(*Regexp), str), nil
	})
	re.def0("source", func(t *Thread, self Value) (Value, error) { return self.(*Regexp).Source, nil })
	re.def0("to_s", func(t *Thread, self Value) (Value, error) { return "(?-mix:" + self.(*Regexp).Source + ")", nil })

	md := rt.MatchData
	md.def1("[]", func(t *Thread, self, arg Value) (Value, error) {
		n, ok := arg.(int64)
		if !ok {
			return nil, t.rt.typeError(arg, "Integer")
		}
		return self.(*MatchData).Group(int(n)), nil
	})
	md.def0("to_a", func(t *Thread, self Value) (Value, error) {
		return NewArray(append([]Value(nil), self.(*MatchData).Groups...)...), nil
	})
	md.def0("captures", func(t *Thread, self Value) (Value, error) {
		g := self.(*MatchData).Groups
		return NewArray(append([]Value(nil), g[1:]...)...), nil
	})
	md.def0("to_s", func(t *Thread, self Value) (Value, error) {
		s, _ := self.(*MatchData).Group(0).(string)
		return s, nil
	})
}

func stringCompare(ok func(int) bool) func(t *Thread, self, arg Value) (Value, error) {
	return func(t *Thread, self, arg Value) (Value, error) {
		other, isStr := arg.(string)
		if !isStr {
			return nil, t.rt.NewError(t.rt.ArgumentError, "comparison of String with %s failed", t.rt.describe(arg))
		}
		return ok(strings.Compare(self.(string), other)), nil
	}
}

func parseLeadingInt(s string) int64 {
	s = strings.TrimSpace(s)
	end := 0
	if end < len(s) && (s[end] == '-' || s[end] == '+') {
		end++
	}
	for end < len(s) && (s[end] >= '0' && s[end] <= '9' || s[end] == '_') {
		end++
	}
	n, err := strconv.ParseInt(strings.ReplaceAll(s[:end], "_", ""), 10, 64)
	if err != nil {
		return 0
	}
	return n
}

// patternRegexp turns a string pattern into a literal regexp.
func (rt *Runtime) patternRegexp(v Value) (*Regexp, error) {
	if s, ok := v.(string); ok {
		return rt.compileRegexp(regexpQuote(s))
	}
	return rt.compileRegexp(v)
}

func regexpQuote(s string) string {
	var sb strings.Builder
	for _, r := range s {
		if strings.ContainsRune(`\.+*?()|[]{}^$`, r) {
			sb.WriteByte('\\')
		}
		sb.WriteRune(r)
	}
	return sb.String()
}

// setBackref stores a match result as the caller's $~.
func (t *Thread) setBackref(md *MatchData) {
	f := t.callerFrame()
	if f == nil {
		return
	}
	if md == nil {
		f.act.backref = nil
		return
	}
	f.act.backref = md
}

func (t *Thread) matchData(re *Regexp, s string) Value {
	loc := re.re.FindStringSubmatchIndex(s)
	if loc == nil {
		t.setBackref(nil)
		return nil
	}
	md := newMatchData(s, loc)
	t.setBackref(md)
	return md
}

func (t *Thread) matchIndex(re *Regexp, s string) Value {
	loc := re.re.FindStringSubmatchIndex(s)
	if loc == nil {
		t.setBackref(nil)
		return nil
	}
	t.setBackref(newMatchData(s, loc))
	return int64(utf8.RuneCountInString(s[:loc[0]]))
}

// substitute implements sub and gsub with a replacement string or a block.
func (t *Thread) substitute(s string, args []Value, blk *Proc, global bool) (Value, error) {
	rt := t.rt
	if blk == nil {
		if err := rt.checkArgs(args, 2, 2); err != nil {
			return nil, err
		}
	} else if err := rt.checkArgs(args, 1, 2); err != nil {
		return nil, err
	}
	re, err := rt.patternRegexp(args[0])
	if err != nil {
		return nil, err
	}
	var repl string
	if len(args) == 2 {
		if repl, err = t.toS(args[1]); err != nil {
			return nil, err
		}
	}

	matches := re.re.FindAllStringSubmatchIndex(s, -1)
	if !global && len(matches) > 1 {
		matches = matches[:1]
	}
	var sb strings.Builder
	prev := 0
	var last *MatchData
	for _, loc := range matches {
		sb.WriteString(s[prev:loc[0]])
		last = newMatchData(s, loc)
		if blk != nil && len(args) == 1 {
			t.setBackref(last)
			v, err := t.CallProc(blk, []Value{last.Groups[0]}, nil)
			if err != nil {
				return nil, err
			}
			str, err := t.toS(v)
			if err != nil {
				return nil, err
			}
			sb.WriteString(str)
		} else {
			sb.WriteString(expandReplacement(repl, last))
		}
		prev = loc[1]
	}
	sb.WriteString(s[prev:])
	t.setBackref(last)
	return sb.String(), nil
}

// expandReplacement substitutes \0..\9 group references.
func expandReplacement(repl string, md *MatchData) string {
	if !strings.Contains(repl, `\`) {
		return repl
	}
	var sb strings.Builder
	for i := 0; i < len(repl); i++ {
		c := repl[i]
		if c == '\\' && i+1 < len(repl) {
			next := repl[i+1]
			if next >= '0' && next <= '9' {
				g, _ := md.Group(int(next - '0')).(string)
				sb.WriteString(g)
				i++
				continue
			}
			if next == '\\' {
				sb.WriteByte('\\')
				i++
				continue
			}
		}
		sb.WriteByte(c)
	}
	return sb.String()
}
