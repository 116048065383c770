package casa

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Statement is one line (or block) of a generated casa script.
type Statement interface {
	Python() string
}

// Arg is a keyword argument of a task call.
type Arg struct {
	Name  string
	Value any
}

// Call is a casa task invocation such as gaincal(vis='a.ms', ...).
type Call struct {
	Task string
	Args []Arg
}

// NewCall builds a Call from alternating name/value pairs.
func NewCall(task string, kv ...any) Call {
	c := Call{Task: task}
	for i := 0; i+1 < len(kv); i += 2 {
		c.Args = append(c.Args, Arg{Name: kv[i].(string), Value: kv[i+1]})
	}
	return c
}

// With appends a keyword argument.
func (c Call) With(name string, value any) Call {
	c.Args = append(append([]Arg(nil), c.Args...), Arg{Name: name, Value: value})
	return c
}

// Python renders the call.
func (c Call) Python() string {
	parts := make([]string, len(c.Args))
	for i, a := range c.Args {
		parts[i] = a.Name + "=" + PyLiteral(a.Value)
	}
	return c.Task + "(" + strings.Join(parts, ", ") + ")"
}

// Code is a verbatim Python statement.
type Code string

// Python returns the code unchanged.
func (c Code) Python() string { return string(c) }

// resultMarker prefixes the JSON line a probe prints.
const resultMarker = "__SELFCAL_RESULT__"

// errorMarker prefixes the message printed when a statement raises.
const errorMarker = "__SELFCAL_ERROR__"

// ResultProbe prints the JSON encoding of expr so Runner.Probe can read it.
func ResultProbe(expr string) Code {
	return Code(fmt.Sprintf("print(%s + ' ' + json.dumps(%s))", PyLiteral(resultMarker), expr))
}

// PyLiteral renders a Go value as a Python literal. Supported are strings,
// bools, integers, floats, nil and slices of those (nested to any depth).
func PyLiteral(v any) string {
	switch x := v.(type) {
	case nil:
		return "None"
	case string:
		return pyString(x)
	case bool:
		if x {
			return "True"
		}
		return "False"
	case int:
		return strconv.Itoa(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case float64:
		return pyFloat(x)
	case float32:
		return pyFloat(float64(x))
	case []string:
		parts := make([]string, len(x))
		for i, s := range x {
			parts[i] = pyString(s)
		}
		return "[" + strings.Join(parts, ", ") + "]"
	case []int:
		parts := make([]string, len(x))
		for i, n := range x {
			parts[i] = strconv.Itoa(n)
		}
		return "[" + strings.Join(parts, ", ") + "]"
	case []float64:
		parts := make([]string, len(x))
		for i, f := range x {
			parts[i] = pyFloat(f)
		}
		return "[" + strings.Join(parts, ", ") + "]"
	case [][]int:
		parts := make([]string, len(x))
		for i, s := range x {
			parts[i] = PyLiteral(s)
		}
		return "[" + strings.Join(parts, ", ") + "]"
	case []any:
		parts := make([]string, len(x))
		for i, e := range x {
			parts[i] = PyLiteral(e)
		}
		return "[" + strings.Join(parts, ", ") + "]"
	default:
		panic(fmt.Sprintf("casa: no Python literal for %T", v))
	}
}

func pyString(s string) string {
	var b strings.Builder
	b.WriteByte('\'')
	for _, r := range s {
		switch r {
		case '\\':
			b.WriteString(`\\`)
		case '\'':
			b.WriteString(`\'`)
		case '\n':
			b.WriteString(`\n`)
		case '\r':
			b.WriteString(`\r`)
		case '\t':
			b.WriteString(`\t`)
		default:
			b.WriteRune(r)
		}
	}
	b.WriteByte('\'')
	return b.String()
}

func pyFloat(f float64) string {
	switch {
	case math.IsNaN(f):
		return "float('nan')"
	case math.IsInf(f, 1):
		return "float('inf')"
	case math.IsInf(f, -1):
		return "float('-inf')"
	}
	s := strconv.FormatFloat(f, 'g', -1, 64)
	if !strings.ContainsAny(s, ".eE") {
		s += ".0"
	}
	return s
}

// RenderScript wraps the statements in a script that exits non-zero and
// prints an error marker if any statement raises.
func RenderScript(stmts ...Statement) string {
	var b strings.Builder
	b.WriteString("import json\nimport sys\n\ntry:\n")
	if len(stmts) == 0 {
		b.WriteString("    pass\n")
	}
	for _, s := range stmts {
		for _, line := range strings.Split(s.Python(), "\n") {
			b.WriteString("    ")
			b.WriteString(line)
			b.WriteByte('\n')
		}
	}
	b.WriteString("except Exception as exc:\n")
	fmt.Fprintf(&b, "    print(%s + ' ' + str(exc))\n", PyLiteral(errorMarker))
	b.WriteString("    sys.exit(1)\n")
	return b.String()
}

// Task call builders. Optional string arguments are only passed when set so
// casa applies its own defaults.

func (p GainCalParams) call() Call {
	c := NewCall("gaincal", "vis", p.Vis, "caltable", p.Caltable)
	c = withOptional(c, "field", p.Field)
	c = withOptional(c, "spw", p.Spw)
	c = withOptional(c, "uvrange", p.UVRange)
	c = c.With("gaintype", p.GainType).
		With("refant", p.Refant).
		With("calmode", p.CalMode)
	c = withOptional(c, "combine", p.Combine)
	c = c.With("solint", p.Solint).
		With("minsnr", p.MinSNR).
		With("minblperant", p.MinBlPerAnt)
	if len(p.GainTable) > 0 {
		c = c.With("gaintable", p.GainTable)
		if len(p.SpwMap) > 0 {
			c = c.With("spwmap", p.SpwMap)
		}
	}
	if p.Solnorm {
		c = c.With("solnorm", true)
	}
	return c
}

func (p ApplyCalParams) call() Call {
	c := NewCall("applycal", "vis", p.Vis)
	c = withOptional(c, "field", p.Field)
	c = withOptional(c, "spw", p.Spw)
	c = c.With("gaintable", p.GainTable)
	if len(p.GainField) > 0 {
		c = c.With("gainfield", p.GainField)
	}
	if len(p.SpwMap) > 0 {
		c = c.With("spwmap", p.SpwMap)
	}
	c = withOptional(c, "interp", p.Interp)
	c = withOptional(c, "applymode", p.ApplyMode)
	return c.With("calwt", false).With("flagbackup", false)
}

func (p FlagDataParams) call() Call {
	c := NewCall("flagdata", "vis", p.Vis, "mode", p.Mode)
	c = withOptional(c, "field", p.Field)
	c = withOptional(c, "spw", p.Spw)
	c = withOptional(c, "datacolumn", p.DataColumn)
	if p.TimeDevScale > 0 {
		c = c.With("timedevscale", p.TimeDevScale)
	}
	if p.FreqDevScale > 0 {
		c = c.With("freqdevscale", p.FreqDevScale)
	}
	action := p.Action
	if action == "" {
		action = "apply"
	}
	return c.With("action", action).With("flagbackup", p.FlagBackup)
}

func (p PlotCalParams) call() Call {
	c := NewCall("plotms", "vis", p.Caltable, "xaxis", p.XAxis, "yaxis", p.YAxis)
	if len(p.PlotRange) > 0 {
		c = c.With("plotrange", p.PlotRange)
	}
	if p.FigFile != "" {
		c = c.With("plotfile", p.FigFile).With("showgui", false).With("overwrite", true)
	}
	return c
}

func withOptional(c Call, name, value string) Call {
	if value == "" {
		return c
	}
	return c.With(name, value)
}
