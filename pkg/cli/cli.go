// Package cli is a small option parser and help-page generator for the
// compiler's command line tools.
package cli

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"

	"golang.org/x/term"
)

type Value interface {
	String() string
	Set(string) error
}

type stringValue struct{ p *string }

func (v *stringValue) Set(s string) error { *v.p = s; return nil }
func (v *stringValue) String() string     { return *v.p }

type boolValue struct{ p *bool }

func (v *boolValue) Set(s string) error {
	if s == "" {
		*v.p = true
		return nil
	}
	val, err := strconv.ParseBool(s)
	if err != nil {
		return fmt.Errorf("invalid boolean value '%s': %w", s, err)
	}
	*v.p = val
	return nil
}
func (v *boolValue) String() string { return strconv.FormatBool(*v.p) }

type intValue struct{ p *int }

func (v *intValue) Set(s string) error {
	val, err := strconv.Atoi(s)
	if err != nil {
		return fmt.Errorf("invalid integer value '%s': %w", s, err)
	}
	*v.p = val
	return nil
}
func (v *intValue) String() string { return strconv.Itoa(*v.p) }

type Flag struct {
	Name      string
	Shorthand string
	Usage     string
	Value     Value
	DefValue  string
	Metavar   string
}

type FlagSet struct {
	name       string
	flags      map[string]*Flag
	shorthands map[string]*Flag
	args       []string
}

func NewFlagSet(name string) *FlagSet {
	return &FlagSet{
		name:       name,
		flags:      make(map[string]*Flag),
		shorthands: make(map[string]*Flag),
	}
}

// Args returns the positional arguments left over after Parse.
func (f *FlagSet) Args() []string { return f.args }

func (f *FlagSet) String(p *string, name, shorthand, value, usage, metavar string) {
	*p = value
	f.Var(&stringValue{p}, name, shorthand, usage, value, metavar)
}

func (f *FlagSet) Bool(p *bool, name, shorthand string, value bool, usage string) {
	*p = value
	f.Var(&boolValue{p}, name, shorthand, usage, strconv.FormatBool(value), "")
}

func (f *FlagSet) Int(p *int, name, shorthand string, value int, usage, metavar string) {
	*p = value
	f.Var(&intValue{p}, name, shorthand, usage, strconv.Itoa(value), metavar)
}

func (f *FlagSet) Var(value Value, name, shorthand, usage, defValue, metavar string) {
	if name == "" {
		panic("flag name cannot be empty")
	}
	flag := &Flag{Name: name, Shorthand: shorthand, Usage: usage, Value: value, DefValue: defValue, Metavar: metavar}
	if _, ok := f.flags[name]; ok {
		panic(fmt.Sprintf("flag redefined: %s", name))
	}
	f.flags[name] = flag
	if shorthand != "" {
		if _, ok := f.shorthands[shorthand]; ok {
			panic(fmt.Sprintf("shorthand flag redefined: %s", shorthand))
		}
		f.shorthands[shorthand] = flag
	}
}

func (f *FlagSet) Lookup(name string) *Flag { return f.flags[name] }

func (f *FlagSet) Parse(arguments []string) error {
	f.args = []string{}
	for i := 0; i < len(arguments); i++ {
		arg := arguments[i]
		if len(arg) < 2 || arg[0] != '-' {
			f.args = append(f.args, arg)
			continue
		}
		if arg == "--" {
			f.args = append(f.args, arguments[i+1:]...)
			break
		}

		var flag *Flag
		var inline string
		var hasInline bool
		if strings.HasPrefix(arg, "--") {
			name := arg[2:]
			if eq := strings.IndexByte(name, '='); eq >= 0 {
				name, inline, hasInline = name[:eq], name[eq+1:], true
			}
			flag = f.flags[name]
			if flag == nil {
				return fmt.Errorf("unknown flag: --%s", name)
			}
		} else {
			short := arg[1:2]
			flag = f.shorthands[short]
			if flag == nil {
				return fmt.Errorf("unknown flag: -%s", short)
			}
			if rest := arg[2:]; rest != "" {
				inline, hasInline = strings.TrimPrefix(rest, "="), true
			}
		}

		if hasInline {
			if err := flag.Value.Set(inline); err != nil {
				return err
			}
			continue
		}
		if _, isBool := flag.Value.(*boolValue); isBool {
			if err := flag.Value.Set(""); err != nil {
				return err
			}
			continue
		}
		if i+1 >= len(arguments) {
			return fmt.Errorf("flag needs an argument: %s", arg)
		}
		i++
		if err := flag.Value.Set(arguments[i]); err != nil {
			return err
		}
	}
	return nil
}

type App struct {
	Name        string
	Synopsis    string
	Description string
	FlagSet     *FlagSet
	Action      func(args []string) error
}

func NewApp(name string) *App {
	return &App{Name: name, FlagSet: NewFlagSet(name)}
}

func (a *App) Run(arguments []string) error {
	help := false
	a.FlagSet.Bool(&help, "help", "h", false, "Display this information")

	if err := a.FlagSet.Parse(arguments); err != nil {
		fmt.Fprintln(os.Stderr, err)
		fmt.Fprintf(os.Stderr, "Run '%s --help' for available options.\n", a.Name)
		return err
	}
	if help {
		a.printHelp(os.Stdout)
		return nil
	}
	if a.Action != nil {
		return a.Action(a.FlagSet.Args())
	}
	return nil
}

func (a *App) printHelp(w *os.File) {
	var sb strings.Builder
	width := terminalWidth()

	fmt.Fprintf(&sb, "Usage: %s %s\n", a.Name, a.Synopsis)
	if a.Description != "" {
		sb.WriteString("\n")
		for _, line := range wrapText(a.Description, width-2) {
			fmt.Fprintf(&sb, "  %s\n", line)
		}
	}

	flags := make([]*Flag, 0, len(a.FlagSet.flags))
	for _, flag := range a.FlagSet.flags {
		flags = append(flags, flag)
	}
	sort.Slice(flags, func(i, j int) bool { return flags[i].Name < flags[j].Name })

	left := make([]string, len(flags))
	maxLeft := 0
	for i, flag := range flags {
		left[i] = formatFlag(flag)
		if len(left[i]) > maxLeft {
			maxLeft = len(left[i])
		}
	}

	sb.WriteString("\nOptions\n")
	for i, flag := range flags {
		usage := flag.Usage
		if flag.DefValue != "" && flag.DefValue != "false" {
			usage += fmt.Sprintf(" (default %s)", flag.DefValue)
		}
		avail := width - maxLeft - 5
		if avail < 10 {
			avail = 10
		}
		lines := wrapText(usage, avail)
		if len(lines) == 0 {
			lines = []string{""}
		}
		fmt.Fprintf(&sb, "  %-*s  %s\n", maxLeft, left[i], lines[0])
		for _, line := range lines[1:] {
			fmt.Fprintf(&sb, "  %-*s  %s\n", maxLeft, "", line)
		}
	}
	fmt.Fprint(w, sb.String())
}

func formatFlag(flag *Flag) string {
	var sb strings.Builder
	if flag.Shorthand != "" {
		fmt.Fprintf(&sb, "-%s, ", flag.Shorthand)
	} else {
		sb.WriteString("    ")
	}
	fmt.Fprintf(&sb, "--%s", flag.Name)
	if flag.Metavar != "" {
		fmt.Fprintf(&sb, " <%s>", flag.Metavar)
	}
	return sb.String()
}

func terminalWidth() int {
	width, _, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil || width < 20 {
		return 80
	}
	return width
}

func wrapText(text string, maxWidth int) []string {
	words := strings.Fields(text)
	if len(words) == 0 {
		return nil
	}
	var lines []string
	var current strings.Builder
	for _, word := range words {
		if current.Len() > 0 && current.Len()+1+len(word) > maxWidth {
			lines = append(lines, current.String())
			current.Reset()
		}
		if current.Len() > 0 {
			current.WriteString(" ")
		}
		current.WriteString(word)
	}
	if current.Len() > 0 {
		lines = append(lines, current.String())
	}
	return lines
}
