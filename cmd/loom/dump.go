package main

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/weftlang/loom/pkg/image"
)

// runDump handles the `loom dump` subcommand.
func runDump(args []string) {
	fs := flag.NewFlagSet("loom dump", flag.ExitOnError)
	code := fs.Bool("code", true, "Disassemble method bodies")
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: loom dump [options] <module.weft>\n\n")
		fmt.Fprintf(os.Stderr, "Prints the classes, methods and properties of a module image together\nwith a disassembly of every method body.\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		fs.PrintDefaults()
	}
	fs.Parse(args)

	if fs.NArg() != 1 {
		fs.Usage()
		os.Exit(2)
	}

	mod, err := image.LoadFile(fs.Arg(0))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("module %s (%d classes, %d strings, %d method refs)\n",
		mod.Name, len(mod.Classes), len(mod.Strings), len(mod.MethodRefs))
	if mod.HasSymbols {
		fmt.Println("debug symbols: present")
	}
	for _, c := range mod.Classes {
		fmt.Println()
		dumpClass(mod, c, *code)
	}
}

func dumpClass(mod *image.Module, c *image.Class, code bool) {
	header := "class " + c.FullName()
	if c.Super != nil {
		header += " : " + c.Super.String()
	}
	fmt.Println(header + formatAnnotations(c.Annotations))

	for _, p := range c.Properties {
		fmt.Printf("  property %s%s\n", p.Name, formatAnnotations(p.Annotations))
		if p.Getter != nil {
			fmt.Printf("    getter %s\n", p.Getter.Name)
		}
		if p.Setter != nil {
			fmt.Printf("    setter %s\n", p.Setter.Name)
		}
	}

	for _, m := range c.Methods {
		sig := fmt.Sprintf("  method %s/%d %s", m.Name, m.Arity(), m.Visibility)
		if !m.HasBody() {
			sig += " (no body)"
		}
		fmt.Println(sig + formatAnnotations(m.Annotations))
		if code && m.HasBody() {
			fmt.Print(indent(m.Body.Disassemble(mod), "    "))
		}
	}

	for _, n := range c.Nested {
		fmt.Println()
		dumpClass(mod, n, code)
	}
}

// formatAnnotations renders an annotation list as " [name(args), name]".
func formatAnnotations(list image.AnnotationList) string {
	if len(list) == 0 {
		return ""
	}
	parts := make([]string, 0, len(list))
	for _, a := range list {
		parts = append(parts, formatAnnotation(a))
	}
	return " [" + strings.Join(parts, ", ") + "]"
}

func formatAnnotation(a image.Annotation) string {
	if len(a.Args) == 0 {
		return a.Name
	}
	args := make([]string, 0, len(a.Args))
	for _, v := range a.Args {
		args = append(args, formatValue(v))
	}
	return a.Name + "(" + strings.Join(args, ", ") + ")"
}

func formatValue(v image.Value) string {
	switch v.Kind {
	case image.KindNull:
		return "null"
	case image.KindString:
		return fmt.Sprintf("%q", v.Str)
	case image.KindSymbol:
		return v.Str
	case image.KindList:
		return "[" + strings.Join(v.List, ", ") + "]"
	}
	return "?"
}

// indent prefixes every non-empty line of s.
func indent(s, prefix string) string {
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	var sb strings.Builder
	for _, line := range lines {
		if line != "" {
			sb.WriteString(prefix)
			sb.WriteString(line)
		}
		sb.WriteByte('\n')
	}
	return sb.String()
}
