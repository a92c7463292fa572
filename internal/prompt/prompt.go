// Package prompt reads answers for the setup wizard from a terminal or a plain reader.
package prompt

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"
)

var (
	headingStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#10B981"))
	hintStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#9CA3AF"))
	warnStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#F59E0B"))
)

// Prompter asks questions on Out and reads answers from In.
type Prompter struct {
	In      io.Reader
	Out     io.Writer
	scanner *bufio.Scanner
}

// Stdio returns a Prompter connected to stdin/stdout.
func Stdio() *Prompter {
	return &Prompter{In: os.Stdin, Out: os.Stdout}
}

func (p *Prompter) readLine() string {
	if p.scanner == nil {
		p.scanner = bufio.NewScanner(p.In)
	}
	if p.scanner.Scan() {
		return strings.TrimSpace(p.scanner.Text())
	}
	return ""
}

// Heading prints a styled section title.
func (p *Prompter) Heading(title string) {
	_, _ = fmt.Fprintln(p.Out, headingStyle.Render(title))
}

// Hint prints dimmed helper text.
func (p *Prompter) Hint(format string, args ...any) {
	_, _ = fmt.Fprintln(p.Out, hintStyle.Render(fmt.Sprintf(format, args...)))
}

// Warn prints a highlighted warning line.
func (p *Prompter) Warn(format string, args ...any) {
	_, _ = fmt.Fprintln(p.Out, warnStyle.Render(fmt.Sprintf(format, args...)))
}

// Ask prints a question with a default value and reads one line.
// An empty answer yields the default.
func (p *Prompter) Ask(question, defaultVal string) string {
	if defaultVal != "" {
		_, _ = fmt.Fprintf(p.Out, "%s [%s]: ", question, defaultVal)
	} else {
		_, _ = fmt.Fprintf(p.Out, "%s: ", question)
	}
	if line := p.readLine(); line != "" {
		return line
	}
	return defaultVal
}

// AskPassword reads a line without echo when In is a terminal and falls back
// to a plain read otherwise.
func (p *Prompter) AskPassword(question string) string {
	_, _ = fmt.Fprintf(p.Out, "%s: ", question)

	if f, ok := p.In.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		b, err := term.ReadPassword(int(f.Fd()))
		_, _ = fmt.Fprintln(p.Out)
		if err == nil {
			return strings.TrimSpace(string(b))
		}
	}
	return p.readLine()
}

// AskMin keeps asking until the answer has at least n characters. An empty
// answer with an empty default is returned as is so callers can generate one.
func (p *Prompter) AskMin(question string, n int, password bool) string {
	for {
		var ans string
		if password {
			ans = p.AskPassword(question)
		} else {
			ans = p.Ask(question, "")
		}
		if ans == "" || len(ans) >= n {
			return ans
		}
		p.Warn("  Must be at least %d characters.", n)
	}
}

// Choose presents a numbered list and returns the selected option.
func (p *Prompter) Choose(question string, options []string, defaultIdx int) string {
	_, _ = fmt.Fprintf(p.Out, "%s\n", question)
	for i, opt := range options {
		marker := "  "
		if i == defaultIdx {
			marker = "> "
		}
		_, _ = fmt.Fprintf(p.Out, "%s%d) %s\n", marker, i+1, opt)
	}
	for {
		ans := p.Ask("Choice", strconv.Itoa(defaultIdx+1))
		n, err := strconv.Atoi(ans)
		if err == nil && n >= 1 && n <= len(options) {
			return options[n-1]
		}
		p.Warn("  Please enter a number between 1 and %d.", len(options))
	}
}

// Confirm asks a yes/no question.
func (p *Prompter) Confirm(question string, defaultYes bool) bool {
	hint := "y/N"
	if defaultYes {
		hint = "Y/n"
	}
	ans := p.Ask(fmt.Sprintf("%s [%s]", question, hint), "")
	if ans == "" {
		return defaultYes
	}
	return strings.HasPrefix(strings.ToLower(ans), "y")
}
