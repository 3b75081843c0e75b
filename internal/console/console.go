// Package console runs an interactive chat session on a terminal.
package console

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/BTreeMap/CarePipe/internal/flow"
	"github.com/BTreeMap/CarePipe/internal/models"
	"github.com/mattn/go-isatty"
)

const (
	bold   = "\033[1m"
	green  = "\033[92m"
	red    = "\033[91m"
	cyan   = "\033[96m"
	reset  = "\033[0m"
	rule   = "============================================================"
	byeMsg = "Goodbye! Have a great day."
)

var quitWords = map[string]bool{"quit": true, "exit": true, "q": true, "bye": true}

// Turner runs one conversation turn. *flow.Session implements it.
type Turner interface {
	Turn(ctx context.Context, input string) (flow.TurnResult, error)
}

// Opts holds configuration options for the console.
type Opts struct {
	In         io.Reader
	Out        io.Writer
	ClinicName string
	Model      string
	Greeting   string
	Color      *bool // nil detects a terminal on Out
}

// Option defines a configuration option for the console.
type Option func(*Opts)

// WithIO sets the input and output streams.
func WithIO(in io.Reader, out io.Writer) Option {
	return func(o *Opts) {
		o.In = in
		o.Out = out
	}
}

// WithBanner sets the clinic name and model shown in the banner.
func WithBanner(clinicName, model string) Option {
	return func(o *Opts) {
		o.ClinicName = clinicName
		o.Model = model
	}
}

// WithGreeting sets the first assistant message.
func WithGreeting(greeting string) Option {
	return func(o *Opts) {
		o.Greeting = greeting
	}
}

// WithColor forces ANSI colors on or off.
func WithColor(enabled bool) Option {
	return func(o *Opts) {
		o.Color = &enabled
	}
}

// Console reads patient lines and prints assistant replies until the patient quits.
type Console struct {
	session Turner
	in      io.Reader
	out     io.Writer
	opts    Opts
	color   bool
}

// New creates a console over session. Streams default to stdin and stdout.
func New(session Turner, opts ...Option) *Console {
	cfg := Opts{In: os.Stdin, Out: os.Stdout}
	for _, opt := range opts {
		opt(&cfg)
	}
	color := detectColor(cfg.Out)
	if cfg.Color != nil {
		color = *cfg.Color
	}
	return &Console{session: session, in: cfg.In, out: cfg.Out, opts: cfg, color: color}
}

// detectColor enables ANSI colors for terminals unless NO_COLOR is set.
func detectColor(w io.Writer) bool {
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

func (c *Console) paint(code, s string) string {
	if !c.color {
		return s
	}
	return code + s + reset
}

func (c *Console) banner() {
	name := c.opts.ClinicName
	if name == "" {
		name = flow.DefaultClinicName
	}
	fmt.Fprintf(c.out, "\n%s\n  %s\n%s\n", rule, c.paint(bold+green, name+" — Appointment Assistant"), rule)
	if c.opts.Model != "" {
		fmt.Fprintf(c.out, "  Model: %s\n", c.opts.Model)
	}
	fmt.Fprintf(c.out, "  Type 'quit' to exit\n%s\n\n", rule)
}

func (c *Console) assistant(msg string, status models.Status) {
	if status == models.StatusEscalate {
		msg = c.paint(red, msg)
	}
	fmt.Fprintf(c.out, "\n  %s %s\n\n", c.paint(cyan, "Assistant:"), msg)
}

func (c *Console) prompt() {
	fmt.Fprintf(c.out, "  %s ", c.paint(bold, "You:"))
}

// Run drives the session. It returns nil when the patient quits or input ends, the context error
// on cancellation, and any read or turn error otherwise.
func (c *Console) Run(ctx context.Context) error {
	c.banner()
	if c.opts.Greeting != "" {
		c.assistant(c.opts.Greeting, "")
	}

	scanner := bufio.NewScanner(c.in)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		c.prompt()
		if !scanner.Scan() {
			fmt.Fprintf(c.out, "\n  %s\n\n", byeMsg)
			if err := scanner.Err(); err != nil {
				return fmt.Errorf("failed to read input: %w", err)
			}
			return nil
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if quitWords[strings.ToLower(line)] {
			fmt.Fprintf(c.out, "\n  %s\n\n", byeMsg)
			return nil
		}

		res, err := c.session.Turn(ctx, line)
		if err != nil {
			slog.Error("Console.Run: turn failed", "error", err)
			c.assistant("Sorry, something went wrong on our side. Please contact the clinic directly.", models.StatusEscalate)
			return err
		}
		if res.Reply != "" {
			c.assistant(res.Reply, res.Status)
		}
		slog.Debug("Console.Run: turn complete", "route", res.Route, "status", res.Status, "done", res.Done)
	}
}
