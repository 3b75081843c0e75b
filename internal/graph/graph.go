// Package graph implements the stage graph executor.
//
// A graph is a set of named stages joined by edges. An edge is either unconditional or
// conditional: a predicate reads the state after the stage's patch has been merged and returns a
// label, and the label selects the next stage. Graphs are assembled with a Builder and validated
// once by Compile; a compiled Graph is immutable and safe to share between goroutines.
package graph

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/BTreeMap/CarePipe/internal/models"
)

// End is the terminal marker. An edge to End stops the traversal.
const End = "__end__"

// DefaultMaxSteps bounds a single traversal. The built-in topologies need at most a dozen steps.
const DefaultMaxSteps = 64

// Error variables for graph configuration and traversal failures.
var (
	ErrDuplicateStage = errors.New("stage already registered")
	ErrReservedName   = errors.New("stage name is reserved")
	ErrNilStage       = errors.New("stage function is nil")
	ErrUnknownStage   = errors.New("stage not registered")
	ErrNoEntry        = errors.New("entry stage not set")
	ErrDuplicateEdge  = errors.New("stage already has an outgoing edge")
	ErrMissingEdge    = errors.New("stage has no outgoing edge")
	ErrEmptyBranches  = errors.New("conditional edge has no branches")
	ErrNilPredicate   = errors.New("conditional edge has no predicate")
	ErrUnmappedLabel  = errors.New("route label has no mapped destination")
	ErrStepLimit      = errors.New("traversal exceeded step limit")
)

// ConfigError reports a malformed graph, either found by Compile or, for unmapped route labels,
// during a traversal.
type ConfigError struct {
	Graph string
	Stage string
	Label string
	Err   error
}

func (e *ConfigError) Error() string {
	msg := fmt.Sprintf("graph %q: stage %q: %v", e.Graph, e.Stage, e.Err)
	if e.Label != "" {
		msg += fmt.Sprintf(" (label %q)", e.Label)
	}
	return msg
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// StageFunc is one node of the graph. It reads the state and returns the fields it changed.
// A StageFunc must not modify the state it is given.
type StageFunc func(ctx context.Context, s *models.ConversationState) models.Patch

type edge struct {
	to       string
	route    func(*models.ConversationState) string
	branches map[string]string
}

func (e edge) conditional() bool {
	return e.route != nil || e.branches != nil
}

// Opts holds configuration options for a graph.
type Opts struct {
	MaxSteps int
}

// Option defines a configuration option for a graph.
type Option func(*Opts)

// WithMaxSteps overrides DefaultMaxSteps.
func WithMaxSteps(n int) Option {
	return func(o *Opts) {
		o.MaxSteps = n
	}
}

// Builder assembles a graph. Registration errors are collected and reported by Compile.
type Builder struct {
	name   string
	opts   Opts
	stages map[string]StageFunc
	order  []string
	edges  map[string]edge
	entry  string
	errs   []error
}

// NewBuilder creates an empty builder for a graph with the given name.
func NewBuilder(name string, opts ...Option) *Builder {
	cfg := Opts{MaxSteps: DefaultMaxSteps}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Builder{
		name:   name,
		opts:   cfg,
		stages: make(map[string]StageFunc),
		edges:  make(map[string]edge),
	}
}

func (b *Builder) fail(stage string, err error) {
	b.errs = append(b.errs, &ConfigError{Graph: b.name, Stage: stage, Err: err})
}

// AddStage registers a stage. Names must be unique and must not be End.
func (b *Builder) AddStage(name string, fn StageFunc) *Builder {
	switch {
	case name == End || name == "":
		b.fail(name, ErrReservedName)
	case b.stages[name] != nil:
		b.fail(name, ErrDuplicateStage)
	case fn == nil:
		b.fail(name, ErrNilStage)
	default:
		b.stages[name] = fn
		b.order = append(b.order, name)
	}
	return b
}

// SetEntry sets the stage a traversal starts from when Run is given an empty entry.
func (b *Builder) SetEntry(name string) *Builder {
	b.entry = name
	return b
}

// AddEdge adds an unconditional transition.
func (b *Builder) AddEdge(from, to string) *Builder {
	if _, ok := b.edges[from]; ok {
		b.fail(from, ErrDuplicateEdge)
		return b
	}
	b.edges[from] = edge{to: to}
	return b
}

// AddConditionalEdge adds a transition chosen by predicate. Each decision point declares its own
// label type so routes are named by constants rather than free strings.
func AddConditionalEdge[L ~string](b *Builder, from string, predicate func(*models.ConversationState) L, branches map[L]string) *Builder {
	if _, ok := b.edges[from]; ok {
		b.fail(from, ErrDuplicateEdge)
		return b
	}
	if predicate == nil {
		b.fail(from, ErrNilPredicate)
		return b
	}
	if len(branches) == 0 {
		b.fail(from, ErrEmptyBranches)
		return b
	}
	mapped := make(map[string]string, len(branches))
	for label, to := range branches {
		mapped[string(label)] = to
	}
	b.edges[from] = edge{
		route:    func(s *models.ConversationState) string { return string(predicate(s)) },
		branches: mapped,
	}
	return b
}

// Compile validates the graph and returns an immutable executor. Every stage must have exactly
// one outgoing edge and every edge must lead to a registered stage or End.
func (b *Builder) Compile() (*Graph, error) {
	errs := slices.Clone(b.errs)
	known := func(name string) bool {
		return name == End || b.stages[name] != nil
	}

	if b.entry == "" {
		errs = append(errs, &ConfigError{Graph: b.name, Err: ErrNoEntry})
	} else if b.stages[b.entry] == nil {
		errs = append(errs, &ConfigError{Graph: b.name, Stage: b.entry, Err: ErrUnknownStage})
	}

	for _, name := range b.order {
		if _, ok := b.edges[name]; !ok {
			errs = append(errs, &ConfigError{Graph: b.name, Stage: name, Err: ErrMissingEdge})
		}
	}
	for from, e := range b.edges {
		if b.stages[from] == nil {
			errs = append(errs, &ConfigError{Graph: b.name, Stage: from, Err: ErrUnknownStage})
			continue
		}
		if !e.conditional() {
			if !known(e.to) {
				errs = append(errs, &ConfigError{Graph: b.name, Stage: e.to, Err: fmt.Errorf("edge from %q: %w", from, ErrUnknownStage)})
			}
			continue
		}
		for label, to := range e.branches {
			if !known(to) {
				errs = append(errs, &ConfigError{Graph: b.name, Stage: to, Label: label, Err: fmt.Errorf("branch from %q: %w", from, ErrUnknownStage)})
			}
		}
	}

	if len(errs) > 0 {
		slog.Error("Graph.Compile: invalid graph", "graph", b.name, "errors", len(errs))
		return nil, errors.Join(errs...)
	}

	g := &Graph{
		name:     b.name,
		entry:    b.entry,
		maxSteps: b.opts.MaxSteps,
		stages:   make(map[string]StageFunc, len(b.stages)),
		edges:    make(map[string]edge, len(b.edges)),
		order:    slices.Clone(b.order),
	}
	for k, v := range b.stages {
		g.stages[k] = v
	}
	for k, v := range b.edges {
		g.edges[k] = v
	}
	slog.Debug("Graph.Compile: graph compiled", "graph", g.name, "stages", len(g.stages), "entry", g.entry)
	return g, nil
}

// Graph is a compiled, validated stage graph.
type Graph struct {
	name     string
	entry    string
	maxSteps int
	stages   map[string]StageFunc
	edges    map[string]edge
	order    []string
}

// Name returns the graph name.
func (g *Graph) Name() string {
	return g.name
}

// Entry returns the default entry stage.
func (g *Graph) Entry() string {
	return g.entry
}

// Stages returns the registered stage names in registration order.
func (g *Graph) Stages() []string {
	return slices.Clone(g.order)
}

// Run traverses the graph from entry (or the default entry when empty) over a copy of state.
// Each step invokes the stage, merges its patch, appends the stage name to RouteTaken and
// resolves the next stage. The returned state is the merged result; the caller's state is
// never modified.
func (g *Graph) Run(ctx context.Context, entry string, state models.ConversationState) (models.ConversationState, error) {
	if entry == "" {
		entry = g.entry
	}
	if g.stages[entry] == nil {
		return state, &ConfigError{Graph: g.name, Stage: entry, Err: ErrUnknownStage}
	}

	s := state.Clone()
	current := entry
	for step := 0; ; step++ {
		if step >= g.maxSteps {
			slog.Error("Graph.Run: step limit exceeded", "graph", g.name, "stage", current, "max_steps", g.maxSteps)
			return s, &ConfigError{Graph: g.name, Stage: current, Err: ErrStepLimit}
		}

		patch := g.stages[current](ctx, &s)
		s.Apply(patch)
		s.RouteTaken = append(s.RouteTaken, current)

		next, err := g.next(current, &s)
		if err != nil {
			slog.Error("Graph.Run: routing failed", "graph", g.name, "stage", current, "error", err)
			return s, err
		}
		slog.Debug("Graph.Run: stage completed", "graph", g.name, "stage", current, "next", next)
		if next == End {
			return s, nil
		}
		current = next
	}
}

func (g *Graph) next(from string, s *models.ConversationState) (string, error) {
	e := g.edges[from]
	if !e.conditional() {
		return e.to, nil
	}
	label := e.route(s)
	to, ok := e.branches[label]
	if !ok {
		return "", &ConfigError{Graph: g.name, Stage: from, Label: label, Err: ErrUnmappedLabel}
	}
	return to, nil
}
