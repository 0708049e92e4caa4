package bytecompat

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
)

// Transformer rewrites class files against the rules loaded into it. It is
// safe for concurrent use: Transform always works on the most recently
// published rule table and never waits for LoadRules.
type Transformer struct {
	table atomic.Pointer[ruleTable]
	mu    sync.Mutex // held by LoadRules

	log         *slog.Logger
	locator     Locator
	recipes     map[string]Recipe
	concurrency int
}

// Option configures a Transformer.
type Option func(*Transformer)

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(log *slog.Logger) Option {
	return func(t *Transformer) {
		t.log = log
	}
}

// WithLocator sets the type locator used to order candidates and to find
// common superclasses while recomputing stack map frames. Without one, only
// code whose control flow never merges different reference types can be
// rewritten in class files of version 50 and above.
func WithLocator(locator Locator) Option {
	return func(t *Transformer) {
		t.locator = locator
	}
}

// WithRecipes registers additional recipes. A recipe with the name of a
// built-in one replaces it.
func WithRecipes(recipes map[string]Recipe) Option {
	return func(t *Transformer) {
		maps.Copy(t.recipes, recipes)
	}
}

// WithConcurrency limits how many rule sources LoadRules reads at once.
func WithConcurrency(n int) Option {
	return func(t *Transformer) {
		t.concurrency = n
	}
}

// New returns a Transformer with no rules.
func New(opts ...Option) *Transformer {
	t := &Transformer{
		log:         slog.Default(),
		recipes:     DefaultRecipes(),
		concurrency: 4,
	}
	for _, opt := range opts {
		opt(t)
	}
	t.table.Store(newRuleTable())
	return t
}

// LoadRules reads every source and adds its rules to the ones already
// loaded. Sources are read concurrently but registered in the order given.
//
// Failing to read a source is an error and leaves the loaded rules as they
// were. A declaration that cannot be turned into rules is logged and
// skipped. Loading the same declaration twice has no further effect.
func (t *Transformer) LoadRules(ctx context.Context, sources ...RuleSource) error {
	results := make([][]Declaration, len(sources))

	g, ctx := errgroup.WithContext(ctx)
	if t.concurrency > 0 {
		g.SetLimit(t.concurrency)
	}
	for i, src := range sources {
		g.Go(func() error {
			decls, err := src.Declarations(ctx)
			if err != nil {
				return fmt.Errorf("rule source %d: %w", i, err)
			}
			results[i] = decls
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	next := t.table.Load().clone()
	added := 0
	for _, decls := range results {
		for _, d := range decls {
			rules, err := t.instantiate(d)
			if err != nil {
				t.log.Warn("skipping rule", "rule", d.String(), "error", err)
				continue
			}
			for _, r := range rules {
				if err := next.addRule(r); err != nil {
					t.log.Warn("skipping rule", "rule", d.String(), "member", r.Key.String(), "error", err)
					continue
				}
				added++
			}
		}
	}
	t.table.Store(next)

	t.log.Debug("rules loaded", "added", added, "candidates", next.size())
	return nil
}

// Rules returns the number of candidate adapters currently loaded.
func (t *Transformer) Rules() int {
	return t.table.Load().size()
}

// MayNeedRewrite reports whether image references any member a rule applies
// to. Only the constant pool is read. A false result means Transform would
// return image unchanged.
func (t *Transformer) MayNeedRewrite(image []byte) bool {
	return t.table.Load().mayNeedRewrite(image, t.log)
}

// Transform rewrites the class file image of the named class. If nothing
// needs to change it returns image itself, so callers can compare slices to
// detect a no-op.
func (t *Transformer) Transform(name string, image []byte) ([]byte, error) {
	log := t.log.With("unit", name)
	table := t.table.Load()
	if !table.mayNeedRewrite(image, log) {
		return image, nil
	}

	out, err := rewriteUnit(table, image, t.locator, log)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return out, nil
}
