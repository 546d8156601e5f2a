// Package resolver extracts a logical field from a page by walking an ordered
// list of extraction strategies until one of them yields a value.
package resolver

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"
)

// ErrNotFound is returned by a Source when nothing matches a selector.
var ErrNotFound = errors.New("element not found")

// Source is a scope that selectors are evaluated against: a whole page, a
// detail pane or a single element.
type Source interface {
	Find(ctx context.Context, selector string, timeout time.Duration) (Element, error)
	FindAll(ctx context.Context, selector string, timeout time.Duration) ([]Element, error)
}

// Element is a located node. It is itself a Source for nested lookups.
type Element interface {
	Source
	Text(ctx context.Context) (string, error)
	Attr(ctx context.Context, name string) (string, error)
}

type Kind int

const (
	KindText Kind = iota
	KindAttr
	KindList
)

func (k Kind) String() string {
	switch k {
	case KindText:
		return "text"
	case KindAttr:
		return "attr"
	case KindList:
		return "list"
	default:
		return "unknown"
	}
}

// Strategy is one way of locating a field.
type Strategy struct {
	Kind     Kind
	Selector string
	Attr     string
}

func ByText(selector string) Strategy {
	return Strategy{Kind: KindText, Selector: selector}
}

func ByAttr(selector, attr string) Strategy {
	return Strategy{Kind: KindAttr, Selector: selector, Attr: attr}
}

func ByList(selector string) Strategy {
	return Strategy{Kind: KindList, Selector: selector}
}

// Chain is an ordered list of strategies, tried first to last.
type Chain []Strategy

// Opts describe the field being resolved.
type Opts struct {
	Field    string
	Required bool
	Default  string
}

type Config struct {
	FirstTimeout    time.Duration `envconfig:"FIRST_TIMEOUT" default:"3s"`
	FallbackTimeout time.Duration `envconfig:"FALLBACK_TIMEOUT" default:"500ms"`
}

// Resolver applies strategy chains. It never fails: absence yields the
// default value.
type Resolver struct {
	cfg Config
	log *zap.Logger
}

func New(cfg Config, log *zap.Logger) *Resolver {
	if cfg.FirstTimeout <= 0 {
		cfg.FirstTimeout = 3 * time.Second
	}

	if cfg.FallbackTimeout <= 0 {
		cfg.FallbackTimeout = 500 * time.Millisecond
	}

	if log == nil {
		log = zap.NewNop()
	}

	return &Resolver{cfg: cfg, log: log}
}

func (r *Resolver) timeout(i int) time.Duration {
	if i == 0 {
		return r.cfg.FirstTimeout
	}

	return r.cfg.FallbackTimeout
}

// Text resolves a string. Text strategies read the text content, attribute
// strategies read their attribute and list strategies read the first element.
func (r *Resolver) Text(ctx context.Context, src Source, chain Chain, opts Opts) string {
	v, ok := resolve(ctx, r, chain, opts, func(ctx context.Context, s Strategy, timeout time.Duration) (string, bool) {
		el, ok := r.locate(ctx, src, s, timeout)
		if !ok {
			return "", false
		}

		var (
			val string
			err error
		)

		if s.Kind == KindAttr {
			val, err = el.Attr(ctx, s.Attr)
		} else {
			val, err = el.Text(ctx)
		}

		val = strings.TrimSpace(val)

		return val, err == nil && val != ""
	})
	if !ok {
		return opts.Default
	}

	return v
}

// Attr resolves the named attribute on whichever element a strategy locates.
func (r *Resolver) Attr(ctx context.Context, src Source, chain Chain, name string, opts Opts) string {
	v, ok := resolve(ctx, r, chain, opts, func(ctx context.Context, s Strategy, timeout time.Duration) (string, bool) {
		el, ok := r.locate(ctx, src, s, timeout)
		if !ok {
			return "", false
		}

		val, err := el.Attr(ctx, name)
		val = strings.TrimSpace(val)

		return val, err == nil && val != ""
	})
	if !ok {
		return opts.Default
	}

	return v
}

// Element returns the first element any strategy locates.
func (r *Resolver) Element(ctx context.Context, src Source, chain Chain, opts Opts) (Element, bool) {
	return resolve(ctx, r, chain, opts, func(ctx context.Context, s Strategy, timeout time.Duration) (Element, bool) {
		return r.locate(ctx, src, s, timeout)
	})
}

// Elements returns the first non-empty list any strategy locates.
func (r *Resolver) Elements(ctx context.Context, src Source, chain Chain, opts Opts) []Element {
	els, _ := resolve(ctx, r, chain, opts, func(ctx context.Context, s Strategy, timeout time.Duration) ([]Element, bool) {
		if s.Kind != KindList {
			el, ok := r.locate(ctx, src, s, timeout)
			if !ok {
				return nil, false
			}

			return []Element{el}, true
		}

		els, err := src.FindAll(ctx, s.Selector, timeout)
		if err != nil || len(els) == 0 {
			return nil, false
		}

		return els, true
	})

	return els
}

func (r *Resolver) locate(ctx context.Context, src Source, s Strategy, timeout time.Duration) (Element, bool) {
	if s.Kind == KindList {
		els, err := src.FindAll(ctx, s.Selector, timeout)
		if err != nil || len(els) == 0 {
			return nil, false
		}

		return els[0], true
	}

	el, err := src.Find(ctx, s.Selector, timeout)
	if err != nil || el == nil {
		return nil, false
	}

	return el, true
}

func resolve[T any](ctx context.Context, r *Resolver, chain Chain, opts Opts, try func(context.Context, Strategy, time.Duration) (T, bool)) (T, bool) {
	var zero T

	for i, s := range chain {
		if ctx.Err() != nil {
			break
		}

		if v, ok := try(ctx, s, r.timeout(i)); ok {
			return v, true
		}

		r.log.Debug("strategy missed",
			zap.String("field", opts.Field),
			zap.Int("strategy", i),
			zap.Stringer("kind", s.Kind),
			zap.String("selector", s.Selector),
		)
	}

	if opts.Required {
		r.log.Warn("field not resolved by any strategy",
			zap.String("field", opts.Field),
			zap.Int("strategies", len(chain)),
		)
	}

	return zero, false
}
