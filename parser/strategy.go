// Package parser turns marketplace HTML into records. Every exported
// function is total: malformed markup yields empty values, never an error.
package parser

import (
	"log/slog"

	"github.com/PuerkitoBio/goquery"
)

// Strategy is one way of finding something in a document. Apply reports
// whether it found anything.
type Strategy[T any] struct {
	Name  string
	Apply func(doc *goquery.Selection) (T, bool)
}

// FirstMatch runs strategies in order and returns the first result that
// matched, along with the name of the strategy that produced it.
func FirstMatch[T any](root *goquery.Selection, strategies ...Strategy[T]) (T, string, bool) {
	for _, s := range strategies {
		if v, ok := apply(root, s); ok {
			return v, s.Name, true
		}
	}
	var zero T
	return zero, "", false
}

func apply[T any](root *goquery.Selection, s Strategy[T]) (v T, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			slog.Warn("extraction strategy panicked", slog.String("strategy", s.Name), slog.Any("panic", r))
			var zero T
			v, ok = zero, false
		}
	}()
	return s.Apply(root)
}

// selector is a Strategy that matches when the CSS selector finds at least
// one element.
func selector(css string) Strategy[*goquery.Selection] {
	return Strategy[*goquery.Selection]{
		Name: css,
		Apply: func(root *goquery.Selection) (*goquery.Selection, bool) {
			sel := root.Find(css)
			return sel, sel.Length() > 0
		},
	}
}
