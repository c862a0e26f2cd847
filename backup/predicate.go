package backup

import (
	"fmt"

	"github.com/gobwas/glob"
)

// Predicate names a class of site-packages entries that are expected even in
// an isolated install and never need to be backed up.
type Predicate struct {
	Name    string
	Pattern string
}

// DefaultIgnorable are the artifacts a freshly installed runtime ships with:
// the bundled package manager, bytecode caches and informational files.
var DefaultIgnorable = []Predicate{
	{Name: "readme", Pattern: "README.txt"},
	{Name: "bytecode cache", Pattern: "__pycache__"},
	{Name: "pip package", Pattern: "pip"},
	{Name: "pip metadata", Pattern: "pip-*.dist-info"},
	{Name: "distutils shim", Pattern: "_distutils_hack"},
	{Name: "distutils precedence", Pattern: "distutils-precedence.pth"},
}

// Classifier decides which site-packages entries are foreign.
type Classifier struct {
	predicates []Predicate
	matchers   []glob.Glob
}

// NewClassifier compiles the predicate set.
func NewClassifier(predicates ...Predicate) (*Classifier, error) {
	c := Classifier{
		predicates: predicates,
		matchers:   make([]glob.Glob, 0, len(predicates)),
	}

	for _, predicate := range predicates {
		matcher, err := glob.Compile(predicate.Pattern)
		if err != nil {
			return nil, fmt.Errorf("invalid pattern for %s: %w", predicate.Name, err)
		}
		c.matchers = append(c.matchers, matcher)
	}

	return &c, nil
}

// MustClassifier is like [NewClassifier] but panics on invalid patterns.
func MustClassifier(predicates ...Predicate) *Classifier {
	c, err := NewClassifier(predicates...)
	if err != nil {
		panic(err)
	}
	return c
}

// Match returns the first predicate matching the entry name.
func (c *Classifier) Match(name string) (Predicate, bool) {
	for i, matcher := range c.matchers {
		if matcher.Match(name) {
			return c.predicates[i], true
		}
	}
	return Predicate{}, false
}

// Foreign returns the entries not matched by any predicate, in input order.
func (c *Classifier) Foreign(names []string) []string {
	var foreign []string
	for _, name := range names {
		if _, ok := c.Match(name); !ok {
			foreign = append(foreign, name)
		}
	}
	return foreign
}
