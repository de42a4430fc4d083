package models

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration is a time.Duration that unmarshals from YAML strings like
// "10s" or "250ms".
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return fmt.Errorf("duration must be a string like \"10s\"")
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("malformed duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the value as a standard time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// ActionType identifies what a Step does to the page.
type ActionType string

const (
	ActionNavigate ActionType = "navigate"
	ActionClick    ActionType = "click"
	ActionInput    ActionType = "input"
	ActionEval     ActionType = "eval"
	ActionScroll   ActionType = "scroll"
	ActionWait     ActionType = "wait"

	// ActionFetch pulls a JSON endpoint over HTTP using the cookies of
	// the live browser session instead of driving the page.
	ActionFetch ActionType = "fetch"
)

// Action is the target operation of a Step.
type Action struct {
	Type ActionType `yaml:"type"`

	// URL is the target for navigate and fetch actions.
	URL string `yaml:"url,omitempty"`

	// Selector targets the element for click, input and wait actions.
	Selector string `yaml:"selector,omitempty"`

	// Text is typed into the element for input actions. A trailing
	// "\n" submits the enclosing form.
	Text string `yaml:"text,omitempty"`

	// Code is the JavaScript function for eval actions.
	Code string `yaml:"code,omitempty"`

	// Amount is the number of viewports for scroll actions.
	Amount int `yaml:"amount,omitempty"`

	// Milliseconds is a fixed pause for wait actions without a selector.
	Milliseconds int `yaml:"milliseconds,omitempty"`
}

// PredicateType identifies how a Step's success condition is checked.
type PredicateType string

const (
	// PredicateNone means completing the action is success.
	PredicateNone         PredicateType = ""
	PredicateSelector     PredicateType = "selector"
	PredicateURLContains  PredicateType = "url_contains"
	PredicatePageContains PredicateType = "page_contains"
	PredicateEvalTrue     PredicateType = "eval_true"
)

// Predicate is a Step's success condition, polled after the action runs.
type Predicate struct {
	Type      PredicateType `yaml:"type,omitempty"`
	Selector  string        `yaml:"selector,omitempty"`
	Substring string        `yaml:"substring,omitempty"`
	Code      string        `yaml:"code,omitempty"`
}

// Step is one unit of navigation. Steps form an ordered sequence; a
// step never executes before its predecessor's predicate is satisfied
// (or the predecessor is marked optional).
type Step struct {
	Name    string    `yaml:"name"`
	Action  Action    `yaml:"action"`
	Success Predicate `yaml:"success,omitempty"`

	// MaxWait bounds the predicate polling after the action runs.
	// Zero means the configured default.
	MaxWait Duration `yaml:"max_wait,omitempty"`

	// Retries is the action retry budget on transient failure.
	// Nil means the configured default; an explicit 0 disables retries.
	Retries *int `yaml:"retries,omitempty"`

	// Optional steps log their failure and let the sequence continue.
	Optional bool `yaml:"optional,omitempty"`

	// Extract, when set, produces a Record from the page state (or
	// fetched JSON) this step leaves behind.
	Extract *Schema `yaml:"extract,omitempty"`
}
