package config

import (
	"fmt"
	"os"

	"github.com/andybalholm/cascadia"
	"gopkg.in/yaml.v3"

	"github.com/use-agent/wardreport/models"
)

// RunFile is the declarative definition of one pipeline run: the
// ordered step sequence plus per-step extraction schemas.
type RunFile struct {
	Name  string        `yaml:"name"`
	Steps []models.Step `yaml:"steps"`
}

// LoadRunFile reads, env-expands, parses and validates a YAML run file.
// Environment references (${VAR}) are expanded before parsing so that
// credentials never need to live in the file itself.
func LoadRunFile(path string) (*RunFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, models.NewPipelineError(models.ErrCodeInvalidInput,
			fmt.Sprintf("cannot read run file %s", path), err)
	}
	return ParseRunFile(data)
}

// ParseRunFile parses and validates a YAML run definition.
func ParseRunFile(data []byte) (*RunFile, error) {
	expanded := os.Expand(string(data), func(key string) string {
		return os.Getenv(key)
	})

	var rf RunFile
	if err := yaml.Unmarshal([]byte(expanded), &rf); err != nil {
		return nil, models.NewPipelineError(models.ErrCodeInvalidInput,
			"run file is not valid YAML", err)
	}

	if len(rf.Steps) == 0 {
		return nil, models.NewPipelineError(models.ErrCodeInvalidInput,
			"run file declares no steps", nil)
	}

	for i := range rf.Steps {
		step := &rf.Steps[i]
		if step.Name == "" {
			step.Name = fmt.Sprintf("step-%d", i+1)
		}
		if err := validateStep(step); err != nil {
			return nil, models.NewPipelineError(models.ErrCodeInvalidInput,
				fmt.Sprintf("step %q is invalid", step.Name), err)
		}
	}

	return &rf, nil
}

func validateStep(step *models.Step) error {
	if err := validateAction(step.Action); err != nil {
		return err
	}
	if err := validatePredicate(step.Success); err != nil {
		return err
	}
	if step.MaxWait < 0 {
		return fmt.Errorf("max_wait must not be negative")
	}
	if step.Retries != nil && *step.Retries < 0 {
		return fmt.Errorf("retries must not be negative")
	}
	if step.Extract != nil {
		if err := validateSchema(step.Action, step.Extract); err != nil {
			return err
		}
	}
	return nil
}

func validateAction(a models.Action) error {
	switch a.Type {
	case models.ActionNavigate, models.ActionFetch:
		if a.URL == "" {
			return fmt.Errorf("%s action requires a url", a.Type)
		}
	case models.ActionClick:
		if err := compileSelector(a.Selector, "click action"); err != nil {
			return err
		}
	case models.ActionInput:
		if err := compileSelector(a.Selector, "input action"); err != nil {
			return err
		}
	case models.ActionEval:
		if a.Code == "" {
			return fmt.Errorf("eval action requires code")
		}
	case models.ActionScroll:
		// Amount defaults to 1 viewport at execution time.
	case models.ActionWait:
		if a.Selector == "" && a.Milliseconds <= 0 {
			return fmt.Errorf("wait action requires a selector or milliseconds")
		}
	default:
		return fmt.Errorf("unknown action type %q", a.Type)
	}
	return nil
}

func validatePredicate(p models.Predicate) error {
	switch p.Type {
	case models.PredicateNone:
	case models.PredicateSelector:
		return compileSelector(p.Selector, "success predicate")
	case models.PredicateURLContains, models.PredicatePageContains:
		if p.Substring == "" {
			return fmt.Errorf("%s predicate requires a substring", p.Type)
		}
	case models.PredicateEvalTrue:
		if p.Code == "" {
			return fmt.Errorf("eval_true predicate requires code")
		}
	default:
		return fmt.Errorf("unknown predicate type %q", p.Type)
	}
	return nil
}

func validateSchema(action models.Action, schema *models.Schema) error {
	if schema.Source == "" {
		if action.Type == models.ActionFetch {
			schema.Source = models.SourceJSON
		} else {
			schema.Source = models.SourceHTML
		}
	}
	switch schema.Source {
	case models.SourceHTML, models.SourceJSON:
	default:
		return fmt.Errorf("unknown schema source %q", schema.Source)
	}
	if action.Type == models.ActionFetch && schema.Source != models.SourceJSON {
		return fmt.Errorf("fetch steps extract from json, not %q", schema.Source)
	}

	if len(schema.Fields) == 0 {
		return fmt.Errorf("schema declares no fields")
	}
	seen := make(map[string]struct{}, len(schema.Fields))
	for i := range schema.Fields {
		f := &schema.Fields[i]
		if f.Name == "" {
			return fmt.Errorf("field %d has no name", i)
		}
		if _, dup := seen[f.Name]; dup {
			return fmt.Errorf("duplicate field name %q", f.Name)
		}
		seen[f.Name] = struct{}{}

		if f.Type == "" {
			f.Type = models.FieldString
		}
		switch f.Type {
		case models.FieldString, models.FieldText, models.FieldNumber,
			models.FieldDate, models.FieldArticle, models.FieldMarkdown:
		default:
			return fmt.Errorf("field %q has unknown type %q", f.Name, f.Type)
		}

		switch schema.Source {
		case models.SourceJSON:
			if f.Path == "" {
				return fmt.Errorf("json field %q requires a path", f.Name)
			}
			switch f.Type {
			case models.FieldText, models.FieldArticle, models.FieldMarkdown:
				return fmt.Errorf("json field %q cannot use type %q", f.Name, f.Type)
			}
		default:
			if err := compileSelector(f.Selector, fmt.Sprintf("field %q", f.Name)); err != nil {
				return err
			}
		}
	}
	return nil
}

// compileSelector parses a CSS selector with cascadia so malformed
// selectors fail at load time instead of mid-run.
func compileSelector(selector, what string) error {
	if selector == "" {
		return fmt.Errorf("%s requires a selector", what)
	}
	if _, err := cascadia.Parse(selector); err != nil {
		return fmt.Errorf("%s has malformed selector %q: %w", what, selector, err)
	}
	return nil
}
