// Package extract reads structured records out of rendered page HTML
// (or fetched JSON documents) against a declarative schema. It has no
// side effects beyond reads: the extractor is a pure function of the
// page snapshot it is given.
package extract

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/use-agent/wardreport/models"
)

// Extractor applies schemas to page snapshots. The markdown converter
// is created once and reused across all extractions (goroutine-safe).
type Extractor struct {
	mdConverter *mdConverter
}

// New creates an Extractor with a pre-configured Markdown converter.
func New() *Extractor {
	return &Extractor{mdConverter: newMarkdownConverter()}
}

// Extract reads one Record from the rendered HTML. Field-level failures
// (element missing, coercion error) are recorded as null values with an
// error note; a missing or uncoercible required field fails the whole
// extraction with REQUIRED_FIELD_MISSING.
func (e *Extractor) Extract(stepName string, stepIndex int, html, sourceURL string, schema *models.Schema) (models.Record, error) {
	rec := newRecord(stepName, stepIndex)

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return rec, models.NewPipelineError(models.ErrCodeInternal,
			"cannot parse page HTML", err)
	}

	for _, f := range schema.Fields {
		value, ferr := e.extractField(doc, sourceURL, f)
		if ferr != nil {
			if f.Required {
				return rec, models.NewPipelineError(models.ErrCodeRequiredField,
					fmt.Sprintf("required field %q: %s", f.Name, ferr.code), ferr.cause)
			}
			rec.Fields[f.Name] = models.FieldValue{Value: nil, Error: ferr.code}
			continue
		}
		rec.Fields[f.Name] = models.FieldValue{Value: value}
	}

	return rec, nil
}

// ExtractJSON reads one Record from a fetched JSON document using
// dotted-path field lookups, with the same required/coercion semantics
// as HTML extraction.
func (e *Extractor) ExtractJSON(stepName string, stepIndex int, data []byte, schema *models.Schema) (models.Record, error) {
	rec := newRecord(stepName, stepIndex)

	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return rec, models.NewPipelineError(models.ErrCodeCoercion,
			"fetched body is not valid JSON", err)
	}

	for _, f := range schema.Fields {
		raw, found := lookupPath(doc, f.Path)
		if !found {
			if f.Required {
				return rec, models.NewPipelineError(models.ErrCodeRequiredField,
					fmt.Sprintf("required field %q: path %q not found", f.Name, f.Path), nil)
			}
			rec.Fields[f.Name] = models.FieldValue{Value: nil, Error: models.ErrCodeMissingField}
			continue
		}

		value, ferr := coerceJSONValue(raw, f.Type)
		if ferr != nil {
			if f.Required {
				return rec, models.NewPipelineError(models.ErrCodeRequiredField,
					fmt.Sprintf("required field %q: %s", f.Name, ferr.code), ferr.cause)
			}
			rec.Fields[f.Name] = models.FieldValue{Value: nil, Error: ferr.code}
			continue
		}
		rec.Fields[f.Name] = models.FieldValue{Value: value}
	}

	return rec, nil
}

func newRecord(stepName string, stepIndex int) models.Record {
	return models.Record{
		Step:        stepName,
		StepIndex:   stepIndex,
		ExtractedAt: time.Now().UTC(),
		Fields:      make(map[string]models.FieldValue),
	}
}

// fieldError distinguishes the two recoverable field failure modes.
type fieldError struct {
	code  string // MISSING_FIELD or COERCION_FAILED
	cause error
}

func missingField() *fieldError {
	return &fieldError{code: models.ErrCodeMissingField}
}

func coercionFailed(cause error) *fieldError {
	return &fieldError{code: models.ErrCodeCoercion, cause: cause}
}

func (e *Extractor) extractField(doc *goquery.Document, sourceURL string, f models.Field) (any, *fieldError) {
	sel := doc.Find(f.Selector).First()
	if sel.Length() == 0 {
		return nil, missingField()
	}

	if f.Attr != "" {
		attr, ok := sel.Attr(f.Attr)
		if !ok {
			return nil, missingField()
		}
		return coerceText(strings.TrimSpace(attr), f.Type)
	}

	switch f.Type {
	case models.FieldText:
		outer, err := goquery.OuterHtml(sel)
		if err != nil {
			return nil, coercionFailed(err)
		}
		return visibleText(outer), nil

	case models.FieldArticle, models.FieldMarkdown:
		outer, err := goquery.OuterHtml(sel)
		if err != nil {
			return nil, coercionFailed(err)
		}
		return e.renderContent(outer, sourceURL, f.Type)

	default:
		return coerceText(strings.TrimSpace(sel.Text()), f.Type)
	}
}

func coerceText(raw string, t models.FieldType) (any, *fieldError) {
	switch t {
	case models.FieldNumber:
		n, err := parseNumber(raw)
		if err != nil {
			return nil, coercionFailed(err)
		}
		return n, nil
	case models.FieldDate:
		d, err := parseDate(raw)
		if err != nil {
			return nil, coercionFailed(err)
		}
		return d, nil
	default:
		return raw, nil
	}
}

func coerceJSONValue(raw any, t models.FieldType) (any, *fieldError) {
	switch t {
	case models.FieldNumber:
		switch v := raw.(type) {
		case float64:
			return v, nil
		case string:
			n, err := parseNumber(v)
			if err != nil {
				return nil, coercionFailed(err)
			}
			return n, nil
		default:
			return nil, coercionFailed(fmt.Errorf("value %v is not numeric", raw))
		}
	case models.FieldDate:
		s, ok := raw.(string)
		if !ok {
			return nil, coercionFailed(fmt.Errorf("value %v is not a date string", raw))
		}
		d, err := parseDate(s)
		if err != nil {
			return nil, coercionFailed(err)
		}
		return d, nil
	case models.FieldString:
		switch raw.(type) {
		case string, float64, bool, nil:
			return fmt.Sprint(raw), nil
		default:
			return nil, coercionFailed(fmt.Errorf("value is not a scalar"))
		}
	default:
		// Validation keeps text/article/markdown out of json schemas;
		// anything else passes through unchanged.
		return raw, nil
	}
}

// lookupPath walks a dotted path ("summary.total") through decoded JSON.
func lookupPath(doc any, path string) (any, bool) {
	cur := doc
	for _, part := range strings.Split(path, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}
