package extract

import (
	"strings"
	"testing"

	"github.com/use-agent/wardreport/models"
)

const censusHTML = `
<html>
<body>
  <h1 class="facility-name">Maple Grove Care Center</h1>
  <div id="census">
    <span class="count">1,247 residents</span>
    <span class="updated">March 5, 2024</span>
  </div>
  <a id="download" href="/reports/census.pdf">Download</a>
  <div class="empty"></div>
  <script>console.log("noise")</script>
</body>
</html>`

func TestExtract_TypedFields(t *testing.T) {
	e := New()
	schema := &models.Schema{
		Source: models.SourceHTML,
		Fields: []models.Field{
			{Name: "facility", Selector: ".facility-name", Type: models.FieldString},
			{Name: "census", Selector: "#census .count", Type: models.FieldNumber},
			{Name: "updated", Selector: "#census .updated", Type: models.FieldDate},
			{Name: "pdf", Selector: "#download", Attr: "href", Type: models.FieldString},
		},
	}

	rec, err := e.Extract("census", 2, censusHTML, "https://portal.example/census", schema)
	if err != nil {
		t.Fatalf("Extract returned error: %v", err)
	}

	if rec.Step != "census" || rec.StepIndex != 2 {
		t.Errorf("record identity = (%q, %d)", rec.Step, rec.StepIndex)
	}
	if got := rec.Fields["facility"].Value; got != "Maple Grove Care Center" {
		t.Errorf("facility = %v", got)
	}
	if got := rec.Fields["census"].Value; got != float64(1247) {
		t.Errorf("census = %v (%T), want 1247", got, got)
	}
	if got := rec.Fields["updated"].Value; got != "2024-03-05T00:00:00Z" {
		t.Errorf("updated = %v", got)
	}
	if got := rec.Fields["pdf"].Value; got != "/reports/census.pdf" {
		t.Errorf("pdf attr = %v", got)
	}
}

func TestExtract_MissingOptionalFieldIsNull(t *testing.T) {
	e := New()
	schema := &models.Schema{
		Source: models.SourceHTML,
		Fields: []models.Field{
			{Name: "absent", Selector: "#no-such-element", Type: models.FieldString},
		},
	}

	rec, err := e.Extract("census", 0, censusHTML, "", schema)
	if err != nil {
		t.Fatalf("optional miss must not fail the extraction: %v", err)
	}

	fv := rec.Fields["absent"]
	if fv.Value != nil {
		t.Errorf("value = %v, want nil", fv.Value)
	}
	if fv.Error != models.ErrCodeMissingField {
		t.Errorf("error note = %q, want MISSING_FIELD", fv.Error)
	}
}

func TestExtract_MissingRequiredFieldFails(t *testing.T) {
	e := New()
	schema := &models.Schema{
		Source: models.SourceHTML,
		Fields: []models.Field{
			{Name: "absent", Selector: "#no-such-element", Type: models.FieldString, Required: true},
		},
	}

	_, err := e.Extract("census", 0, censusHTML, "", schema)
	if !models.IsCode(err, models.ErrCodeRequiredField) {
		t.Fatalf("error code = %q, want REQUIRED_FIELD_MISSING (%v)", models.CodeOf(err), err)
	}
}

func TestExtract_CoercionFailureIsNull(t *testing.T) {
	e := New()
	schema := &models.Schema{
		Source: models.SourceHTML,
		Fields: []models.Field{
			{Name: "not-a-number", Selector: ".facility-name", Type: models.FieldNumber},
		},
	}

	rec, err := e.Extract("census", 0, censusHTML, "", schema)
	if err != nil {
		t.Fatalf("optional coercion failure must not fail the extraction: %v", err)
	}
	fv := rec.Fields["not-a-number"]
	if fv.Value != nil || fv.Error != models.ErrCodeCoercion {
		t.Errorf("field = %+v, want null with COERCION_FAILED", fv)
	}
}

func TestExtract_TextStripsMarkupAndScripts(t *testing.T) {
	e := New()
	schema := &models.Schema{
		Source: models.SourceHTML,
		Fields: []models.Field{
			{Name: "body", Selector: "body", Type: models.FieldText},
		},
	}

	rec, err := e.Extract("page", 0, censusHTML, "", schema)
	if err != nil {
		t.Fatalf("Extract returned error: %v", err)
	}
	text, _ := rec.Fields["body"].Value.(string)
	if text == "" {
		t.Fatal("text field came back empty")
	}
	for _, fragment := range []string{"<", "console.log"} {
		if strings.Contains(text, fragment) {
			t.Errorf("text %q still contains %q", text, fragment)
		}
	}
}

func TestExtractJSON_NestedPaths(t *testing.T) {
	e := New()
	data := []byte(`{
		"facility": {"name": "Maple Grove"},
		"summary": {"census": 112, "as_of": "2024-03-05T08:30:00Z"},
		"flags": {"overdue": true}
	}`)
	schema := &models.Schema{
		Source: models.SourceJSON,
		Fields: []models.Field{
			{Name: "name", Path: "facility.name", Type: models.FieldString, Required: true},
			{Name: "census", Path: "summary.census", Type: models.FieldNumber},
			{Name: "as_of", Path: "summary.as_of", Type: models.FieldDate},
			{Name: "overdue", Path: "flags.overdue", Type: models.FieldString},
		},
	}

	rec, err := e.ExtractJSON("pull-report", 3, data, schema)
	if err != nil {
		t.Fatalf("ExtractJSON returned error: %v", err)
	}
	if got := rec.Fields["name"].Value; got != "Maple Grove" {
		t.Errorf("name = %v", got)
	}
	if got := rec.Fields["census"].Value; got != float64(112) {
		t.Errorf("census = %v", got)
	}
	if got := rec.Fields["as_of"].Value; got != "2024-03-05T08:30:00Z" {
		t.Errorf("as_of = %v", got)
	}
	if got := rec.Fields["overdue"].Value; got != "true" {
		t.Errorf("overdue = %v, want scalar rendered as string", got)
	}
}

func TestExtractJSON_MissingRequiredPathFails(t *testing.T) {
	e := New()
	schema := &models.Schema{
		Source: models.SourceJSON,
		Fields: []models.Field{
			{Name: "census", Path: "summary.census", Type: models.FieldNumber, Required: true},
		},
	}

	_, err := e.ExtractJSON("pull-report", 0, []byte(`{"summary": {}}`), schema)
	if !models.IsCode(err, models.ErrCodeRequiredField) {
		t.Fatalf("error code = %q, want REQUIRED_FIELD_MISSING", models.CodeOf(err))
	}
}

func TestExtractJSON_InvalidBody(t *testing.T) {
	e := New()
	schema := &models.Schema{Source: models.SourceJSON}

	_, err := e.ExtractJSON("pull-report", 0, []byte(`<html>login page</html>`), schema)
	if !models.IsCode(err, models.ErrCodeCoercion) {
		t.Fatalf("error code = %q, want COERCION_FAILED", models.CodeOf(err))
	}
}

func TestExtractJSON_CompositeValueDoesNotCoerceToString(t *testing.T) {
	e := New()
	schema := &models.Schema{
		Source: models.SourceJSON,
		Fields: []models.Field{
			{Name: "summary", Path: "summary", Type: models.FieldString},
		},
	}

	rec, err := e.ExtractJSON("pull-report", 0, []byte(`{"summary": {"census": 1}}`), schema)
	if err != nil {
		t.Fatalf("ExtractJSON returned error: %v", err)
	}
	fv := rec.Fields["summary"]
	if fv.Value != nil || fv.Error != models.ErrCodeCoercion {
		t.Errorf("field = %+v, want null with COERCION_FAILED", fv)
	}
}
