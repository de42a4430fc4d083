package models

// FieldType controls how extracted text is coerced.
type FieldType string

const (
	// FieldString keeps the element's trimmed text as-is.
	FieldString FieldType = "string"

	// FieldText extracts the visible text of the element subtree,
	// stripping script/style/noscript content.
	FieldText FieldType = "text"

	// FieldNumber parses the text as a float64, tolerating thousands
	// separators, currency symbols and percent signs.
	FieldNumber FieldType = "number"

	// FieldDate parses the text with flexible date detection and
	// normalizes to RFC 3339.
	FieldDate FieldType = "date"

	// FieldArticle runs readability main-content extraction over the
	// element's HTML and keeps the plain text.
	FieldArticle FieldType = "article"

	// FieldMarkdown runs readability extraction and converts the
	// result to Markdown.
	FieldMarkdown FieldType = "markdown"
)

// SchemaSource selects what a schema is applied to.
type SchemaSource string

const (
	// SourceHTML applies selectors to the rendered page HTML. Default.
	SourceHTML SchemaSource = "html"

	// SourceJSON applies dotted paths to a fetched JSON document.
	SourceJSON SchemaSource = "json"
)

// Field maps one named output value to its locator and coercion rule.
type Field struct {
	Name string `yaml:"name"`

	// Selector is the CSS selector for html-source schemas.
	Selector string `yaml:"selector,omitempty"`

	// Attr reads an attribute instead of the element text.
	Attr string `yaml:"attr,omitempty"`

	// Path is the dotted path (e.g. "summary.total") for json-source
	// schemas.
	Path string `yaml:"path,omitempty"`

	Type FieldType `yaml:"type,omitempty"`

	// Required fields fail the whole extraction when missing or
	// uncoercible; others are recorded as nulls.
	Required bool `yaml:"required,omitempty"`
}

// Schema declares the structured record a step extracts.
type Schema struct {
	Source SchemaSource `yaml:"source,omitempty"`
	Fields []Field      `yaml:"fields"`
}
