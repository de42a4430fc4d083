package extract

import (
	"testing"
)

func TestParseNumber(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want float64
	}{
		{"plain integer", "42", 42},
		{"thousands separators", "1,247,890", 1247890},
		{"currency prefix", "$3,450.75", 3450.75},
		{"percent suffix", "87.5%", 87.5},
		{"surrounding words", "Total: 112 residents", 112},
		{"negative", "-14", -14},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseNumber(tt.raw)
			if err != nil {
				t.Fatalf("parseNumber(%q) error: %v", tt.raw, err)
			}
			if got != tt.want {
				t.Errorf("parseNumber(%q) = %v, want %v", tt.raw, got, tt.want)
			}
		})
	}
}

func TestParseNumber_NoNumericContent(t *testing.T) {
	if _, err := parseNumber("no numbers here"); err == nil {
		t.Error("expected an error for text with no digits")
	}
	if _, err := parseNumber(""); err == nil {
		t.Error("expected an error for empty text")
	}
}

func TestParseDate(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{"long form", "March 5, 2024", "2024-03-05T00:00:00Z"},
		{"us slash", "03/05/2024", "2024-03-05T00:00:00Z"},
		{"iso", "2024-03-05", "2024-03-05T00:00:00Z"},
		{"rfc3339 passthrough", "2024-03-05T08:30:00Z", "2024-03-05T08:30:00Z"},
		{"padded", "  2024-03-05  ", "2024-03-05T00:00:00Z"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseDate(tt.raw)
			if err != nil {
				t.Fatalf("parseDate(%q) error: %v", tt.raw, err)
			}
			if got != tt.want {
				t.Errorf("parseDate(%q) = %q, want %q", tt.raw, got, tt.want)
			}
		})
	}
}

func TestParseDate_Invalid(t *testing.T) {
	for _, raw := range []string{"", "   ", "not a date"} {
		if _, err := parseDate(raw); err == nil {
			t.Errorf("parseDate(%q) should fail", raw)
		}
	}
}

func TestVisibleText(t *testing.T) {
	fragment := `<div>
		<h1>Title</h1>
		<script>var hidden = 1;</script>
		<style>.x { color: red }</style>
		<p>Hello <b>world</b></p>
	</div>`

	got := visibleText(fragment)
	want := "Title Hello world"
	if got != want {
		t.Errorf("visibleText = %q, want %q", got, want)
	}
}

func TestVisibleText_Empty(t *testing.T) {
	if got := visibleText("<div><script>x()</script></div>"); got != "" {
		t.Errorf("visibleText = %q, want empty", got)
	}
}
