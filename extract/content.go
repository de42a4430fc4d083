package extract

import (
	nurl "net/url"
	"strings"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/base"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/commonmark"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/table"
	readability "github.com/go-shiori/go-readability"

	"github.com/use-agent/wardreport/models"
)

// minContentLength is the minimum TextContent length (in characters)
// for readability output to be considered valid. Below this threshold
// we assume the algorithm failed to locate the main content and fall
// back to the raw fragment.
const minContentLength = 50

type mdConverter struct {
	conv *converter.Converter
}

// newMarkdownConverter creates a reusable, goroutine-safe Converter:
//
//   - base plugin: strips script, style, iframe, noscript, head, meta,
//     link, input, textarea and HTML comments.
//   - commonmark plugin: standard Markdown rendering.
//   - table plugin: preserves table structure with minimal cell padding,
//     which matters for report pages that are mostly tabular.
func newMarkdownConverter() *mdConverter {
	return &mdConverter{
		conv: converter.NewConverter(
			converter.WithPlugins(
				base.NewBasePlugin(),
				commonmark.NewCommonmarkPlugin(),
				table.NewTablePlugin(
					table.WithCellPaddingBehavior(table.CellPaddingBehaviorMinimal),
				),
			),
		),
	}
}

// renderContent runs readability main-content extraction over an HTML
// fragment and renders it as plain text (article) or Markdown.
func (e *Extractor) renderContent(fragment, sourceURL string, t models.FieldType) (any, *fieldError) {
	article := extractArticle(fragment, sourceURL)

	if t == models.FieldArticle {
		return strings.TrimSpace(article.TextContent), nil
	}

	md, err := e.mdConverter.conv.ConvertString(article.Content, converter.WithDomain(sourceURL))
	if err != nil {
		return nil, coercionFailed(err)
	}
	return strings.TrimSpace(md), nil
}

// extractArticle runs the Mozilla Readability algorithm on the fragment.
// Extraction must never fail a field just because readability choked, so
// every failure path falls back to the raw fragment.
func extractArticle(fragment, sourceURL string) readability.Article {
	fallback := readability.Article{Content: fragment, TextContent: visibleText(fragment)}

	parsedURL, err := nurl.Parse(sourceURL)
	if err != nil {
		return fallback
	}

	article, err := readability.FromReader(strings.NewReader(fragment), parsedURL)
	if err != nil {
		return fallback
	}
	if len(strings.TrimSpace(article.TextContent)) < minContentLength {
		return fallback
	}
	return article
}
