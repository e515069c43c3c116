package steps

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/terra-clan/quiz-solver/internal/models"
)

type downloadParams struct {
	URL     string            `mapstructure:"url"`
	Headers map[string]string `mapstructure:"headers"`
}

// downloadHandler fetches a file. Text payloads become strings,
// everything else a *models.Media.
type downloadHandler struct {
	fetcher *httpFetcher
}

func (h *downloadHandler) Execute(ctx context.Context, step models.Step, _ *models.ResultsRegistry) (any, error) {
	var p downloadParams
	if err := decodeParams(step, &p); err != nil {
		return nil, err
	}

	f, err := h.fetcher.do(ctx, requestSpec{URL: p.URL, Headers: p.Headers})
	if err != nil {
		return nil, err
	}

	slog.Debug("file downloaded", "url", p.URL, "content_type", f.ContentType, "bytes", len(f.Body))

	if f.isText() {
		return string(f.Body), nil
	}
	return &models.Media{MIME: f.ContentType, Data: f.Body}, nil
}

type scrapeParams struct {
	URL   string `mapstructure:"url"`
	Input string `mapstructure:"input"`
	// Mode is table, text or links; empty picks table when one exists
	Mode  string `mapstructure:"mode"`
	Table int    `mapstructure:"table"`
}

// scrapeHandler extracts a table, text or links from an HTML page fetched
// from url or taken from an earlier result.
type scrapeHandler struct {
	fetcher *httpFetcher
}

func (h *scrapeHandler) Execute(ctx context.Context, step models.Step, results *models.ResultsRegistry) (any, error) {
	var p scrapeParams
	if err := decodeParams(step, &p); err != nil {
		return nil, err
	}
	if p.Mode == "" {
		if t, ok := step.Parameters["type"].(string); ok {
			p.Mode = t
		}
	}

	var page []byte
	switch {
	case p.URL != "":
		f, err := h.fetcher.do(ctx, requestSpec{URL: p.URL})
		if err != nil {
			return nil, err
		}
		page = f.Body
	case p.Input != "":
		v, err := inputValue(step, results)
		if err != nil {
			return nil, err
		}
		page = asBytes(v)
	default:
		return nil, models.Permanent(fmt.Errorf("%w: scrape needs url or input", ErrBadParameters))
	}

	doc, err := html.Parse(bytes.NewReader(page))
	if err != nil {
		return nil, models.Permanent(fmt.Errorf("failed to parse html: %w", err))
	}

	tables := findAll(doc, atom.Table)

	switch strings.ToLower(p.Mode) {
	case "links":
		var links []string
		for _, a := range findAll(doc, atom.A) {
			if href := attr(a, "href"); href != "" {
				links = append(links, href)
			}
		}
		return links, nil
	case "text", "generic":
		return visibleText(doc), nil
	case "table":
		if p.Table >= len(tables) {
			return nil, models.Permanent(fmt.Errorf("page has %d tables, wanted index %d", len(tables), p.Table))
		}
		return tableFromNode(tables[p.Table]), nil
	case "":
		if len(tables) > 0 {
			return tableFromNode(tables[0]), nil
		}
		return visibleText(doc), nil
	default:
		return nil, models.Permanent(fmt.Errorf("%w: scrape mode %q", ErrUnsupportedOp, p.Mode))
	}
}

type apiCallParams struct {
	URL     string            `mapstructure:"url"`
	Method  string            `mapstructure:"method"`
	Headers map[string]string `mapstructure:"headers"`
	Body    any               `mapstructure:"body"`
}

// apiCallHandler calls an HTTP API and decodes a JSON reply when possible
type apiCallHandler struct {
	fetcher *httpFetcher
}

func (h *apiCallHandler) Execute(ctx context.Context, step models.Step, _ *models.ResultsRegistry) (any, error) {
	var p apiCallParams
	if err := decodeParams(step, &p); err != nil {
		return nil, err
	}

	spec := requestSpec{URL: p.URL, Method: p.Method, Headers: p.Headers}
	if p.Body != nil {
		raw, err := json.Marshal(p.Body)
		if err != nil {
			return nil, models.Permanent(fmt.Errorf("%w: body: %v", ErrBadParameters, err))
		}
		spec.Body = raw
		if spec.Method == "" {
			spec.Method = "POST"
		}
		if spec.Headers == nil {
			spec.Headers = make(map[string]string)
		}
		if _, ok := spec.Headers["Content-Type"]; !ok {
			spec.Headers["Content-Type"] = "application/json"
		}
	}

	f, err := h.fetcher.do(ctx, spec)
	if err != nil {
		return nil, err
	}

	var decoded any
	if err := json.Unmarshal(f.Body, &decoded); err == nil {
		return decoded, nil
	}
	return string(f.Body), nil
}

func findAll(n *html.Node, a atom.Atom) []*html.Node {
	var out []*html.Node
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.DataAtom == a {
			out = append(out, n)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return out
}

func tableFromNode(table *html.Node) *models.Table {
	t := &models.Table{}
	for _, tr := range findAll(table, atom.Tr) {
		var row []string
		header := true
		for c := tr.FirstChild; c != nil; c = c.NextSibling {
			if c.Type != html.ElementNode || (c.DataAtom != atom.Td && c.DataAtom != atom.Th) {
				continue
			}
			if c.DataAtom == atom.Td {
				header = false
			}
			row = append(row, strings.TrimSpace(nodeText(c)))
		}
		if len(row) == 0 {
			continue
		}
		if header && t.Columns == nil {
			t.Columns = row
			continue
		}
		t.Rows = append(t.Rows, row)
	}
	if t.Columns == nil && len(t.Rows) > 0 {
		t.Columns, t.Rows = t.Rows[0], t.Rows[1:]
	}
	return t
}

func nodeText(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return b.String()
}

func visibleText(doc *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.DataAtom {
			case atom.Script, atom.Style, atom.Head, atom.Noscript:
				return
			}
		}
		if n.Type == html.TextNode {
			if s := strings.TrimSpace(n.Data); s != "" {
				b.WriteString(s)
				b.WriteString("\n")
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return strings.TrimSpace(b.String())
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func asBytes(v any) []byte {
	switch val := v.(type) {
	case string:
		return []byte(val)
	case []byte:
		return val
	case *models.Media:
		return val.Data
	default:
		raw, _ := json.Marshal(val)
		return raw
	}
}
