package page

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"net/url"
	"path"
	"regexp"
	"strings"
	"unicode/utf8"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
	"golang.org/x/text/unicode/norm"

	"github.com/terra-clan/quiz-solver/internal/models"
)

var (
	atobPattern       = regexp.MustCompile("atob\\(\\s*[`'\"]([A-Za-z0-9+/=\\s]+)[`'\"]\\s*\\)")
	submitPattern     = regexp.MustCompile(`https?://[^\s<>"'\)]+/submit`)
	relSubmitPattern  = regexp.MustCompile(`(?:^|[\s"'(>=])(/[A-Za-z0-9_\-./]*submit)(?:[\s"'<)]|$)`)
	blankLinesPattern = regexp.MustCompile(`\n{3,}`)
	mediaExtensions   = map[string]bool{
		".csv": true, ".json": true, ".pdf": true, ".txt": true, ".xlsx": true, ".xls": true,
		".mp3": true, ".wav": true, ".ogg": true, ".opus": true, ".mp4": true, ".webm": true,
		".png": true, ".jpg": true, ".jpeg": true, ".gif": true, ".zip": true, ".gz": true,
	}
)

// Parse extracts quiz text, decoded base64 segments, the submit URL and
// media references from an HTML document.
func Parse(pageURL string, body []byte) (*models.QuizPage, error) {
	base, err := url.Parse(pageURL)
	if err != nil {
		return nil, fmt.Errorf("invalid page url: %w", err)
	}

	doc, err := html.Parse(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to parse html: %w", err)
	}

	ex := &extractor{base: base, seenMedia: make(map[string]bool), tableCount: 0}
	ex.walk(doc)

	// Decoded payloads are often HTML fragments rendered into the page by script
	for _, script := range ex.scripts {
		for _, m := range atobPattern.FindAllStringSubmatch(script, -1) {
			decoded, ok := decodeBase64(m[1])
			if !ok {
				continue
			}
			ex.decodedRaw = append(ex.decodedRaw, decoded)
			ex.segments = append(ex.segments, ex.fragmentText(decoded))
		}
	}

	page := &models.QuizPage{
		URL:             pageURL,
		RawText:         normalize(ex.text.String()),
		DecodedSegments: ex.segments,
		MediaRefs:       ex.media,
		HTML:            string(body),
	}
	page.SubmitURL = findSubmitURL(base, ex.scripts, ex.decodedRaw, page.RawText)

	if page.Text() == "" {
		return nil, models.ErrEmptyPage
	}

	return page, nil
}

type extractor struct {
	base       *url.URL
	text       strings.Builder
	scripts    []string
	segments   []string
	decodedRaw []string
	media      []string
	seenMedia  map[string]bool
	tableCount int
	// hidden > 0 while inside elements whose text is not shown
	hidden int
}

func (e *extractor) walk(n *html.Node) {
	if n.Type == html.ElementNode {
		switch n.DataAtom {
		case atom.Script:
			var b strings.Builder
			for c := n.FirstChild; c != nil; c = c.NextSibling {
				if c.Type == html.TextNode {
					b.WriteString(c.Data)
				}
			}
			e.scripts = append(e.scripts, b.String())
			return
		case atom.Style, atom.Noscript, atom.Template:
			return
		case atom.Head:
			// head text is not visible but its scripts still carry payloads
			e.hidden++
			defer func() { e.hidden-- }()
		case atom.A:
			if href := attr(n, "href"); href != "" && mediaExtensions[strings.ToLower(path.Ext(stripQuery(href)))] {
				e.addMedia(href)
			}
		case atom.Audio, atom.Video, atom.Source, atom.Img, atom.Track:
			if src := attr(n, "src"); src != "" {
				e.addMedia(src)
			}
		case atom.Table:
			e.tableCount++
			e.addMedia(fmt.Sprintf("#table-%d", e.tableCount))
		case atom.Br, atom.P, atom.Div, atom.Li, atom.Tr, atom.H1, atom.H2, atom.H3, atom.H4, atom.Pre:
			e.text.WriteString("\n")
		case atom.Td, atom.Th:
			e.text.WriteString("\t")
		}
	}

	if n.Type == html.TextNode && e.hidden == 0 {
		e.text.WriteString(n.Data)
	}

	for c := n.FirstChild; c != nil; c = c.NextSibling {
		e.walk(c)
	}
}

// fragmentText renders decoded content as text, collecting its media refs
func (e *extractor) fragmentText(decoded string) string {
	if !strings.Contains(decoded, "<") {
		return normalize(decoded)
	}

	nodes, err := html.ParseFragment(strings.NewReader(decoded), &html.Node{
		Type:     html.ElementNode,
		Data:     "div",
		DataAtom: atom.Div,
	})
	if err != nil {
		return normalize(decoded)
	}

	sub := &extractor{base: e.base, seenMedia: e.seenMedia, tableCount: e.tableCount}
	for _, n := range nodes {
		sub.walk(n)
	}
	e.media = append(e.media, sub.media...)
	e.tableCount = sub.tableCount
	return normalize(sub.text.String())
}

func (e *extractor) addMedia(ref string) {
	resolved := resolve(e.base, ref)
	if resolved == "" || e.seenMedia[resolved] {
		return
	}
	e.seenMedia[resolved] = true
	e.media = append(e.media, resolved)
}

// findSubmitURL searches scripts, then decoded payloads, then visible text.
// Absolute URLs win over relative paths within each source.
func findSubmitURL(base *url.URL, scripts, decoded []string, visible string) string {
	sources := make([]string, 0, len(scripts)+len(decoded)+1)
	sources = append(sources, scripts...)
	sources = append(sources, decoded...)
	sources = append(sources, visible)

	for _, src := range sources {
		if m := submitPattern.FindString(src); m != "" {
			return m
		}
	}

	for _, src := range sources {
		if m := relSubmitPattern.FindStringSubmatch(src); m != nil {
			return resolve(base, m[1])
		}
	}

	return ""
}

func decodeBase64(s string) (string, bool) {
	cleaned := strings.Join(strings.Fields(s), "")
	data, err := base64.StdEncoding.DecodeString(cleaned)
	if err != nil {
		data, err = base64.RawStdEncoding.DecodeString(strings.TrimRight(cleaned, "="))
		if err != nil {
			return "", false
		}
	}
	if !utf8.Valid(data) {
		return "", false
	}
	return string(data), true
}

func normalize(s string) string {
	s = norm.NFC.String(s)
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSpace(strings.Join(strings.Fields(line), " "))
	}
	s = strings.Join(lines, "\n")
	s = blankLinesPattern.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}

func resolve(base *url.URL, ref string) string {
	u, err := url.Parse(strings.TrimSpace(ref))
	if err != nil {
		return ""
	}
	if base == nil {
		return u.String()
	}
	return base.ResolveReference(u).String()
}

func stripQuery(ref string) string {
	if i := strings.IndexAny(ref, "?#"); i >= 0 {
		return ref[:i]
	}
	return ref
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}
