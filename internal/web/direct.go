package web

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/dyatlov/go-opengraph/opengraph"
)

const directUserAgent = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

// Direct is a Reader that fetches the page itself and converts the HTML to
// text. Product metadata found in OpenGraph tags is emitted as a header so
// extraction can pick up the title, image and price.
type Direct struct {
	httpClient *http.Client
}

// NewDirect creates a Direct reader.
func NewDirect(httpClient *http.Client) *Direct {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Direct{httpClient: httpClient}
}

func (d *Direct) Read(ctx context.Context, pageURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return "", fmt.Errorf("creating page request: %w", err)
	}
	req.Header.Set("User-Agent", directUserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "pt-BR,pt;q=0.9,en;q=0.8")

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetching page: %w", err)
	}
	defer resp.Body.Close()

	if err := checkStatus("page", resp); err != nil {
		return "", err
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxReadBytes))
	if err != nil {
		return "", fmt.Errorf("reading page: %w", err)
	}

	if ct := resp.Header.Get("Content-Type"); ct != "" && !strings.Contains(ct, "html") {
		return string(body), nil
	}
	return htmlToText(pageURL, body)
}

// htmlToText renders a product page as "Key: value" metadata lines followed
// by the visible body text with whitespace collapsed.
func htmlToText(pageURL string, body []byte) (string, error) {
	og := opengraph.NewOpenGraph()
	if err := og.ProcessHTML(bytes.NewReader(body)); err != nil {
		return "", fmt.Errorf("parsing opengraph: %w", err)
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("parsing html: %w", err)
	}

	title := og.Title
	if title == "" {
		title = strings.TrimSpace(doc.Find("title").First().Text())
	}
	if title == "" {
		title = strings.TrimSpace(doc.Find("h1").First().Text())
	}

	var image string
	if len(og.Images) > 0 && og.Images[0].URL != "" {
		image = resolveURL(pageURL, og.Images[0].URL)
	}

	price := metaContent(doc, "product:price:amount", "og:price:amount")
	currency := metaContent(doc, "product:price:currency", "og:price:currency")
	if price == "" {
		if v, ok := doc.Find("[itemprop='price']").First().Attr("content"); ok {
			price = strings.TrimSpace(v)
		}
	}

	var b strings.Builder
	writeField(&b, "Title", title)
	writeField(&b, "URL", pageURL)
	writeField(&b, "Site", og.SiteName)
	writeField(&b, "Image", image)
	if price != "" {
		writeField(&b, "Price", strings.TrimSpace(currency+" "+price))
	}
	writeField(&b, "Description", og.Description)

	doc.Find("script, style, noscript, svg, nav, footer, iframe").Remove()
	text := strings.Join(strings.Fields(doc.Find("body").Text()), " ")
	if text != "" {
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		b.WriteString(text)
	}
	return b.String(), nil
}

func metaContent(doc *goquery.Document, names ...string) string {
	for _, n := range names {
		sel := fmt.Sprintf("meta[property='%s'], meta[name='%s']", n, n)
		if v, ok := doc.Find(sel).First().Attr("content"); ok && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

func writeField(b *strings.Builder, key, value string) {
	value = strings.TrimSpace(value)
	if value == "" {
		return
	}
	b.WriteString(key)
	b.WriteString(": ")
	b.WriteString(value)
	b.WriteString("\n")
}

func resolveURL(base, ref string) string {
	if strings.HasPrefix(ref, "http://") || strings.HasPrefix(ref, "https://") {
		return ref
	}
	b, err := url.Parse(base)
	if err != nil {
		return ref
	}
	r, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	return b.ResolveReference(r).String()
}
