package extract

import (
	"net/url"

	"github.com/PuerkitoBio/goquery"

	"mediagrab/pkg/parse"
)

// ExtractLinks returns the unique, normalized, same-domain page links of a
// document. Cross-domain and non-http(s) links are dropped; the crawl never
// leaves the seed's domain.
func ExtractLinks(doc *goquery.Document, pageURL *url.URL, allowedDomain string) []string {
	seen := make(map[string]struct{})

	doc.Find("a[href]").Each(func(_ int, a *goquery.Selection) {
		href, _ := a.Attr("href")
		if href == "" {
			return
		}
		linkURL, err := pageURL.Parse(href)
		if err != nil {
			return
		}
		if linkURL.Scheme != "http" && linkURL.Scheme != "https" {
			return
		}
		if linkURL.Hostname() != allowedDomain {
			return
		}
		normalized, _, err := parse.ParseAndNormalizePage(linkURL.String())
		if err != nil {
			return
		}
		seen[normalized] = struct{}{}
	})

	links := make([]string, 0, len(seen))
	for l := range seen {
		links = append(links, l)
	}
	return links
}
