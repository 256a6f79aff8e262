package extract

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// noiseAncestorRe matches class/id/data-section-name blobs of containers
// that hold teasers, related-article cards, ads, and site chrome. Includes
// the Turkish site vocabulary the patterns were tuned on.
var noiseAncestorRe = regexp.MustCompile(`(?i)(?:` +
	`\brelated\b|\brecommend\b|\brecommended\b|\bmore\b|\bother\b|\bsimilar\b|\btrending\b|` +
	`\bnews-item\b|\bnews-box\b|\bnews-row\b|\bmanset\b|\bheadline\b|` +
	`\bcard\b|\bgrid\b|\bfeed\b|\blist\b|\blisting\b|\bteaser\b|\bthumb\b|\bthumbnail\b|` +
	`\bwidget\b|\bsidebar\b|\bfooter\b|\bpost-list\b|\bentry-thumbnail\b|\blatest-news-wrapper\b|\bsimulated-link\b|` +
	`\bad\b|\bads\b|\badvert\b|\bbanner\b|\bpromo\b|\bsponsor\b|\boutbrain\b|\btaboola\b|` +
	`\bilgili\b|\bbenzer\b|\bdiger\b|` +
	`my-header|global-header|service-sub-menu|service-sub-menu-wrap|menu-logo|` +
	`navbar|nav\b|menu\b|topbar|site-header|` +
	`lig-listesi|service-.*header` +
	`)`)

// contentScopeSelectors are scored candidates for the main content area,
// tried after the site-specific fast paths.
var contentScopeSelectors = []string{
	"article",
	"main",
	`[role="main"]`,
	".entry-content",
	".post-content",
	".article-body",
	".content",
	".story-content",
	".news-content",
	".detail-content",
}

// noiseBlockSelectors are pruned out of the chosen content root before
// extraction.
var noiseBlockSelectors = []string{
	"aside", "#sidebar", ".sidebar", "[class*='sidebar']",
	".post-list", ".entry-thumbnail", ".latest-news-wrapper",
	".simulated-link", ".compact",
	".related", ".recommend", ".recommended", ".more", ".other", ".similar", ".trending",
	".widget", ".footer", "footer",
}

// SelectContentRoot picks the main content container of a page. Fast paths
// for known site layouts first, then the scored generic selectors (text
// length plus a bonus for holding an image), finally the whole document.
func SelectContentRoot(doc *goquery.Document) *goquery.Selection {
	if el := doc.Find("#page-article").First(); el.Length() > 0 {
		return el
	}

	var colMatch *goquery.Selection
	doc.Find(".col-sm-8").EachWithBreak(func(_ int, el *goquery.Selection) bool {
		if el.ParentsFiltered("header, nav, footer, aside").Length() == 0 {
			colMatch = el
			return false
		}
		return true
	})
	if colMatch != nil {
		return colMatch
	}

	var best *goquery.Selection
	bestScore := -1
	for _, sel := range contentScopeSelectors {
		doc.Find(sel).Each(func(_ int, el *goquery.Selection) {
			txt := strings.TrimSpace(el.Text())
			score := len(txt)
			if el.Find("img").Length() > 0 {
				score += 500
			}
			if score > bestScore {
				bestScore = score
				best = el
			}
		})
	}
	if best != nil {
		return best
	}

	return doc.Selection
}

// PruneNoiseBlocks removes sidebar/related/nav blocks from the content root.
func PruneNoiseBlocks(root *goquery.Selection) {
	for _, sel := range noiseBlockSelectors {
		root.Find(sel).Remove()
	}
}

// hasNoiseAncestor walks up from the tag looking for a chrome or teaser
// container within maxHops parents.
func hasNoiseAncestor(tag *goquery.Selection, maxHops int) bool {
	cur := tag
	for hops := 0; hops < maxHops && cur.Length() > 0; hops++ {
		name := goquery.NodeName(cur)
		if name == "header" || name == "nav" {
			return true
		}
		blob := strings.TrimSpace(strings.Join([]string{
			cur.AttrOr("class", ""),
			cur.AttrOr("id", ""),
			cur.AttrOr("data-section-name", ""),
		}, " "))
		if blob != "" && noiseAncestorRe.MatchString(blob) {
			return true
		}
		cur = cur.Parent()
	}
	return false
}

// smallFromAttrs reports declared thumbnail-sized dimensions. Both width
// and height must be present; missing attributes never veto.
func smallFromAttrs(tag *goquery.Selection, minSide, minArea int) bool {
	w, wOK := parseDim(tag.AttrOr("width", ""))
	h, hOK := parseDim(tag.AttrOr("height", ""))
	if !wOK || !hOK || w <= 0 || h <= 0 {
		return false
	}
	if min(w, h) < minSide {
		return true
	}
	return w*h < minArea
}

func parseDim(s string) (int, bool) {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, false
	}
	return n, true
}

// skipLinkedMedia vetoes media tags wrapped in a link when they sit in a
// noise container or declare thumbnail dimensions. Unlinked media is never
// vetoed here.
func skipLinkedMedia(tag *goquery.Selection, maxHops, minSide, minArea int) bool {
	if tag.ParentsFiltered("a").Length() == 0 {
		return false
	}
	if hasNoiseAncestor(tag, maxHops) {
		return true
	}
	return smallFromAttrs(tag, minSide, minArea)
}
