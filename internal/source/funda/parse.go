package funda

import (
	"fmt"
	"io"
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"house_hunter/internal/domain"
)

var (
	objectPathPattern = regexp.MustCompile(`/(?:koop|huur)/[^/]+/(?:huis|appartement|woning)-(\d+)-[^/]+/?$`)
	postalCodePrefix  = regexp.MustCompile(`^\d{4}\s?[A-Za-z]{2}\s+`)
)

const (
	resultSelector = `[data-test-id="search-result-item"]`
	linkSelector   = `a[href]`
	priceSelector  = `[data-test-id="price-sale"], [data-test-id="price-rent"], [data-test-id="price"]`
	streetSelector = `[data-test-id="street-name-house-number"]`
	postalSelector = `[data-test-id="postal-code-city"]`
)

// parseSearchPage extracts one RawListing per search result card. Cards
// without an object link are skipped; any other gaps are left for the
// normalizer to fill from the URL or reject.
func parseSearchPage(r io.Reader, base *url.URL) ([]domain.RawListing, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}

	var listings []domain.RawListing
	doc.Find(resultSelector).Each(func(_ int, card *goquery.Selection) {
		link, id := objectLink(card, base)
		if link == "" {
			return
		}

		listings = append(listings, domain.RawListing{
			ID:      id,
			URL:     link,
			Price:   text(card.Find(priceSelector).First()),
			Address: text(card.Find(streetSelector).First()),
			City:    cityFromPostal(text(card.Find(postalSelector).First())),
		})
	})

	return listings, nil
}

func objectLink(card *goquery.Selection, base *url.URL) (string, string) {
	var link, id string
	card.Find(linkSelector).EachWithBreak(func(_ int, a *goquery.Selection) bool {
		href, _ := a.Attr("href")
		ref, err := url.Parse(strings.TrimSpace(href))
		if err != nil {
			return true
		}
		abs := base.ResolveReference(ref)
		abs.RawQuery = ""
		abs.Fragment = ""

		m := objectPathPattern.FindStringSubmatch(abs.Path)
		if m == nil {
			return true
		}
		link, id = abs.String(), m[1]
		return false
	})
	return link, id
}

// cityFromPostal turns "3831 KC Leusden" into "Leusden".
func cityFromPostal(s string) string {
	return strings.TrimSpace(postalCodePrefix.ReplaceAllString(s, ""))
}

func text(sel *goquery.Selection) string {
	return strings.Join(strings.Fields(sel.Text()), " ")
}
