// Package listing turns raw source records into canonical listings.
package listing

import (
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	"house_hunter/internal/domain"
)

var (
	// /koop/leusden/huis-43669755-rondeel-79/
	urlObjectPattern = regexp.MustCompile(`/(?:huis|appartement|woning)-(\d+)-([^/]+)/?`)
	urlCityPattern   = regexp.MustCompile(`/(?:koop|huur)/([^/]+)/`)

	plainPricePattern  = regexp.MustCompile(`^-?\d+$`)
	pricePattern       = regexp.MustCompile(`(-?)\s*€?\s*(\d{1,3}(?:[.,]\d{3})+|\d+)`)
	thousandsSeparator = strings.NewReplacer(".", "", ",", "")
)

// Normalize maps a raw listing onto a Listing. Missing id, address or city are
// recovered from the listing URL when it follows the source's object path.
// The result depends only on raw.
func Normalize(raw domain.RawListing) (domain.Listing, error) {
	rawURL := strings.TrimSpace(raw.URL)
	if rawURL == "" {
		return domain.Listing{}, malformed("url", "missing")
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return domain.Listing{}, malformed("url", fmt.Sprintf("not an absolute url: %q", rawURL))
	}

	id := strings.TrimSpace(raw.ID)
	address := strings.TrimSpace(raw.Address)
	city := strings.TrimSpace(raw.City)

	if m := urlObjectPattern.FindStringSubmatch(u.Path); m != nil {
		if id == "" {
			id = m[1]
		}
		if address == "" {
			address = slugToTitle(m[2])
		}
	}
	if city == "" {
		if m := urlCityPattern.FindStringSubmatch(u.Path); m != nil {
			city = slugToTitle(m[1])
		}
	}

	if id == "" {
		return domain.Listing{}, malformed("listing_id", "missing")
	}
	if address == "" {
		return domain.Listing{}, malformed("street_address", "missing")
	}
	if city == "" {
		return domain.Listing{}, malformed("city", "missing")
	}

	price, err := ParsePrice(raw.Price)
	if err != nil {
		return domain.Listing{}, err
	}

	return domain.Listing{
		ID:            id,
		URL:           rawURL,
		Price:         price,
		StreetAddress: address,
		City:          city,
	}, nil
}

// ParsePrice coerces plain integers and display prices such as
// "€ 350.000 k.k." to a non-negative amount.
func ParsePrice(raw string) (int64, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, malformed("price", "missing")
	}

	digits := ""
	negative := false
	if plainPricePattern.MatchString(s) {
		digits = strings.TrimPrefix(s, "-")
		negative = strings.HasPrefix(s, "-")
	} else {
		m := pricePattern.FindStringSubmatch(s)
		if m == nil {
			return 0, malformed("price", fmt.Sprintf("no amount in %q", s))
		}
		negative = m[1] != ""
		digits = thousandsSeparator.Replace(m[2])
	}

	price, err := strconv.ParseInt(digits, 10, 64)
	if err != nil {
		return 0, malformed("price", fmt.Sprintf("parse %q: %v", s, err))
	}
	if negative {
		return 0, malformed("price", fmt.Sprintf("negative amount %q", s))
	}
	return price, nil
}

func slugToTitle(slug string) string {
	words := strings.Split(slug, "-")
	for i, w := range words {
		if w == "" {
			continue
		}
		r, size := utf8.DecodeRuneInString(w)
		words[i] = string(unicode.ToUpper(r)) + strings.ToLower(w[size:])
	}
	return strings.Join(words, " ")
}

func malformed(field, reason string) error {
	return fmt.Errorf("%w: %s: %s", domain.ErrMalformedListing, field, reason)
}
