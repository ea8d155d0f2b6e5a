package model

import "strings"

// ListingContext is the typed view of a marketplace listing that scoring works on.
// Optional seller figures are nil when the extension could not scrape them.
type ListingContext struct {
	URL             string   `json:"url"`
	Title           string   `json:"title,omitempty"`
	SellerName      string   `json:"seller_name,omitempty"`
	SellerAgeMonths *int     `json:"seller_age_months,omitempty"`
	SalesCount      *int     `json:"sales_count,omitempty"`
	ListingAgeDays  *int     `json:"listing_age_days,omitempty"`
	Images          []string `json:"images,omitempty"`
	Reviews         []Review `json:"reviews"`
}

// Review is one buyer review in display order
type Review struct {
	Text   string   `json:"text"`
	Rating *int     `json:"rating,omitempty"`
	Images []string `json:"images,omitempty"`
	Date   string   `json:"date,omitempty"`
}

// HasPhotos reports whether the buyer attached at least one photo
func (r Review) HasPhotos() bool {
	return len(r.Images) > 0
}

// ReviewsWithPhotos counts reviews carrying buyer photos
func (l *ListingContext) ReviewsWithPhotos() int {
	n := 0
	for _, r := range l.Reviews {
		if r.HasPhotos() {
			n++
		}
	}
	return n
}

// ReviewDates returns the non-empty review dates in display order
func (l *ListingContext) ReviewDates() []string {
	var dates []string
	for _, r := range l.Reviews {
		if d := strings.TrimSpace(r.Date); d != "" {
			dates = append(dates, d)
		}
	}
	return dates
}

// ReviewImageURLs flattens review photos that are fetchable over http(s)
func (l *ListingContext) ReviewImageURLs() []string {
	var urls []string
	for _, r := range l.Reviews {
		for _, img := range r.Images {
			if IsFetchableImageURL(img) {
				urls = append(urls, img)
			}
		}
	}
	return urls
}

// CanonicalURL strips the query string, which marketplaces use for tracking
func CanonicalURL(raw string) string {
	raw = strings.TrimSpace(raw)
	if i := strings.IndexByte(raw, '?'); i >= 0 {
		return raw[:i]
	}
	return raw
}

// IsFetchableImageURL accepts only absolute http(s) URLs
func IsFetchableImageURL(u string) bool {
	lower := strings.ToLower(strings.TrimSpace(u))
	return strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://")
}
