package model

import (
	"encoding/json"
	"strings"

	"listing-inspector/internal/utils"
)

// AnalyzeRequest is the body the browser extension posts for one listing
type AnalyzeRequest struct {
	URL          string         `json:"url" binding:"required"`
	ForceRefresh bool           `json:"force_refresh"`
	Data         ListingPayload `json:"data"`
}

// ListingPayload mirrors the scraped listing as sent by the extension.
// Scalars arrive loosely typed and are coerced in ToListingContext.
type ListingPayload struct {
	Title           string      `json:"title,omitempty"`
	SellerName      string      `json:"sellerName,omitempty"`
	SellerAgeMonths FlexInt     `json:"sellerAgeMonths"`
	SalesCount      FlexInt     `json:"salesCount"`
	ListingAgeDays  FlexInt     `json:"listingAgeDays"`
	Images          []ImageRef  `json:"images"`
	Reviews         []RawReview `json:"reviews"`
}

// RawReview is a review as scraped
type RawReview struct {
	Text   FlexString `json:"text"`
	Rating FlexInt    `json:"rating"`
	Images []ImageRef `json:"images"`
	Date   FlexString `json:"date,omitempty"`
}

// ToListingContext builds the typed listing used by the risk engine
func (p ListingPayload) ToListingContext(url string) ListingContext {
	lc := ListingContext{
		URL:             CanonicalURL(url),
		Title:           strings.TrimSpace(p.Title),
		SellerName:      strings.TrimSpace(p.SellerName),
		SellerAgeMonths: p.SellerAgeMonths.Ptr(),
		SalesCount:      p.SalesCount.Ptr(),
		ListingAgeDays:  p.ListingAgeDays.Ptr(),
		Images:          p.ValidImageURLs(),
		Reviews:         make([]Review, 0, len(p.Reviews)),
	}

	for _, raw := range p.Reviews {
		r := Review{
			Text:   strings.TrimSpace(string(raw.Text)),
			Rating: raw.Rating.Ptr(),
			Date:   strings.TrimSpace(string(raw.Date)),
		}
		for _, img := range raw.Images {
			if img.URL != "" {
				r.Images = append(r.Images, img.URL)
			}
		}
		lc.Reviews = append(lc.Reviews, r)
	}

	return lc
}

// ValidImageURLs keeps listing images that can be fetched, in order
func (p ListingPayload) ValidImageURLs() []string {
	var urls []string
	for _, img := range p.Images {
		if IsFetchableImageURL(img.URL) {
			urls = append(urls, img.URL)
		}
	}
	return urls
}

// FlexInt decodes numbers, numeric strings, or junk without failing the request.
// Valid is false when the value was absent or could not be coerced.
type FlexInt struct {
	Value int
	Valid bool
}

// UnmarshalJSON never returns an error
func (f *FlexInt) UnmarshalJSON(data []byte) error {
	*f = FlexInt{}
	var raw interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil
	}
	if v, ok := utils.CoerceInt(raw); ok {
		*f = FlexInt{Value: v, Valid: true}
	}
	return nil
}

// MarshalJSON writes null for absent values
func (f FlexInt) MarshalJSON() ([]byte, error) {
	if !f.Valid {
		return []byte("null"), nil
	}
	return json.Marshal(f.Value)
}

// Ptr returns nil when the value is absent
func (f FlexInt) Ptr() *int {
	if !f.Valid {
		return nil
	}
	v := f.Value
	return &v
}

// FlexString accepts strings and stringifies plain scalars; other shapes become empty
type FlexString string

// UnmarshalJSON never returns an error
func (s *FlexString) UnmarshalJSON(data []byte) error {
	*s = ""
	var raw interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil
	}
	switch v := raw.(type) {
	case string:
		*s = FlexString(v)
	case float64, bool:
		b, _ := json.Marshal(v)
		*s = FlexString(b)
	}
	return nil
}

// imageURLKeys is the lookup order for image objects emitted by different scrapers
var imageURLKeys = []string{"contentURL", "url", "src", "thumbnail", "image"}

// ImageRef is an image given either as a bare URL string or as an object
type ImageRef struct {
	URL string
}

// UnmarshalJSON never returns an error; unusable shapes yield an empty URL
func (r *ImageRef) UnmarshalJSON(data []byte) error {
	*r = ImageRef{}

	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		r.URL = strings.TrimSpace(s)
		return nil
	}

	var obj map[string]interface{}
	if err := json.Unmarshal(data, &obj); err != nil {
		return nil
	}
	for _, key := range imageURLKeys {
		if v, ok := obj[key].(string); ok && strings.TrimSpace(v) != "" {
			r.URL = strings.TrimSpace(v)
			return nil
		}
	}
	return nil
}

// MarshalJSON writes the URL as a string
func (r ImageRef) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.URL)
}
