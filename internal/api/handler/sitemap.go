package handler

import (
	"encoding/xml"
	"net/http"
	"time"
)

// Locales served by the front-end. The first one is the primary locale.
var sitemapLocales = []string{"es", "en", "pt", "fr", "de"}

type sitemapURLSet struct {
	XMLName xml.Name     `xml:"urlset"`
	Xmlns   string       `xml:"xmlns,attr"`
	URLs    []sitemapURL `xml:"url"`
}

type sitemapURL struct {
	Loc        string `xml:"loc"`
	LastMod    string `xml:"lastmod"`
	ChangeFreq string `xml:"changefreq"`
	Priority   string `xml:"priority"`
}

// SitemapHandler serves GET /sitemap.xml.
type SitemapHandler struct {
	baseURL string
	now     func() time.Time
}

// NewSitemapHandler creates a sitemap handler for the site rooted at
// baseURL, which must not end in a slash.
func NewSitemapHandler(baseURL string) *SitemapHandler {
	return &SitemapHandler{baseURL: baseURL, now: time.Now}
}

// Sitemap writes one entry per locale.
func (h *SitemapHandler) Sitemap(w http.ResponseWriter, r *http.Request) {
	lastMod := h.now().UTC().Format(time.RFC3339)

	set := sitemapURLSet{Xmlns: "http://www.sitemaps.org/schemas/sitemap/0.9"}
	for i, locale := range sitemapLocales {
		priority := "0.8"
		if i == 0 {
			priority = "1.0"
		}
		set.URLs = append(set.URLs, sitemapURL{
			Loc:        h.baseURL + "/" + locale,
			LastMod:    lastMod,
			ChangeFreq: "weekly",
			Priority:   priority,
		})
	}

	w.Header().Set("Content-Type", "application/xml; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(xml.Header))
	enc := xml.NewEncoder(w)
	enc.Indent("", "  ")
	enc.Encode(set)
}
