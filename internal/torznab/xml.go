// Package torznab implements the indexer façade: a Torznab-subset XML
// API whose releases are synthetic magnets over catalogue episodes.
package torznab

import "encoding/xml"

const torznabNS = "http://torznab.com/schemas/2015/feed"

// CapsResponse is the t=caps document.
type CapsResponse struct {
	XMLName    xml.Name       `xml:"caps"`
	Server     CapsServer     `xml:"server"`
	Limits     CapsLimits     `xml:"limits"`
	Searching  CapsSearching  `xml:"searching"`
	Categories CapsCategories `xml:"categories"`
}

type CapsServer struct {
	Title   string `xml:"title,attr"`
	Version string `xml:"version,attr"`
}

type CapsLimits struct {
	Max     int `xml:"max,attr"`
	Default int `xml:"default,attr"`
}

type CapsSearching struct {
	Search      CapsSearch `xml:"search"`
	TVSearch    CapsSearch `xml:"tv-search"`
	MovieSearch CapsSearch `xml:"movie-search"`
}

type CapsSearch struct {
	Available       string `xml:"available,attr"`
	SupportedParams string `xml:"supportedParams,attr"`
}

type CapsCategories struct {
	Categories []CapsCategory `xml:"category"`
}

type CapsCategory struct {
	ID      int            `xml:"id,attr"`
	Name    string         `xml:"name,attr"`
	Subcats []CapsCategory `xml:"subcat,omitempty"`
}

// Feed is the RSS document returned by search operations.
type Feed struct {
	XMLName   xml.Name `xml:"rss"`
	Version   string   `xml:"version,attr"`
	TorznabNS string   `xml:"xmlns:torznab,attr"`
	Channel   Channel  `xml:"channel"`
}

type Channel struct {
	Title       string `xml:"title"`
	Description string `xml:"description"`
	Items       []Item `xml:"item"`
}

// Item is one synthetic release.
type Item struct {
	Title     string    `xml:"title"`
	GUID      string    `xml:"guid"`
	Link      string    `xml:"link"`
	Size      int64     `xml:"size"`
	PubDate   string    `xml:"pubDate"`
	Category  int       `xml:"category"`
	Enclosure Enclosure `xml:"enclosure"`
	Attrs     []Attr    `xml:"torznab:attr"`
}

type Enclosure struct {
	URL    string `xml:"url,attr"`
	Length int64  `xml:"length,attr"`
	Type   string `xml:"type,attr"`
}

type Attr struct {
	Name  string `xml:"name,attr"`
	Value string `xml:"value,attr"`
}

// ErrorResponse is the Torznab error document.
type ErrorResponse struct {
	XMLName     xml.Name `xml:"error"`
	Code        int      `xml:"code,attr"`
	Description string   `xml:"description,attr"`
}

// NewFeed creates an empty feed with the namespace declared.
func NewFeed(title string) *Feed {
	return &Feed{
		Version:   "2.0",
		TorznabNS: torznabNS,
		Channel: Channel{
			Title:       title,
			Description: "AniBridge indexer",
		},
	}
}
