package client

import "encoding/json"

// Metadata is the tile service's description of a panorama. Field names
// match the API response; URLYaw/URLPitch are filled in from the source URL
// by the caller and only appear in the JSON sidecar.
type Metadata struct {
	PanoID      string  `json:"panoId"`
	ImageWidth  int     `json:"imageWidth"`
	ImageHeight int     `json:"imageHeight"`
	TileWidth   int     `json:"tileWidth"`
	TileHeight  int     `json:"tileHeight"`
	Lat         float64 `json:"lat,omitempty"`
	Lng         float64 `json:"lng,omitempty"`
	Date        string  `json:"date,omitempty"`
	Copyright   string  `json:"copyright,omitempty"`

	// Links points at neighboring panoramas; kept opaque for the sidecar.
	Links json.RawMessage `json:"links,omitempty"`

	URLYaw   *float64 `json:"urlYaw,omitempty"`
	URLPitch *float64 `json:"urlPitch,omitempty"`
}

// Sidecar renders the metadata as indented JSON for the .json sidecar file.
func (m *Metadata) Sidecar() ([]byte, error) {
	return json.MarshalIndent(m, "", "  ")
}
