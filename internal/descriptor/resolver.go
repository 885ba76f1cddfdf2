package descriptor

import (
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"streetview-dl/internal/grid"
)

// ErrInvalidURL is returned when no panorama identifier can be located in a
// Maps URL.
var ErrInvalidURL = errors.New("could not extract panorama ID from URL")

var (
	// Embedded thumbnail URL inside the data parameter. Its query string
	// carries panoid, yaw and pitch, doubly URL-encoded.
	thumbnailRe = regexp.MustCompile(`https:%2F%2Fstreetviewpixels.*?%3F([^!]+)`)

	// Camera pose path segments: <fov>y,<heading>h,<tilt>t.
	cameraRe = regexp.MustCompile(`,([0-9.]+)y,([0-9.-]+)h,([0-9.-]+)t`)

	// The !1s token right after !3m5 names the panorama.
	dataTokenRe = regexp.MustCompile(`!3m5!1s([^!]+)`)

	// Direct panoid query parameter (map_action=pano URLs).
	panoidRe = regexp.MustCompile(`[?&]panoid=([^&]+)`)
)

// FromURL extracts a panorama ID and viewing pose from a Google Maps URL and
// returns a canonical descriptor. Recognized shapes, in order of preference:
// the embedded streetviewpixels thumbnail query, the camera path segments
// combined with the !3m5!1s data token, and a plain panoid= parameter.
func FromURL(raw string, tier grid.Tier) (ViewDescriptor, error) {
	parsed, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return ViewDescriptor{}, fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}

	// Search path and query together; Maps packs data into both and the
	// interesting tokens survive URL-encoding either way.
	haystack := parsed.Path + "?" + parsed.RawQuery

	d := ViewDescriptor{Tier: tier}

	// Preferred: the thumbnail query string carries pose and ID together.
	if m := thumbnailRe.FindStringSubmatch(haystack); m != nil {
		qs := strings.NewReplacer("%26", "&", "%3D", "=").Replace(m[1])
		if values, err := url.ParseQuery(qs); err == nil {
			d.PanoramaID = values.Get("panoid")
			if yaw, err := strconv.ParseFloat(values.Get("yaw"), 64); err == nil {
				d.HeadingDeg = normalizeHeading(yaw)
				d.HasCamera = true
			}
			if pitch, err := strconv.ParseFloat(values.Get("pitch"), 64); err == nil {
				d.PitchDeg = clampPitch(pitch)
			}
		}
	}

	// Camera path segments. The tilt value is 90 at the horizon, so pitch
	// is tilt-90.
	if !d.HasCamera {
		if m := cameraRe.FindStringSubmatch(haystack); m != nil {
			if heading, err := strconv.ParseFloat(m[2], 64); err == nil {
				d.HeadingDeg = normalizeHeading(heading)
				d.HasCamera = true
			}
			if tilt, err := strconv.ParseFloat(m[3], 64); err == nil {
				d.PitchDeg = clampPitch(tilt - 90)
			}
		}
	}

	if d.PanoramaID == "" {
		if m := dataTokenRe.FindStringSubmatch(haystack); m != nil {
			d.PanoramaID = m[1]
		}
	}
	if d.PanoramaID == "" {
		if m := panoidRe.FindStringSubmatch(haystack); m != nil {
			if id, err := url.QueryUnescape(m[1]); err == nil {
				d.PanoramaID = id
			} else {
				d.PanoramaID = m[1]
			}
		}
	}

	if d.PanoramaID == "" {
		return ViewDescriptor{}, ErrInvalidURL
	}
	return d, nil
}

// LooksLikeMapsURL is a cheap pre-check that a string plausibly points at
// Street View before any parsing work.
func LooksLikeMapsURL(raw string) bool {
	if raw == "" {
		return false
	}
	lower := strings.ToLower(raw)
	if !strings.Contains(lower, "maps.google.") && !strings.Contains(lower, "google.com/maps") {
		return false
	}
	for _, indicator := range []string{"3a,", "streetview", "!1e1", "data=!3m", "panoid="} {
		if strings.Contains(raw, indicator) {
			return true
		}
	}
	return false
}
