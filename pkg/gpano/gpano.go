// Package gpano embeds Google Photo Sphere (GPano) XMP metadata into JPEG
// files so viewers recognize the image as an equirectangular panorama.
package gpano

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
)

// xmpHeader is the APP1 payload prefix that identifies an XMP packet.
const xmpHeader = "http://ns.adobe.com/xap/1.0/\x00"

// ErrNotJPEG means the input does not start with a JPEG SOI marker.
var ErrNotJPEG = errors.New("data is not a JPEG stream")

const (
	markerPrefix = 0xFF
	markerSOI    = 0xD8
	markerAPP0   = 0xE0
	markerAPP1   = 0xE1
	markerCOM    = 0xFE
)

// PanoInfo describes the panorama geometry recorded in the XMP packet. The
// full dimensions are the complete sphere; the cropped fields locate a
// partial view within it. For an uncropped panorama the cropped area equals
// the full area at zero offset.
type PanoInfo struct {
	FullWidth     int
	FullHeight    int
	CroppedWidth  int
	CroppedHeight int
	CroppedLeft   int
	CroppedTop    int
	HeadingDeg    float64
}

// Full builds a PanoInfo for a complete, uncropped panorama.
func Full(width, height int, headingDeg float64) PanoInfo {
	return PanoInfo{
		FullWidth:     width,
		FullHeight:    height,
		CroppedWidth:  width,
		CroppedHeight: height,
		HeadingDeg:    headingDeg,
	}
}

func (p PanoInfo) xmpPacket() []byte {
	var buf bytes.Buffer
	buf.WriteString(`<x:xmpmeta xmlns:x="adobe:ns:meta/" x:xmptk="streetview-dl">`)
	buf.WriteString(`<rdf:RDF xmlns:rdf="http://www.w3.org/1999/02/22-rdf-syntax-ns#">`)
	buf.WriteString(`<rdf:Description rdf:about="" xmlns:GPano="http://ns.google.com/photos/1.0/panorama/">`)
	buf.WriteString(`<GPano:ProjectionType>equirectangular</GPano:ProjectionType>`)
	fmt.Fprintf(&buf, `<GPano:FullPanoWidthPixels>%d</GPano:FullPanoWidthPixels>`, p.FullWidth)
	fmt.Fprintf(&buf, `<GPano:FullPanoHeightPixels>%d</GPano:FullPanoHeightPixels>`, p.FullHeight)
	fmt.Fprintf(&buf, `<GPano:CroppedAreaImageWidthPixels>%d</GPano:CroppedAreaImageWidthPixels>`, p.CroppedWidth)
	fmt.Fprintf(&buf, `<GPano:CroppedAreaImageHeightPixels>%d</GPano:CroppedAreaImageHeightPixels>`, p.CroppedHeight)
	fmt.Fprintf(&buf, `<GPano:CroppedAreaLeftPixels>%d</GPano:CroppedAreaLeftPixels>`, p.CroppedLeft)
	fmt.Fprintf(&buf, `<GPano:CroppedAreaTopPixels>%d</GPano:CroppedAreaTopPixels>`, p.CroppedTop)
	fmt.Fprintf(&buf, `<GPano:PoseHeadingDegrees>%.2f</GPano:PoseHeadingDegrees>`, p.HeadingDeg)
	buf.WriteString(`</rdf:Description></rdf:RDF></x:xmpmeta>`)
	return buf.Bytes()
}

// Embed returns a copy of the JPEG stream with a GPano XMP APP1 segment
// inserted after the leading APP0/APP1/COM segments, keeping any JFIF or
// Exif header first as the format expects.
func Embed(jpegData []byte, info PanoInfo) ([]byte, error) {
	if len(jpegData) < 2 || jpegData[0] != markerPrefix || jpegData[1] != markerSOI {
		return nil, ErrNotJPEG
	}

	insertAt, err := insertionOffset(jpegData)
	if err != nil {
		return nil, err
	}

	packet := info.xmpPacket()
	payloadLen := len(xmpHeader) + len(packet)
	if payloadLen+2 > 0xFFFF {
		return nil, fmt.Errorf("xmp packet too large for a single APP1 segment: %d bytes", payloadLen)
	}

	segment := make([]byte, 0, payloadLen+4)
	segment = append(segment, markerPrefix, markerAPP1)
	segment = binary.BigEndian.AppendUint16(segment, uint16(payloadLen+2))
	segment = append(segment, xmpHeader...)
	segment = append(segment, packet...)

	out := make([]byte, 0, len(jpegData)+len(segment))
	out = append(out, jpegData[:insertAt]...)
	out = append(out, segment...)
	out = append(out, jpegData[insertAt:]...)
	return out, nil
}

// insertionOffset walks the segment chain from SOI and returns the offset
// just past the last leading APP0/APP1/COM segment.
func insertionOffset(data []byte) (int, error) {
	offset := 2
	for offset+4 <= len(data) {
		if data[offset] != markerPrefix {
			return 0, fmt.Errorf("malformed jpeg: expected marker at offset %d", offset)
		}
		marker := data[offset+1]
		if marker != markerAPP0 && marker != markerAPP1 && marker != markerCOM {
			return offset, nil
		}
		segLen := int(binary.BigEndian.Uint16(data[offset+2 : offset+4]))
		if segLen < 2 || offset+2+segLen > len(data) {
			return 0, fmt.Errorf("malformed jpeg: segment at offset %d overruns data", offset)
		}
		offset += 2 + segLen
	}
	return offset, nil
}
