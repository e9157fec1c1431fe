package ipfs

import (
	"bytes"
	"encoding/json"
)

// Fixed URLs used when building event image links
const (
	GatewayURLPrefix = "https://ipfs.io/ipfs/"
	FallbackImageURL = "https://ipfs.io/ipfs/bafybeibssbrlptcefbqfh4vpw2wlmqfj2kgxt3nil4yujxbmdznau3t5wi/event.png"
)

// MetadataFile is the document each event CID is expected to contain
const MetadataFile = "data.json"

// Metadata is the optional descriptive part of an event. A nil field was
// absent from the document or was not a string.
type Metadata struct {
	Name        *string
	Description *string
	Link        *string
	Image       *string
}

// MetadataPath returns the IPFS path of the metadata document for cid
func MetadataPath(cid string) string {
	return cid + "/" + MetadataFile
}

// ParseMetadata decodes a metadata document. It reports false when data is
// not a JSON object.
func ParseMetadata(data []byte) (Metadata, bool) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil || fields == nil {
		return Metadata{}, false
	}

	return Metadata{
		Name:        stringField(fields, "name"),
		Description: stringField(fields, "description"),
		Link:        stringField(fields, "link"),
		Image:       stringField(fields, "image"),
	}, true
}

// ImageURL joins the gateway prefix, the CID and the image path. Events
// without an image get FallbackImageURL.
func ImageURL(cid string, image *string) string {
	if image == nil {
		return FallbackImageURL
	}
	return GatewayURLPrefix + cid + *image
}

func stringField(fields map[string]json.RawMessage, key string) *string {
	raw, ok := fields[key]
	if !ok || bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		return nil
	}
	var value string
	if err := json.Unmarshal(raw, &value); err != nil {
		return nil
	}
	return &value
}
