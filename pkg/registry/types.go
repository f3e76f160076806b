package registry

import "encoding/json"

// Package is the stored metadata for a published package
type Package struct {
	Name      string            `json:"name"`
	DistTags  map[string]string `json:"dist-tags"`
	CreatedAt int64             `json:"createdAt"` // epoch milliseconds
	UpdatedAt int64             `json:"updatedAt"` // epoch milliseconds
}

// Release is one published version of a package. The manifest is stored
// verbatim as the client sent it.
type Release struct {
	Package   string          `json:"package"`
	Version   string          `json:"version"`
	Tag       string          `json:"tag"`
	Manifest  json.RawMessage `json:"manifest"`
	CreatedAt int64           `json:"createdAt"`
}

// Metadata is the package document served to npm clients
type Metadata struct {
	ID       string                     `json:"_id"`
	Name     string                     `json:"name"`
	DistTags map[string]string          `json:"dist-tags"`
	Versions map[string]json.RawMessage `json:"versions"`
}

// PublishRequest is the npm publish payload (PUT /:package). Version
// manifests are kept raw; only the fields needed for validation are probed.
type PublishRequest struct {
	ID          string                     `json:"_id"`
	Name        string                     `json:"name"`
	DistTags    map[string]string          `json:"dist-tags"`
	Versions    map[string]json.RawMessage `json:"versions"`
	Attachments map[string]Attachment      `json:"_attachments"`
}

// Attachment is a base64-encoded tarball embedded in a publish payload
type Attachment struct {
	ContentType string `json:"content_type"`
	Data        string `json:"data"`
	Length      int    `json:"length"`
}

// manifestProbe extracts the distribution block from a raw version manifest
type manifestProbe struct {
	Dist struct {
		Integrity string `json:"integrity"`
		Shasum    string `json:"shasum"`
		Tarball   string `json:"tarball"`
	} `json:"dist"`
}
