// Package metadata parses and encodes the Upload-Metadata header used by
// the TUS creation extension.
package metadata

import (
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
)

// Metadata holds the caller-supplied values carried on an upload, decoded
// from a single Upload-Metadata header.
type Metadata struct {
	Filename         string
	Filetype         string
	WithFilename     string
	OnDuplicate      string
	DestinationPath  string
	MultipartID      string
	PartIndex        int   // 0 means absent
	TotalParts       int   // 0 means absent
	OriginalFileSize int64 // -1 means absent
}

// IsMultipartPart reports whether this upload is one part of a multipart
// group, as opposed to a solo upload.
func (m Metadata) IsMultipartPart() bool {
	return m.MultipartID != "" && m.PartIndex > 0 && m.TotalParts > 1
}

// Parse decodes a comma-separated "key base64(value)" Upload-Metadata
// header. Empty or malformed pairs are silently dropped, matching the TUS
// creation extension's documented tolerance.
func Parse(header string) Metadata {
	m := Metadata{OriginalFileSize: -1}

	if header == "" {
		return m
	}

	for _, pair := range strings.Split(header, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}

		kv := strings.SplitN(pair, " ", 2)
		key := kv[0]
		if key == "" {
			continue
		}

		var value string
		if len(kv) == 2 {
			decoded, err := base64.StdEncoding.DecodeString(kv[1])
			if err != nil {
				continue
			}
			value = string(decoded)
		}

		switch key {
		case "filename":
			m.Filename = value
		case "filetype":
			m.Filetype = value
		case "withFilename":
			m.WithFilename = value
		case "onDuplicate":
			m.OnDuplicate = value
		case "destinationPath":
			m.DestinationPath = value
		case "multipartId":
			m.MultipartID = value
		case "partIndex":
			if n, err := strconv.Atoi(value); err == nil {
				m.PartIndex = n
			}
		case "totalParts":
			if n, err := strconv.Atoi(value); err == nil {
				m.TotalParts = n
			}
		case "originalFileSize":
			if n, err := strconv.ParseInt(value, 10, 64); err == nil {
				m.OriginalFileSize = n
			}
		}
	}

	return m
}

// Encode serializes Metadata back into an Upload-Metadata header value.
// Used by the client scheduler when issuing TUS create requests.
func Encode(m Metadata) string {
	var pairs []string

	add := func(key, value string) {
		pairs = append(pairs, fmt.Sprintf("%s %s", key, base64.StdEncoding.EncodeToString([]byte(value))))
	}

	add("filename", m.Filename)
	add("filetype", m.Filetype)
	add("withFilename", m.WithFilename)
	add("onDuplicate", m.OnDuplicate)
	add("destinationPath", m.DestinationPath)

	if m.MultipartID != "" {
		add("multipartId", m.MultipartID)
		add("partIndex", strconv.Itoa(m.PartIndex))
		add("totalParts", strconv.Itoa(m.TotalParts))
		add("originalFileSize", strconv.FormatInt(m.OriginalFileSize, 10))
	}

	return strings.Join(pairs, ",")
}
