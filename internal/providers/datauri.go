package providers

import (
	"encoding/base64"
	"fmt"
	"strings"
)

// DataURI is an inline image reference of the form data:<mime>;base64,<payload>.
type DataURI struct {
	MIMEType string
	Base64   string
}

// ParseDataURI splits ref at the comma. ok is false for hosted URLs.
func ParseDataURI(ref string) (DataURI, bool) {
	if !strings.HasPrefix(ref, "data:") {
		return DataURI{}, false
	}
	head, payload, found := strings.Cut(ref, ",")
	if !found {
		return DataURI{}, false
	}
	mime := strings.TrimPrefix(head, "data:")
	mime, _, _ = strings.Cut(mime, ";")
	return DataURI{MIMEType: mime, Base64: payload}, true
}

func (d DataURI) Bytes() ([]byte, error) {
	b, err := base64.StdEncoding.DecodeString(d.Base64)
	if err != nil {
		return nil, fmt.Errorf("decode data uri: %w", err)
	}
	return b, nil
}

func (d DataURI) MIMEOr(def string) string {
	if strings.TrimSpace(d.MIMEType) == "" {
		return def
	}
	return d.MIMEType
}

func EncodeDataURI(mime string, data []byte) string {
	return "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(data)
}
