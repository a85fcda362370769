package imageprocessor

import (
	"encoding/base64"
	"errors"
	"strings"

	"sigverify/sigerr"
	"sigverify/types"
)

// DecodePayload turns base64 text into raw image bytes. A data URI prefix
// such as "data:image/png;base64," is stripped first.
func DecodePayload(payload string) ([]byte, error) {
	s := strings.TrimSpace(payload)
	if strings.HasPrefix(s, "data:") {
		parts := strings.SplitN(s, ",", 2)
		if len(parts) != 2 {
			return nil, &sigerr.DecodeError{Source: "payload", Err: errors.New("malformed data URI")}
		}
		s = parts[1]
	} else if i := strings.IndexByte(s, ','); i >= 0 {
		s = s[i+1:]
	}
	if s == "" {
		return nil, &sigerr.DecodeError{Source: "payload", Err: errors.New("empty payload")}
	}

	raw, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		// some clients drop the padding
		raw, err = base64.RawStdEncoding.DecodeString(strings.TrimRight(s, "="))
		if err != nil {
			return nil, &sigerr.DecodeError{Source: "payload", Err: err}
		}
	}
	return raw, nil
}

// NormalizePayload decodes base64 text and normalizes the image it holds
func NormalizePayload(name, payload string, shape Shape) (*types.Tensor, error) {
	raw, err := DecodePayload(payload)
	if err != nil {
		var de *sigerr.DecodeError
		if errors.As(err, &de) {
			de.Source = name
		}
		return nil, err
	}
	return NormalizeNamed(name, raw, shape)
}
