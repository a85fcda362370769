package scanner

import (
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"sigverify/imageprocessor"
	"sigverify/types"
)

// CEDAR names files original_<signer>_<n>.<ext> and forgeries_<signer>_<n>.<ext>
var samplePattern = regexp.MustCompile(`^(original|forgeries|forgery)_(\d+)_(\d+)$`)

// ParseSampleName extracts signer, kind and sample number from a corpus file
// name. ok is false for files that are not corpus images.
func ParseSampleName(path string) (signer int, kind types.SampleKind, index int, ok bool) {
	if !imageprocessor.IsImageFile(path) {
		return 0, 0, 0, false
	}
	base := filepath.Base(path)
	stem := strings.ToLower(strings.TrimSuffix(base, filepath.Ext(base)))
	m := samplePattern.FindStringSubmatch(stem)
	if m == nil {
		return 0, 0, 0, false
	}
	signer, err := strconv.Atoi(m[2])
	if err != nil {
		return 0, 0, 0, false
	}
	index, err = strconv.Atoi(m[3])
	if err != nil {
		return 0, 0, 0, false
	}
	kind = types.Original
	if m[1] != "original" {
		kind = types.Forgery
	}
	return signer, kind, index, true
}
