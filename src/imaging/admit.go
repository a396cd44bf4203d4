package imaging

import (
	"strings"

	"github.com/apex/log"
	"github.com/gabriel-vasile/mimetype"

	"github.com/Protocol-Lattice/roomcleaner/src/errs"
)

// Output is the MIME type of every governed image.
const Output = "image/jpeg"

var allowedMIME = map[string]struct{}{
	"image/jpeg": {},
	"image/png":  {},
	"image/gif":  {},
	"image/webp": {},
}

var mimeAliases = map[string]string{
	"image/jpg":   "image/jpeg",
	"image/pjpeg": "image/jpeg",
	"image/x-png": "image/png",
}

// Asset is an image as handed to the core.
type Asset struct {
	Data     []byte
	MIMEType string
}

// Size is the byte length of the payload.
func (a Asset) Size() int64 { return int64(len(a.Data)) }

// NormalizeMIME lowercases m, drops parameters and resolves aliases.
func NormalizeMIME(m string) string {
	if i := strings.IndexByte(m, ';'); i >= 0 {
		m = m[:i]
	}
	m = strings.ToLower(strings.TrimSpace(m))
	if canon, ok := mimeAliases[m]; ok {
		return canon
	}
	return m
}

// Allowed reports whether m (after normalization) may be analysed.
func Allowed(m string) bool {
	_, ok := allowedMIME[NormalizeMIME(m)]
	return ok
}

// Admit runs the checks that must pass before any decoding: non-empty
// payload, byte ceiling and MIME allow-list. The returned asset carries the
// normalized MIME type.
func Admit(a Asset, l Limits) (Asset, error) {
	const op = "imaging.admit"

	if len(a.Data) == 0 {
		return Asset{}, errs.Image(op, "image is empty")
	}
	if l.MaxBytes > 0 && a.Size() > l.MaxBytes {
		return Asset{}, errs.Image(op, "image is %d bytes, limit is %d", a.Size(), l.MaxBytes)
	}

	m := NormalizeMIME(a.MIMEType)
	if _, ok := allowedMIME[m]; !ok {
		return Asset{}, errs.Image(op, "unsupported image type %q", a.MIMEType)
	}

	// the declared type wins; a mismatch usually means a misnamed upload
	if sniffed := mimetype.Detect(a.Data); !sniffed.Is(m) {
		log.WithFields(log.Fields{
			"declared": m,
			"detected": sniffed.String(),
			"size":     len(a.Data),
		}).Warn("imaging: declared MIME type does not match content")
	}

	return Asset{Data: a.Data, MIMEType: m}, nil
}
