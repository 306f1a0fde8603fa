package attempt

import (
	"bytes"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"golang.org/x/crypto/blake2b"

	"github.com/mind-engage/mindengage-training/internal/apperr"
)

// MaxProofBytes bounds a decoded proof artifact.
const MaxProofBytes = 8 << 20

var proofExt = map[string]string{
	"image/png":  "png",
	"image/jpeg": "jpg",
	"image/gif":  "gif",
	"image/webp": "webp",
}

// Proof is a decoded proof-of-completion image.
type Proof struct {
	Data   []byte
	Ext    string
	Digest string // hex BLAKE2b-256
}

// Key is where the proof for one attempt lives in the blob store. Attempt
// ids are unique, so a writer holding a stale attempt number never touches
// another attempt's artifact.
func (p Proof) Key(headerID, participantID, attemptID string) string {
	return fmt.Sprintf("proofs/%s/%s/%s.%s", segment(headerID), segment(participantID), segment(attemptID), p.Ext)
}

// segment escapes an id so it stays one path element.
func segment(id string) string {
	e := url.PathEscape(id)
	if e == "" || strings.Trim(e, ".") == "" {
		e = "_" + strings.ReplaceAll(e, ".", "%2E")
	}
	return e
}

// DecodeProof accepts a data URL ("data:image/png;base64,...") or bare
// base64 and returns the image bytes. Non-image payloads are rejected.
func DecodeProof(s string) (Proof, error) {
	s = strings.TrimSpace(s)
	declared := ""
	if rest, ok := strings.CutPrefix(s, "data:"); ok {
		meta, payload, found := strings.Cut(rest, ",")
		if !found || !strings.HasSuffix(meta, ";base64") {
			return Proof{}, proofError("malformed data URL")
		}
		declared = strings.ToLower(strings.TrimSuffix(meta, ";base64"))
		if declared == "image/jpg" {
			declared = "image/jpeg"
		}
		s = payload
	}
	data, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		if data, err = base64.RawStdEncoding.DecodeString(s); err != nil {
			return Proof{}, proofError("not valid base64")
		}
	}
	if len(data) == 0 {
		return Proof{}, proofError("empty image")
	}
	if len(data) > MaxProofBytes {
		return Proof{}, proofError("image too large")
	}
	sniffed := http.DetectContentType(data)
	ext, ok := proofExt[sniffed]
	if !ok {
		return Proof{}, proofError("unsupported image type " + sniffed)
	}
	if declared != "" && declared != sniffed {
		return Proof{}, proofError(fmt.Sprintf("declared %s but content is %s", declared, sniffed))
	}
	sum := blake2b.Sum256(data)
	return Proof{Data: data, Ext: ext, Digest: hex.EncodeToString(sum[:])}, nil
}

func (p Proof) Reader() *bytes.Reader { return bytes.NewReader(p.Data) }

func proofError(msg string) error {
	return apperr.NewValidationError("invalid proof", apperr.FieldError{Field: "proof", Error: msg})
}
