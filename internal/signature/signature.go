// Package signature verifies HMAC-signed webhook deliveries.
//
// Platforms sign each delivery over the exact raw request body, so
// verification must run against the bytes as received, before any JSON
// parsing. Re-serializing a parsed payload does not reproduce the
// original bytes.
package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/getflowetic/flowetic/internal/secrets"
)

// Webhook header names carried on every inbound delivery.
const (
	HeaderEventID   = "x-event-id"
	HeaderTimestamp = "x-event-timestamp"
	HeaderSignature = "x-event-signature"
)

// Default verification windows, in line with the Svix convention.
const (
	DefaultTolerance = 5 * time.Minute
	DefaultClockSkew = time.Minute
)

// Headers holds the webhook headers extracted from an inbound request.
// Empty values mean the header was absent.
type Headers struct {
	EventID   string
	Timestamp string
	Signature string
}

// ExtractHeaders reads the webhook headers from an HTTP request.
func ExtractHeaders(r *http.Request) Headers {
	return Headers{
		EventID:   r.Header.Get(HeaderEventID),
		Timestamp: r.Header.Get(HeaderTimestamp),
		Signature: r.Header.Get(HeaderSignature),
	}
}

// Result is the outcome of verifying a single delivery. It is produced
// once per request and never mutated. EventID is only populated, and only
// to be trusted for deduplication, when Valid is true.
type Result struct {
	Valid   bool
	Reason  string
	EventID string
}

// Verifier validates webhook signatures against a tolerance window.
type Verifier struct {
	tolerance time.Duration
	clockSkew time.Duration

	timeNow func() time.Time
}

type options struct {
	tolerance time.Duration
	clockSkew time.Duration
	timeNow   func() time.Time
}

// Options represents an optional function to override Verifier default values.
type Options func(*options)

// WithTolerance overrides the maximum accepted age of a delivery.
func WithTolerance(d time.Duration) Options {
	return func(o *options) {
		o.tolerance = d
	}
}

// WithClockSkew overrides the accepted future-dating window.
func WithClockSkew(d time.Duration) Options {
	return func(o *options) {
		o.clockSkew = d
	}
}

// New creates a verifier with the provided options.
func New(args ...Options) *Verifier {
	opts := options{
		tolerance: DefaultTolerance,
		clockSkew: DefaultClockSkew,
		timeNow:   time.Now,
	}

	for _, opt := range args {
		opt(&opts)
	}

	return &Verifier{
		tolerance: opts.tolerance,
		clockSkew: opts.clockSkew,
		timeNow:   opts.timeNow,
	}
}

// Verify checks the HMAC-SHA256 signature of a delivery.
//
// The signed content is eventID + "." + timestamp + "." + rawBody. The
// signature header may carry multiple space-separated, version-prefixed
// candidates ("v1,<base64>"); a match against any candidate passes.
//
// Rejections are reported through Result.Reason, never through an error:
// a failed verification is an expected outcome, not a fault.
func (v Verifier) Verify(rawBody []byte, h Headers, secret string) Result {
	if h.EventID == "" || h.Timestamp == "" || h.Signature == "" {
		return Result{Reason: fmt.Sprintf("missing required headers (%s, %s, or %s)", HeaderEventID, HeaderTimestamp, HeaderSignature)}
	}

	ts, err := strconv.ParseInt(h.Timestamp, 10, 64)
	if err != nil {
		return Result{Reason: "invalid timestamp format (must be Unix seconds)"}
	}

	now := v.timeNow().Unix()
	age := now - ts

	// Stale deliveries outside the tolerance window are treated as replays.
	// The boundary is inclusive: age == tolerance still passes.
	if age > int64(v.tolerance.Seconds()) {
		return Result{Reason: fmt.Sprintf("timestamp too old (%ds ago, max %ds), possible replay", age, int64(v.tolerance.Seconds()))}
	}

	if age < -int64(v.clockSkew.Seconds()) {
		return Result{Reason: fmt.Sprintf("timestamp is %ds in the future (max %ds clock skew allowed)", -age, int64(v.clockSkew.Seconds()))}
	}

	secretBytes, err := secrets.Decode(secret)
	if err != nil {
		return Result{Reason: "invalid secret format (must be base64-encoded)"}
	}

	signedContent := make([]byte, 0, len(h.EventID)+len(h.Timestamp)+len(rawBody)+2)
	signedContent = append(signedContent, h.EventID...)
	signedContent = append(signedContent, '.')
	signedContent = append(signedContent, h.Timestamp...)
	signedContent = append(signedContent, '.')
	signedContent = append(signedContent, rawBody...)

	mac := hmac.New(sha256.New, secretBytes)
	mac.Write(signedContent)
	expected := mac.Sum(nil)

	candidates := splitSignatures(h.Signature)
	if len(candidates) == 0 {
		return Result{Reason: fmt.Sprintf("no signatures found in %s header", HeaderSignature)}
	}

	for _, candidate := range candidates {
		provided, err := base64.StdEncoding.DecodeString(candidate)
		if err != nil {
			continue
		}

		// Unequal lengths are a non-match without comparison, so neither
		// length nor timing leaks through the compare.
		if len(provided) != len(expected) {
			continue
		}

		if subtle.ConstantTimeCompare(provided, expected) == 1 {
			return Result{Valid: true, EventID: h.EventID}
		}
	}

	return Result{Reason: "signature mismatch (HMAC verification failed)"}
}

// splitSignatures parses the space-separated signature header, stripping
// version prefixes such as "v1,".
func splitSignatures(header string) []string {
	var sigs []string
	for _, part := range strings.Fields(header) {
		if _, sig, found := strings.Cut(part, ","); found {
			part = sig
		}
		if part != "" {
			sigs = append(sigs, part)
		}
	}
	return sigs
}
