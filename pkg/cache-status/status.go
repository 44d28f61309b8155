// Package cachestatus builds Cache-Status header values (RFC 9211) for the
// responses the engine sends.
package cachestatus

import "fmt"

const HeaderName = "Cache-Status"

const cacheName = "Shell-Cache"

type FwdReason string

const (
	// The cache was configured to not handle this request.
	FwdBypass FwdReason = "bypass"

	// The request method's semantics require the request to be
	// forwarded.
	FwdMethod FwdReason = "method"

	// The cache did not contain any responses that could be used to
	// satisfy this request.
	FwdMiss FwdReason = "miss"
)

type Status struct {
	hit       bool
	fwdReason FwdReason
	stored    bool
	detail    string
}

// Hit marks the response as served from the cache.
func (cs *Status) Hit() {
	cs.hit = true
	cs.fwdReason = ""
}

// Forward marks the request as forwarded to the origin for the given reason.
func (cs *Status) Forward(reason FwdReason) {
	cs.hit = false
	cs.fwdReason = reason
}

// Stored marks that the forwarded response was written to the cache.
func (cs *Status) Stored() {
	cs.stored = true
}

func (cs *Status) Detail(detail string) {
	cs.detail = detail
}

func (cs Status) IsHit() bool {
	return cs.hit
}

func (cs Status) String() string {
	status := cacheName
	if cs.hit {
		status += "; hit"
	} else if cs.fwdReason != "" {
		status = fmt.Sprintf("%s; fwd=%s", status, cs.fwdReason)
	}
	if cs.stored {
		status += "; stored"
	}
	if cs.detail != "" {
		status += "; detail=" + cs.detail
	}
	return status
}
