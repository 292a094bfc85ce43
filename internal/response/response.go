package response

import (
	"github.com/Brownie44l1/sockserve/internal/headers"
)

// ServiceResponse is a fully resolved response waiting to be framed.
//
// ContentLength equal to len(Body) selects fixed framing. ContentLength 0
// with a non-empty Body selects chunked framing. A response is not modified
// once it has been handed to a Writer.
type ServiceResponse struct {
	StatusCode    StatusCode
	Headers       *headers.Headers
	ContentLength int
	Body          []byte
}

// Chunked reports whether the response must be sent with chunked framing.
func (r *ServiceResponse) Chunked() bool {
	return r.ContentLength == 0 && len(r.Body) > 0
}

// Valid reports whether the response satisfies exactly one framing rule.
func (r *ServiceResponse) Valid() bool {
	return r.ContentLength == len(r.Body) || r.Chunked()
}

// ForceChunked switches a response to chunked framing and records the
// Transfer-Encoding header. Empty bodies stay on fixed framing since there
// would be nothing to chunk.
func (r *ServiceResponse) ForceChunked() {
	if len(r.Body) == 0 {
		return
	}
	r.ContentLength = 0
	r.Headers.Set("Transfer-Encoding", "chunked")
}
