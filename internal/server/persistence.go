package server

import (
	"bytes"

	"github.com/Brownie44l1/sockserve/internal/headers"
)

var keepAliveMarker = []byte("Connection: keep-alive")

// wantsKeepAlive reports whether the request bytes contain the exact
// keep-alive marker. Nothing else in the request is inspected.
func wantsKeepAlive(req []byte) bool {
	return bytes.Contains(req, keepAliveMarker)
}

// connectionHeader tells the client what will happen to the connection
// after this response.
func connectionHeader(keepAlive bool) *headers.Headers {
	h := headers.NewHeaders()
	if keepAlive {
		h.Set("Connection", "keep-alive")
	} else {
		h.Set("Connection", "close")
	}
	return h
}
