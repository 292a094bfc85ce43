package response

import (
	"github.com/Brownie44l1/sockserve/internal/headers"
)

// HTMLContentType is used for every text-mode response.
const HTMLContentType = "text/html; charset=UTF-8"

// Text builds a 200 HTML response carrying body.
func Text(body string) *ServiceResponse {
	return Bytes(HTMLContentType, []byte(body))
}

// Bytes builds a 200 response with arbitrary content and fixed framing.
func Bytes(contentType string, data []byte) *ServiceResponse {
	h := headers.NewHeaders()
	if contentType != "" {
		h.Set("Content-Type", contentType)
	}
	return &ServiceResponse{
		StatusCode:    StatusOK,
		Headers:       h,
		ContentLength: len(data),
		Body:          data,
	}
}

// Redirect builds a 302 response with an empty body.
func Redirect(location string) *ServiceResponse {
	h := headers.NewHeaders()
	h.Set("Location", location)
	return &ServiceResponse{
		StatusCode: StatusFound,
		Headers:    h,
	}
}

// Error builds a text response for a failure the client should see.
func Error(code StatusCode, message string) *ServiceResponse {
	resp := Text(message)
	resp.StatusCode = code
	return resp
}
