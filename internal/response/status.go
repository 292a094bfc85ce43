package response

// StatusCode represents HTTP status codes
type StatusCode int

const (
	StatusOK                  StatusCode = 200
	StatusFound               StatusCode = 302
	StatusInternalServerError StatusCode = 500
	StatusServiceUnavailable  StatusCode = 503
)
