package transport

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

type HealthResponse struct {
	Status  string `json:"status"`
	Service string `json:"service"`
	Viewers int    `json:"viewers"`
}

// error classes
const (
	classValidation   = "validation_error"
	classPersistence  = "persistence_error"
	classUnauthorized = "unauthorized"
	classInternal     = "internal_error"
)
