// Package dto contains the request and response shapes of the HTTP API
package dto

// APIResponse represents the standard API response structure
type APIResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty" validate:"omitempty"`
	Error   any    `json:"error,omitempty" validate:"omitempty"`
}

// ErrorDetail represents error details in API responses
type ErrorDetail struct {
	Code       string `json:"code"`
	Message    string `json:"message,omitempty"`
	NextAction string `json:"next_action,omitempty"`
	Details    any    `json:"details,omitempty" validate:"omitempty"`
}
