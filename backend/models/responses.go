package models

// APIResponse is the envelope every endpoint returns.
type APIResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Message string      `json:"message,omitempty"`
	Error   *APIError   `json:"error,omitempty"`
}

// APIError carries the stable error kind the UI switches on.
type APIError struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

func NewSuccessResponse(data interface{}, message string) APIResponse {
	return APIResponse{
		Success: true,
		Data:    data,
		Message: message,
	}
}

func NewErrorResponse(kind, message string) APIResponse {
	return APIResponse{
		Success: false,
		Error:   &APIError{Kind: kind, Message: message},
	}
}
