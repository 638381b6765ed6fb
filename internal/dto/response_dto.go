package dto

type ErrorResponse struct {
	Detail     string            `json:"detail"`
	StatusCode int               `json:"status_code"`
	RequestID  string            `json:"request_id"`
	Code       string            `json:"code,omitempty"`
	Errors     map[string]string `json:"errors,omitempty"`
}

type DataResponse[T any] struct {
	Success bool `json:"success"`
	Data    T    `json:"data"`
}

func OK[T any](data T) DataResponse[T] {
	return DataResponse[T]{Success: true, Data: data}
}

type HealthResponse struct {
	Status    string         `json:"status"`
	Timestamp string         `json:"timestamp"`
	DB        string         `json:"db"`
	Keys      KeySetResponse `json:"keys"`
}

type KeySetResponse struct {
	Source string `json:"source"`
	Loaded bool   `json:"loaded"`
	Count  int    `json:"count"`
	AgeSec int64  `json:"age_seconds"`
	Stale  bool   `json:"stale"`
}

type RootResponse struct {
	Message string `json:"message"`
	Health  string `json:"health"`
	Metrics string `json:"metrics"`
}
