package ops

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/lotwise/driveline/pkg/schema"
)

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError renders err as the structured error JSON. Typed errors keep
// their code, message and details; anything else is reported as INTERNAL.
func writeError(w http.ResponseWriter, err error) {
	var derr *schema.DrivelineError
	if !errors.As(err, &derr) {
		derr = schema.NewError(schema.ErrCodeInternal, err.Error())
	}
	writeJSON(w, httpStatus(derr.Code), map[string]any{"error": derr})
}

// httpStatus maps an error code to the HTTP status the API responds with.
func httpStatus(code string) int {
	switch code {
	case schema.ErrCodeValidation, schema.ErrCodeCycleDetected:
		return http.StatusBadRequest
	case schema.ErrCodeToolDisabled:
		return http.StatusForbidden
	case schema.ErrCodeNotFound, schema.ErrCodeSandboxNotFound,
		schema.ErrCodeSessionNotFound, schema.ErrCodeToolNotFound:
		return http.StatusNotFound
	case schema.ErrCodeConflict, schema.ErrCodeInvalidTransition:
		return http.StatusConflict
	case schema.ErrCodeRateLimitExceeded, schema.ErrCodeUpstreamRateLimited:
		return http.StatusTooManyRequests
	case schema.ErrCodeCircuitOpen, schema.ErrCodeQueueFull:
		return http.StatusServiceUnavailable
	case schema.ErrCodeTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// decodeBody decodes a JSON request body into v, rejecting unknown fields so
// operator typos fail loudly instead of silently applying defaults.
func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return schema.NewError(schema.ErrCodeValidation, "invalid JSON body").WithCause(err)
	}
	return nil
}

// queryInt reads an integer query param, returning def when absent or
// unparsable.
func queryInt(r *http.Request, key string, def int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

// queryBool reads a boolean query param, returning def when absent or
// unparsable.
func queryBool(r *http.Request, key string, def bool) bool {
	switch r.URL.Query().Get(key) {
	case "true", "1", "yes":
		return true
	case "false", "0", "no":
		return false
	default:
		return def
	}
}
