package vinylauth

import (
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strings"
)

// maxBodyBytes caps JSON request bodies on the auth endpoints.
const maxBodyBytes = 1 << 16

// parseFields reads string fields from either a form or a JSON body.
func parseFields(w http.ResponseWriter, r *http.Request, names ...string) (map[string]string, error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	out := make(map[string]string, len(names))
	contentType := r.Header.Get("Content-Type")
	if strings.HasPrefix(contentType, "application/x-www-form-urlencoded") ||
		strings.HasPrefix(contentType, "multipart/form-data") {
		if err := r.ParseForm(); err != nil {
			return nil, NewAuthError(ErrMalformed, ErrCodeMissingField, "Error parsing form", "")
		}
		for _, name := range names {
			out[name] = r.FormValue(name)
		}
		return out, nil
	}

	var data map[string]any
	if err := json.NewDecoder(r.Body).Decode(&data); err != nil || data == nil {
		return nil, NewAuthError(ErrMalformed, ErrCodeMissingField, "Invalid request body", "")
	}
	for _, name := range names {
		if v, ok := data[name].(string); ok {
			out[name] = v
		}
	}
	return out, nil
}

func requireFields(fields map[string]string, names ...string) error {
	for _, name := range names {
		if fields[name] == "" {
			return NewAuthError(ErrMalformed, ErrCodeMissingField, fmt.Sprintf("%s is required", name), name)
		}
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

// clientIP is the remote address without its port.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
