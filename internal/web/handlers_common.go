package web

// This file contains request parsing helpers shared across handlers.

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/JonMunkholm/hpsync/internal/core"
)

// errBadRequest marks request validation failures detected by the web layer.
var errBadRequest = errors.New("bad request")

func badRequest(format string, args ...any) error {
	return fmt.Errorf("%w: %s", errBadRequest, fmt.Sprintf(format, args...))
}

// maxJSONBody bounds JSON request bodies.
const maxJSONBody = 1 << 20

// decodeJSON decodes the request body into v. An empty body leaves v unchanged.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBody)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return err
		}
		return badRequest("invalid JSON body: %v", err)
	}
	return nil
}

// parseInt64Param parses an optional integer query parameter. Absent means 0.
func parseInt64Param(r *http.Request, name string) (int64, error) {
	val := strings.TrimSpace(r.URL.Query().Get(name))
	if val == "" {
		return 0, nil
	}
	n, err := strconv.ParseInt(val, 10, 64)
	if err != nil || n < 0 {
		return 0, badRequest("%s must be a non-negative integer", name)
	}
	return n, nil
}

// parseBool reads checkbox-style values: "1", "true", "on", "yes".
func parseBool(val string) bool {
	switch strings.ToLower(strings.TrimSpace(val)) {
	case "1", "true", "on", "yes":
		return true
	}
	return false
}

// parseDelimiter reads a delimiter form value. Empty returns fallback.
func parseDelimiter(val string, fallback rune) (rune, error) {
	r, err := core.ParseDelimiter(val)
	if err != nil {
		return 0, badRequest("%v", err)
	}
	if r == 0 {
		return fallback, nil
	}
	return r, nil
}
