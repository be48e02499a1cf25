package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/sanseviera/miage-projet-llm/internal/core/chat"
	"github.com/sanseviera/miage-projet-llm/internal/core/index"
)

type errorResponse struct {
	Error string `json:"error"`
}

// requestError はクライアント起因のリクエスト不備を表します
type requestError struct {
	status  int
	message string
}

func (e *requestError) Error() string {
	return e.message
}

func badRequest(format string, args ...any) error {
	return &requestError{status: http.StatusBadRequest, message: fmt.Sprintf(format, args...)}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}

// decodeJSON はボディを上限付きで読み込み、未知のフィールドを拒否せずにデコードします
func (s *Server) decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxRequestBytes)
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(dst); err != nil {
		var maxErr *http.MaxBytesError
		switch {
		case errors.As(err, &maxErr):
			return &requestError{status: http.StatusRequestEntityTooLarge, message: "request body too large"}
		case errors.Is(err, io.EOF):
			return badRequest("request body is empty")
		default:
			return badRequest("malformed JSON: %v", err)
		}
	}
	return nil
}

// statusFor はエラーを HTTP ステータスへ対応付けます
func statusFor(err error) int {
	var (
		reqErr *requestError
		valErr *chat.ValidationError
		genErr *chat.GenerationError
		idxErr *index.IndexError
	)
	switch {
	case errors.As(err, &reqErr):
		return reqErr.status
	case errors.As(err, &valErr):
		return http.StatusBadRequest
	case errors.As(err, &genErr):
		return http.StatusBadGateway
	case errors.As(err, &idxErr):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "status", status, "error", err)
	}
	writeError(w, status, err.Error())
}

func requireField(name, value string) error {
	if strings.TrimSpace(value) == "" {
		return badRequest("%s is required", name)
	}
	return nil
}
