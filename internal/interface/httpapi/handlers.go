package httpapi

import (
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/sanseviera/miage-projet-llm/internal/core/chat"
	"github.com/sanseviera/miage-projet-llm/internal/core/index"
)

// defaultSummaryLength は max_length 省略時の入力上限
const defaultSummaryLength = 1000

type chatRequest struct {
	Message   string `json:"message"`
	SessionID string `json:"session_id"`
}

type chatResponse struct {
	Response string `json:"response"`
	Warning  string `json:"warning,omitempty"`
}

func (s *Server) handleChat(useRAG bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req chatRequest
		if err := s.decodeJSON(w, r, &req); err != nil {
			s.fail(w, r, err)
			return
		}

		result, err := s.deps.Chat.Respond(r.Context(), chat.RespondParams{
			Message:   req.Message,
			SessionID: req.SessionID,
			UseRAG:    useRAG,
		})
		if err != nil {
			s.fail(w, r, err)
			return
		}

		resp := chatResponse{Response: result.Response}
		if result.PersistErr != nil {
			resp.Warning = "response generated but conversation history could not be saved"
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

type indexRequest struct {
	Texts         []string `json:"texts"`
	ClearExisting bool     `json:"clear_existing"`
}

type indexResponse struct {
	Message   string `json:"message"`
	Documents int    `json:"documents"`
	Passages  int    `json:"passages"`
}

func (s *Server) handleIndexDocuments(w http.ResponseWriter, r *http.Request) {
	req, err := s.readIndexRequest(w, r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if len(req.Texts) == 0 {
		s.fail(w, r, badRequest("at least one document is required"))
		return
	}

	result, err := s.deps.Index.Index(r.Context(), req.Texts, req.ClearExisting)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, indexResponse{
		Message:   fmt.Sprintf("%d documents indexed", result.Documents),
		Documents: result.Documents,
		Passages:  result.Passages,
	})
}

// readIndexRequest は JSON または multipart/form-data のリクエストを読み込みます
func (s *Server) readIndexRequest(w http.ResponseWriter, r *http.Request) (*indexRequest, error) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if !strings.HasPrefix(mediaType, "multipart/") {
		var req indexRequest
		if err := s.decodeJSON(w, r, &req); err != nil {
			return nil, err
		}
		return &req, nil
	}

	r.Body = http.MaxBytesReader(w, r.Body, s.maxRequestBytes)
	if err := r.ParseMultipartForm(s.maxRequestBytes); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return nil, &requestError{status: http.StatusRequestEntityTooLarge, message: "request body too large"}
		}
		return nil, badRequest("malformed multipart form: %v", err)
	}
	defer r.MultipartForm.RemoveAll()

	req := &indexRequest{}
	if v := r.FormValue("clear_existing"); v != "" {
		clearExisting, err := strconv.ParseBool(v)
		if err != nil {
			return nil, badRequest("clear_existing must be a boolean")
		}
		req.ClearExisting = clearExisting
	}
	for _, fh := range r.MultipartForm.File["files"] {
		text, err := readFormFile(fh)
		if err != nil {
			return nil, badRequest("failed to read %s: %v", fh.Filename, err)
		}
		req.Texts = append(req.Texts, text)
	}
	return req, nil
}

func readFormFile(fh *multipart.FileHeader) (string, error) {
	f, err := fh.Open()
	if err != nil {
		return "", err
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func (s *Server) handleClearDocuments(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Index.Clear(r.Context()); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "document index cleared"})
}

func (s *Server) handleListDocuments(w http.ResponseWriter, r *http.Request) {
	documents, err := s.deps.Index.AllPassages(r.Context())
	if err != nil && !errors.Is(err, index.ErrNotInitialized) {
		s.fail(w, r, err)
		return
	}
	if documents == nil {
		documents = []string{}
	}
	writeJSON(w, http.StatusOK, map[string][]string{"documents": documents})
}

type statsResponse struct {
	Passages  int    `json:"passages"`
	Model     string `json:"model"`
	Dimension int    `json:"dimension"`
}

func (s *Server) handleDocumentStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.deps.Index.Stats(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, statsResponse{
		Passages:  stats.Passages,
		Model:     stats.Model,
		Dimension: stats.Dimension,
	})
}

type historyMessage struct {
	Role      string `json:"role"`
	Content   string `json:"content"`
	Timestamp string `json:"timestamp"`
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("session_id")

	history, err := s.deps.Chat.History(r.Context(), sessionID)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	out := make([]historyMessage, 0, len(history))
	for _, m := range history {
		out = append(out, historyMessage{
			Role:      string(m.Role),
			Content:   m.Content,
			Timestamp: m.Timestamp.UTC().Format(time.RFC3339Nano),
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleDeleteHistory(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("session_id")

	deleted, err := s.deps.Chat.DeleteConversation(r.Context(), sessionID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if !deleted {
		writeError(w, http.StatusNotFound, fmt.Sprintf("session %q not found", sessionID))
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": fmt.Sprintf("session %q deleted", sessionID)})
}

func (s *Server) handleNewSession(w http.ResponseWriter, r *http.Request) {
	id, err := s.deps.Chat.NewSession(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"session_id": id})
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := s.deps.Chat.Sessions(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string][]string{"sessions": sessions})
}

type memoryTagRequest struct {
	SessionID string `json:"session_id"`
	Tag       string `json:"tag"`
}

func (s *Server) handleMemoryTag(w http.ResponseWriter, r *http.Request) {
	var req memoryTagRequest
	if err := s.decodeJSON(w, r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	for _, err := range []error{requireField("session_id", req.SessionID), requireField("tag", req.Tag)} {
		if err != nil {
			s.fail(w, r, err)
			return
		}
	}

	s.deps.Memory.AddTag(req.SessionID, req.Tag)
	writeJSON(w, http.StatusOK, map[string]string{
		"message": fmt.Sprintf("tag %q added to session %q", req.Tag, req.SessionID),
	})
}

type memoryClearRequest struct {
	SessionID string `json:"session_id"`
}

func (s *Server) handleMemoryClear(w http.ResponseWriter, r *http.Request) {
	var req memoryClearRequest
	if err := s.decodeJSON(w, r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	if err := requireField("session_id", req.SessionID); err != nil {
		s.fail(w, r, err)
		return
	}

	s.deps.Memory.Clear(req.SessionID)
	writeJSON(w, http.StatusOK, map[string]string{
		"message": fmt.Sprintf("session %q cleared", req.SessionID),
	})
}

type metadataResponse struct {
	SessionID    string   `json:"session_id"`
	CreatedAt    string   `json:"created_at"`
	LastActivity string   `json:"last_activity"`
	MessageCount int      `json:"message_count"`
	Tags         []string `json:"tags"`
	Summary      *string  `json:"summary"`
	IsActive     bool     `json:"is_active"`
}

func (s *Server) handleMemoryMetadata(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("session_id")

	meta, ok := s.deps.Memory.Metadata(sessionID)
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Sprintf("session %q not found in memory", sessionID))
		return
	}

	tags := meta.Tags
	if tags == nil {
		tags = []string{}
	}
	var summary *string
	if v, ok := meta.Summary.Get(); ok {
		summary = &v
	}
	writeJSON(w, http.StatusOK, metadataResponse{
		SessionID:    sessionID,
		CreatedAt:    meta.CreatedAt.UTC().Format(time.RFC3339Nano),
		LastActivity: meta.LastActivity.UTC().Format(time.RFC3339Nano),
		MessageCount: meta.MessageCount,
		Tags:         tags,
		Summary:      summary,
		IsActive:     s.deps.Memory.IsActive(sessionID),
	})
}

type summarizeRequest struct {
	Text      string `json:"text"`
	MaxLength *int   `json:"max_length"`
}

func (s *Server) handleSummarize(w http.ResponseWriter, r *http.Request) {
	var req summarizeRequest
	if err := s.decodeJSON(w, r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	if err := requireField("text", req.Text); err != nil {
		s.fail(w, r, err)
		return
	}
	maxLength := defaultSummaryLength
	if req.MaxLength != nil {
		if *req.MaxLength <= 0 {
			s.fail(w, r, badRequest("max_length must be positive"))
			return
		}
		maxLength = *req.MaxLength
	}

	result, err := s.deps.Summary.Summarize(r.Context(), req.Text, maxLength)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}
