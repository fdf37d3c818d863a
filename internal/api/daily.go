package api

import (
	"errors"
	"io"
	"net/http"
	"path/filepath"

	"github.com/nugget/carepilot/internal/chat"
	"github.com/nugget/carepilot/internal/daily"
	"github.com/nugget/carepilot/internal/ingest"
	"github.com/nugget/carepilot/internal/retrieval"
)

// maxDocumentBytes bounds an uploaded reference document.
const maxDocumentBytes = 20 << 20

func (s *Server) handleDailyQuestions(w http.ResponseWriter, r *http.Request) {
	u := userFrom(r.Context())
	qs, err := s.deps.Questions.Questions(r.Context(), u.Username, s.now().In(s.cfg.Location))
	if err != nil {
		s.internalError(w, r, "daily questions failed", err)
		return
	}
	writeJSON(w, http.StatusOK, qs, s.logger)
}

// handleDailyAnswers stores today's answers, replacing any earlier
// submission for the same day.
func (s *Server) handleDailyAnswers(w http.ResponseWriter, r *http.Request) {
	u := userFrom(r.Context())
	var answers []daily.Answer
	if !s.decodeJSON(w, r, &answers) {
		return
	}
	if len(answers) == 0 {
		s.errorResponse(w, http.StatusBadRequest, codeBadRequest, "no answers provided")
		return
	}
	if err := s.deps.Answers.SaveAnswers(r.Context(), u.Username, s.now().In(s.cfg.Location), answers); err != nil {
		s.internalError(w, r, "save answers failed", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "success"}, s.logger)
}

func (s *Server) handleWidgets(w http.ResponseWriter, r *http.Request) {
	u := userFrom(r.Context())
	widgets, err := s.deps.Widgets.Widgets(r.Context(), u.Username, s.now().In(s.cfg.Location))
	if err != nil {
		s.internalError(w, r, "dashboard failed", err)
		return
	}
	writeJSON(w, http.StatusOK, widgets, s.logger)
}

type planRequest struct {
	Days        int    `json:"days"`
	Preferences string `json:"preferences"`
}

func (s *Server) handleDietPlan(w http.ResponseWriter, r *http.Request) {
	u := userFrom(r.Context())
	var req planRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}
	if req.Days < 0 {
		s.errorResponse(w, http.StatusBadRequest, codeBadRequest, "days must not be negative")
		return
	}
	plan, err := s.deps.Chat.Plan(r.Context(), u.Username, req.Days, req.Preferences)
	if errors.Is(err, chat.ErrUnknownUser) {
		s.errorResponse(w, http.StatusUnauthorized, codeUnauthorized, "user not found")
		return
	}
	if err != nil {
		s.internalError(w, r, "diet plan failed", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"diet_plan": plan}, s.logger)
}

func (s *Server) handleDocumentList(w http.ResponseWriter, r *http.Request) {
	if s.deps.Library == nil {
		s.errorResponse(w, http.StatusServiceUnavailable, codeUnavailable, "document retrieval is not configured")
		return
	}
	sources, err := s.deps.Library.Sources(r.Context())
	if err != nil {
		s.internalError(w, r, "list documents failed", err)
		return
	}
	if sources == nil {
		sources = []retrieval.SourceInfo{}
	}
	writeJSON(w, http.StatusOK, sources, s.logger)
}

// handleDocumentUpload ingests a multipart "file" into the reference
// library. Re-uploading a file with the same name replaces it.
func (s *Server) handleDocumentUpload(w http.ResponseWriter, r *http.Request) {
	if s.deps.Documents == nil {
		s.errorResponse(w, http.StatusServiceUnavailable, codeUnavailable, "document retrieval is not configured")
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxDocumentBytes+maxBodyBytes)
	if err := r.ParseMultipartForm(maxBodyBytes); err != nil {
		s.errorResponse(w, http.StatusBadRequest, codeBadRequest, "expected a multipart form")
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		s.errorResponse(w, http.StatusBadRequest, codeBadRequest, "file is required")
		return
	}
	defer file.Close()
	data, err := io.ReadAll(file)
	if err != nil {
		s.errorResponse(w, http.StatusBadRequest, codeBadRequest, "could not read file")
		return
	}

	source := filepath.Base(header.Filename)
	n, err := s.deps.Documents.Ingest(r.Context(), source, data)
	switch {
	case errors.Is(err, ingest.ErrUnsupported):
		s.errorResponse(w, http.StatusUnsupportedMediaType, codeBadRequest, err.Error())
		return
	case errors.Is(err, ingest.ErrEmpty):
		s.errorResponse(w, http.StatusBadRequest, codeBadRequest, err.Error())
		return
	case err != nil:
		s.internalError(w, r, "ingest failed", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"source": source, "chunks": n}, s.logger)
}
