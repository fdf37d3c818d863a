package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/nugget/carepilot/internal/users"
)

// Auth cookie settings.
const (
	cookieName   = "user"
	cookieMaxAge = 3600 // seconds

	// maxRecordBytes bounds an uploaded patient record.
	maxRecordBytes = 10 << 20
)

type contextKey string

const userKey contextKey = "user"

// userFrom returns the authenticated user stored by requireUser.
func userFrom(ctx context.Context) *users.User {
	u, _ := ctx.Value(userKey).(*users.User)
	return u
}

// requireUser resolves the auth cookie to a user, answering 401 when
// the cookie is missing or names no user.
func (s *Server) requireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := r.Cookie(cookieName)
		if err != nil || c.Value == "" {
			s.errorResponse(w, http.StatusUnauthorized, codeUnauthorized, "not logged in")
			return
		}
		u, err := s.deps.Users.Get(r.Context(), c.Value)
		if err != nil {
			s.internalError(w, r, "user lookup failed", err)
			return
		}
		if u == nil {
			s.errorResponse(w, http.StatusUnauthorized, codeUnauthorized, "user not found")
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), userKey, u)))
	})
}

func (s *Server) setAuthCookie(w http.ResponseWriter, value string, maxAge int) {
	http.SetCookie(w, &http.Cookie{
		Name:     cookieName,
		Value:    value,
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   s.cfg.SecureCookies,
		SameSite: http.SameSiteStrictMode,
	})
}

type credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req credentials
	if !s.decodeJSON(w, r, &req) {
		return
	}
	err := s.deps.Users.Register(r.Context(), req.Username, req.Password)
	switch {
	case errors.Is(err, users.ErrExists):
		s.errorResponse(w, http.StatusConflict, codeConflict, "username already taken")
		return
	case errors.Is(err, users.ErrInvalidCredentials):
		s.errorResponse(w, http.StatusBadRequest, codeBadRequest, "username and password are required")
		return
	case err != nil:
		s.internalError(w, r, "register failed", err)
		return
	}
	s.logger.Info("user registered", "username", req.Username)
	writeJSON(w, http.StatusCreated, map[string]string{"message": "User registered"}, s.logger)
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req credentials
	if !s.decodeJSON(w, r, &req) {
		return
	}
	u, err := s.deps.Users.Authenticate(r.Context(), req.Username, req.Password)
	if errors.Is(err, users.ErrInvalidCredentials) {
		s.errorResponse(w, http.StatusBadRequest, codeBadRequest, "invalid username or password")
		return
	}
	if err != nil {
		s.internalError(w, r, "login failed", err)
		return
	}
	s.setAuthCookie(w, u.Username, cookieMaxAge)
	writeJSON(w, http.StatusOK, map[string]string{"message": "Logged in", "status": u.Status}, s.logger)
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	s.setAuthCookie(w, "", -1)
	writeJSON(w, http.StatusOK, map[string]string{"message": "Logged out"}, s.logger)
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, userFrom(r.Context()), s.logger)
}

func (s *Server) handleSetupQuestions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, users.SetupQuestions(userFrom(r.Context())), s.logger)
}

// handleSetup stores the profile questionnaire. The optional
// electronic_patient_record file is summarized and kept on the profile;
// a failed summary is logged and the profile is saved without it.
func (s *Server) handleSetup(w http.ResponseWriter, r *http.Request) {
	u := userFrom(r.Context())
	r.Body = http.MaxBytesReader(w, r.Body, maxRecordBytes+maxBodyBytes)
	if err := r.ParseMultipartForm(maxBodyBytes); err != nil {
		s.errorResponse(w, http.StatusBadRequest, codeBadRequest, "expected a multipart form")
		return
	}

	intField := func(name string) (int, bool) {
		n, err := strconv.Atoi(strings.TrimSpace(r.FormValue(name)))
		if err != nil {
			s.errorResponse(w, http.StatusBadRequest, codeBadRequest, name+" must be a number")
			return 0, false
		}
		return n, true
	}
	age, ok := intField("age")
	if !ok {
		return
	}
	height, ok := intField("height")
	if !ok {
		return
	}

	p := users.Profile{
		FirstName: r.FormValue("first_name"),
		LastName:  r.FormValue("last_name"),
		Age:       age,
		Height:    height,
		Gender:    r.FormValue("gender"),
		Allergies: r.FormValue("allergies"),
		Issues:    r.FormValue("issues"),
		Goal:      r.FormValue("goal"),
	}
	if err := p.Validate(); err != nil {
		s.errorResponse(w, http.StatusBadRequest, codeBadRequest, err.Error())
		return
	}

	var summary *string
	if file, _, err := r.FormFile("electronic_patient_record"); err == nil {
		defer file.Close()
		record, err := io.ReadAll(file)
		if err != nil {
			s.errorResponse(w, http.StatusBadRequest, codeBadRequest, "could not read patient record")
			return
		}
		summary = s.summarizeRecord(r.Context(), u.Username, string(record))
	}

	if err := s.deps.Users.CompleteSetup(r.Context(), u.Username, p, summary); err != nil {
		if errors.Is(err, users.ErrInvalidProfile) {
			s.errorResponse(w, http.StatusBadRequest, codeBadRequest, err.Error())
			return
		}
		s.internalError(w, r, "setup failed", err)
		return
	}
	s.logger.Info("profile setup completed", "username", u.Username, "patient_record", summary != nil)
	writeJSON(w, http.StatusOK, map[string]string{"message": "Setup completed"}, s.logger)
}

func (s *Server) summarizeRecord(ctx context.Context, username, record string) *string {
	if s.deps.SummarizeRecord == nil || strings.TrimSpace(record) == "" {
		return nil
	}
	summary, err := s.deps.SummarizeRecord(ctx, record)
	if err != nil {
		s.logger.Warn("patient record summary failed", "username", username, "error", err)
		return nil
	}
	return &summary
}
