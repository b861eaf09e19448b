package web

import (
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"weekcal/internal/api"
	appLog "weekcal/internal/log"
	"weekcal/internal/validate"
)

type sessionResponse struct {
	LoggedIn  bool       `json:"loggedIn"`
	UserID    string     `json:"userId,omitempty"`
	Email     string     `json:"email,omitempty"`
	ExpiresAt *time.Time `json:"expiresAt,omitempty"`
	Expired   bool       `json:"expired,omitempty"`
}

func (s *Server) sessionStatus() sessionResponse {
	resp := sessionResponse{LoggedIn: s.sess.LoggedIn()}
	if !resp.LoggedIn {
		return resp
	}
	if c, err := s.sess.Claims(); err == nil {
		resp.UserID = c.UserID
		resp.Email = c.Email
		if !c.ExpiresAt.IsZero() {
			exp := c.ExpiresAt
			resp.ExpiresAt = &exp
		}
	}
	resp.Expired = s.sess.Expired(s.now())
	return resp
}

func (s *Server) handleSessionStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.sessionStatus())
}

func (s *Server) requireBackend(w http.ResponseWriter) bool {
	if s.backend == nil {
		writeError(w, http.StatusServiceUnavailable, "backend is not configured")
		return false
	}
	return true
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if !s.requireBackend(w) {
		return
	}
	var body struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	fe := validate.FieldErrors{}
	if strings.TrimSpace(body.Email) == "" {
		fe["email"] = "이메일을 입력해주세요."
	}
	if body.Password == "" {
		fe["password"] = "비밀번호를 입력해주세요."
	}
	if !fe.OK() {
		writeValidation(w, fe)
		return
	}

	if err := s.backend.Login(r.Context(), strings.TrimSpace(body.Email), body.Password); err != nil {
		writeFailure(w, api.OpLogin, err)
		return
	}
	appLog.Info("logged in", "email", body.Email)
	writeJSON(w, http.StatusOK, s.sessionStatus())
}

// handleLogout always ends the local session; a backend failure is
// reported alongside.
func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if !s.requireBackend(w) {
		return
	}
	result, err := s.backend.Logout(r.Context())
	s.sess.Clear()
	resp := map[string]any{"loggedIn": false, "result": result}
	if err != nil {
		appLog.Error("remote logout failed", err)
		resp["remoteError"] = err.Error()
		resp["retryable"] = api.IsTransient(err)
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleRegister accepts the signup form as multipart (with an optional
// profileImage file) or as JSON.
func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	if !s.requireBackend(w) {
		return
	}

	var (
		form      validate.SignupForm
		image     io.Reader
		imageName string
	)
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		if err := r.ParseMultipartForm(maxRequestBody); err != nil {
			writeError(w, http.StatusBadRequest, "invalid multipart body: "+err.Error())
			return
		}
		form = validate.SignupForm{
			Name:            r.FormValue("name"),
			Email:           r.FormValue("email"),
			Password:        r.FormValue("password"),
			ConfirmPassword: r.FormValue("confirmPassword"),
			BirthDate:       r.FormValue("birthDate"),
		}
		f, hdr, ok, err := formFile(r, "profileImage")
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid profile image: "+err.Error())
			return
		}
		if ok {
			defer f.Close()
			image, imageName = f, hdr.Filename
		}
	} else if err := decodeJSON(r, &form); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if errs := validate.All(form); !errs.OK() {
		writeValidation(w, errs)
		return
	}
	email, err := s.backend.Register(r.Context(), api.RegisterRequest{
		Name:             form.Name,
		Email:            form.Email,
		Password:         form.Password,
		BirthDate:        form.BirthDate,
		ProfileImage:     image,
		ProfileImageName: imageName,
	})
	if err != nil {
		writeFailure(w, api.OpRegister, err)
		return
	}
	appLog.Info("registered", "email", email)
	writeJSON(w, http.StatusCreated, map[string]string{"email": email})
}

// formFile returns the named upload, or ok=false when absent.
func formFile(r *http.Request, name string) (multipart.File, *multipart.FileHeader, bool, error) {
	f, hdr, err := r.FormFile(name)
	if errors.Is(err, http.ErrMissingFile) {
		return nil, nil, false, nil
	}
	if err != nil {
		return nil, nil, false, err
	}
	return f, hdr, true, nil
}
