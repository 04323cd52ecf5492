package server

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

const (
	methodOverrideField  = "_method"
	methodOverrideHeader = "X-HTTP-Method-Override"

	// Room for the text fields and multipart framing on top of the image.
	formOverheadBytes = 1 << 20
	multipartMemory   = 8 << 20
)

// MethodOverride lets HTML forms, which can only POST, reach PUT, PATCH
// and DELETE routes. It runs before gin routing. The override is read from
// the _method query parameter, the X-HTTP-Method-Override header, or the
// _method form field, in that order.
func MethodOverride(next http.Handler, limit func() int64) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			r = overrideMethod(w, r, limit)
		}
		next.ServeHTTP(w, r)
	})
}

type formParseErrKey struct{}

func overrideMethod(w http.ResponseWriter, r *http.Request, limit func() int64) *http.Request {
	candidate := r.URL.Query().Get(methodOverrideField)
	if candidate == "" {
		candidate = r.Header.Get(methodOverrideHeader)
	}
	if candidate == "" && isFormRequest(r) {
		if limit != nil {
			r.Body = http.MaxBytesReader(w, r.Body, limit())
		}
		err := r.ParseMultipartForm(multipartMemory)
		switch {
		case err == nil, errors.Is(err, http.ErrNotMultipart):
			candidate = r.PostFormValue(methodOverrideField)
		default:
			// The body is spent; handlers read the failure from the context.
			r = r.WithContext(context.WithValue(r.Context(), formParseErrKey{}, err))
		}
	}

	switch method := strings.ToUpper(strings.TrimSpace(candidate)); method {
	case http.MethodPut, http.MethodPatch, http.MethodDelete:
		r.Method = method
	}
	return r
}

func isFormRequest(r *http.Request) bool {
	ct := r.Header.Get("Content-Type")
	return strings.HasPrefix(ct, "multipart/form-data") ||
		strings.HasPrefix(ct, "application/x-www-form-urlencoded")
}

// LimitUploadBody caps the request body at the configured image size plus
// form overhead.
func (s *Server) LimitUploadBody() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, s.uploadLimit())
		c.Next()
	}
}

func (s *Server) uploadLimit() int64 {
	if s.uploads == nil {
		return formOverheadBytes
	}
	return s.uploads.Get().MaxBytes + formOverheadBytes
}

// parseForm parses a multipart or urlencoded body. A body over the limit is
// reported as tooLarge rather than as an error.
func parseForm(r *http.Request) (tooLarge bool, err error) {
	if prior, ok := r.Context().Value(formParseErrKey{}).(error); ok {
		err = prior
	} else {
		err = r.ParseMultipartForm(multipartMemory)
	}
	if err == nil || errors.Is(err, http.ErrNotMultipart) {
		return false, nil
	}
	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) {
		return true, nil
	}
	return false, err
}
