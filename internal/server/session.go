package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/sessions"
	"github.com/smallbiznis/catalog/internal/config"
	"go.uber.org/zap"
)

const (
	sessionName = "catalog_session"
	noticeKey   = "notice"
)

// NewSessionStore returns the cookie store backing flash notices.
func NewSessionStore(cfg config.Config, log *zap.Logger) sessions.Store {
	if cfg.IsProduction() && cfg.SessionSecret == "catalog-dev-session-secret" {
		log.Warn("SESSION_SECRET is the development default")
	}
	store := sessions.NewCookieStore([]byte(cfg.SessionSecret))
	store.Options = &sessions.Options{
		Path:     "/",
		HttpOnly: true,
		Secure:   cfg.IsProduction(),
		SameSite: http.SameSiteLaxMode,
	}
	return store
}

func (s *Server) setNotice(c *gin.Context, message string) {
	session, err := s.sessions.Get(c.Request, sessionName)
	if err != nil {
		s.log.Warn("session decode failed", zap.Error(err))
	}
	session.AddFlash(message, noticeKey)
	if err := session.Save(c.Request, c.Writer); err != nil {
		s.log.Warn("session save failed", zap.Error(err))
	}
}

// popNotice returns and clears the pending notice, if any.
func (s *Server) popNotice(c *gin.Context) string {
	session, err := s.sessions.Get(c.Request, sessionName)
	if err != nil {
		return ""
	}
	flashes := session.Flashes(noticeKey)
	if len(flashes) == 0 {
		return ""
	}
	if err := session.Save(c.Request, c.Writer); err != nil {
		s.log.Warn("session save failed", zap.Error(err))
	}
	notice, _ := flashes[len(flashes)-1].(string)
	return notice
}
