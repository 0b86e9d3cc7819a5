package worker

import (
	"net/http"

	"golang.org/x/crypto/bcrypt"
)

// authenticate checks HTTP basic auth credentials on an incoming driver
// stream, before the WebSockets upgrade. When no auth username is
// configured the worker accepts all drivers.
func (s *Service) authenticate(w http.ResponseWriter, r *http.Request) bool {
	if len(s.cfg.AuthUsername) == 0 {
		return true
	}
	username, password, ok := r.BasicAuth()
	if !ok || username != s.cfg.AuthUsername ||
		bcrypt.CompareHashAndPassword([]byte(s.cfg.AuthPasswordHash), []byte(password)) != nil {
		s.logger.Error("Failed authentication attempt", "remoteAddr", r.RemoteAddr)
		w.Header().Set("WWW-Authenticate", `Basic realm="qps-worker"`)
		http.Error(w, "invalid username and/or password", http.StatusUnauthorized)
		return false
	}
	return true
}
