package www

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"net/http"

	"github.com/gorilla/sessions"
)

const sessionName = "lastmile_session"

type sessionStore struct {
	store *sessions.CookieStore
}

func newSessionStore(secret string) *sessionStore {
	var key []byte
	if secret != "" {
		key, _ = base64.StdEncoding.DecodeString(secret)
	}
	if len(key) < 32 {
		key = make([]byte, 32)
		rand.Read(key)
	}
	cs := sessions.NewCookieStore(key)
	cs.Options = &sessions.Options{
		Path:     "/",
		MaxAge:   7 * 24 * 60 * 60, // 7 days
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	}
	return &sessionStore{store: cs}
}

func (s *sessionStore) get(r *http.Request) *sessions.Session {
	sess, _ := s.store.Get(r, sessionName)
	return sess
}

func (s *sessionStore) getOperator(r *http.Request) (string, bool) {
	sess := s.get(r)
	u, exists := sess.Values["operator"]
	if !exists {
		return "", false
	}
	username, ok := u.(string)
	return username, ok
}

func (s *sessionStore) setOperator(w http.ResponseWriter, r *http.Request, username string) {
	sess := s.get(r)
	sess.Values["operator"] = username
	sess.Save(r, w)
}

func (s *sessionStore) clear(w http.ResponseWriter, r *http.Request) {
	sess := s.get(r)
	delete(sess.Values, "operator")
	sess.Options.MaxAge = -1
	sess.Save(r, w)
}

// requireOperator gates route-planning endpoints behind an operator session.
func (h *Handlers) requireOperator(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if _, ok := h.sessions.getOperator(r); !ok {
			writeError(w, http.StatusForbidden, "operator session required")
			return
		}
		next(w, r)
	}
}

func (h *Handlers) apiLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	ok, err := h.db.CheckOperator(req.Username, req.Password)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "login failed")
		return
	}
	if !ok {
		writeError(w, http.StatusForbidden, "invalid credentials")
		return
	}
	h.sessions.setOperator(w, r, req.Username)
	writeJSON(w, map[string]string{"status": "ok"})
}

func (h *Handlers) apiLogout(w http.ResponseWriter, r *http.Request) {
	h.sessions.clear(w, r)
	writeJSON(w, map[string]string{"status": "ok"})
}
