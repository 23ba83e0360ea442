package server

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"

	"github.com/rs/zerolog"

	"github.com/yairfalse/armoryx/internal/admin"
	"github.com/yairfalse/armoryx/internal/config"
)

var errNoCredentials = errors.New("missing or invalid credentials")

type account struct {
	password  string
	token     string
	principal *admin.Principal
}

// Authenticator matches bearer tokens and basic-auth credentials against the
// configured users.
type Authenticator struct {
	accounts []account
}

// NewAuthenticator creates an Authenticator for users.
func NewAuthenticator(users []config.User) *Authenticator {
	a := &Authenticator{accounts: make([]account, 0, len(users))}
	for _, u := range users {
		perms := append([]string(nil), u.Permissions...)
		a.accounts = append(a.accounts, account{
			password: u.Password,
			token:    u.Token,
			principal: &admin.Principal{
				Username:    u.Username,
				IsStaff:     u.Staff || u.Superuser,
				IsSuperuser: u.Superuser,
				Permissions: perms,
			},
		})
	}
	return a
}

// Authenticate returns the principal identified by r's Authorization header.
func (a *Authenticator) Authenticate(r *http.Request) (*admin.Principal, bool) {
	header := r.Header.Get("Authorization")
	if token, ok := strings.CutPrefix(header, "Bearer "); ok {
		token = strings.TrimSpace(token)
		if token == "" {
			return nil, false
		}
		for _, acc := range a.accounts {
			if acc.token != "" && secureEqual(acc.token, token) {
				return acc.principal, true
			}
		}
		return nil, false
	}

	user, pass, ok := r.BasicAuth()
	if !ok {
		return nil, false
	}
	for _, acc := range a.accounts {
		if acc.principal.Username == user && acc.password != "" && secureEqual(acc.password, pass) {
			return acc.principal, true
		}
	}
	return nil, false
}

func secureEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// requireStaff rejects requests without a staff principal.
func (s *Server) requireStaff(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, ok := s.auth.Authenticate(r)
		if !ok || !p.IsStaff {
			zerolog.Ctx(r.Context()).Debug().
				Bool("authenticated", ok).
				Msg("rejecting request without staff credentials")
			w.Header().Set("WWW-Authenticate", `Basic realm="armoryx"`)
			respondError(w, r, ErrUnauthorized(errNoCredentials))
			return
		}

		logger := zerolog.Ctx(r.Context()).With().Str("user", p.Username).Logger()
		ctx := logger.WithContext(admin.WithPrincipal(r.Context(), p))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
