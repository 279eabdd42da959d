package web

import (
	"crypto/subtle"
	"log"
	"net/http"
	"os"

	"github.com/goji/httpauth"
	"github.com/gorilla/securecookie"
)

const (
	cookieName  = "webauth"
	cookieValue = "authenticated"
)

type AuthMiddleware struct {
	sc         *securecookie.SecureCookie
	opts       httpauth.AuthOptions
	user, pass string
}

// Setup new middleware for authenticating requests. Credentials are read
// from the WEB_USER and WEB_PASS environment variables, if either is unset
// then authentication is disabled.
func NewAuthMiddleware() AuthMiddleware {
	hashKey := securecookie.GenerateRandomKey(32)
	blockKey := securecookie.GenerateRandomKey(32)
	mw := AuthMiddleware{
		sc:   securecookie.New(hashKey, blockKey),
		user: os.Getenv("WEB_USER"),
		pass: os.Getenv("WEB_PASS"),
	}
	mw.opts = httpauth.AuthOptions{Realm: "Restricted", AuthFunc: mw.checkAuth}
	return mw
}

// If session cookie is not present then use basic auth to login and set a cookie.
func (mw AuthMiddleware) Middleware(next http.Handler) http.Handler {
	if mw.user == "" || mw.pass == "" {
		log.Println("WEB_USER / WEB_PASS not set - authentication disabled")
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if cookie, err := r.Cookie(cookieName); err == nil {
			var value string
			if err = mw.sc.Decode(cookieName, cookie.Value, &value); err == nil && value == cookieValue {
				next.ServeHTTP(w, r)
				return
			}
		}
		httpauth.BasicAuth(mw.opts)(mw.setCookie(next)).ServeHTTP(w, r)
	})
}

func (mw AuthMiddleware) setCookie(h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if encoded, err := mw.sc.Encode(cookieName, cookieValue); err == nil {
			cookie := &http.Cookie{Name: cookieName, Value: encoded, Path: "/", HttpOnly: true}
			http.SetCookie(w, cookie)
		} else {
			log.Println("error encoding cookie:", err)
		}
		h.ServeHTTP(w, r)
	})
}

func (mw AuthMiddleware) checkAuth(user, pass string, r *http.Request) bool {
	ok := subtle.ConstantTimeCompare([]byte(user), []byte(mw.user)) == 1 &&
		subtle.ConstantTimeCompare([]byte(pass), []byte(mw.pass)) == 1
	log.Println("auth", user, ok)
	return ok
}
