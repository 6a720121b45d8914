// Package locker provides an HTTP middleware which allows a route table to
// be locked, returning 423 (Locked) while held.  It gives a remote caller
// exclusive use of a device that tolerates only one client at a time.
package locker

import (
	"encoding/json"
	"go/types"
	"net/http"
	"strings"

	"goji.io/pat"

	"github.com/sembeam/sembeam/server"
)

// Inject adds GET/POST /lock routes to an HTTPer, through which the lock is
// inspected and manipulated.
func Inject(other server.HTTPer, l *Locker) {
	rt := other.RT()
	rt[pat.Get("/lock")] = l.HTTPGet
	rt[pat.Post("/lock")] = l.HTTPSet
}

// Locker behaves like a mutex without the blocking: requests to protected
// paths bounce with 423 while it is held.
type Locker struct {
	locked bool

	// DoNotProtect is a list of path fragments the lock does not apply to
	DoNotProtect []string
}

// New returns a new Locker with DoNotProtect prepopulated with "lock",
// so the lock itself can always be released.
func New() *Locker {
	return &Locker{DoNotProtect: []string{"lock"}}
}

// Lock the locker.
func (l *Locker) Lock() {
	l.locked = true
}

// Unlock the locker.
func (l *Locker) Unlock() {
	l.locked = false
}

// Locked returns true if the locker is locked.
func (l *Locker) Locked() bool {
	return l.locked
}

// Check is the middleware; it bounces requests to protected paths with
// http.StatusLocked while the locker is held.
func (l *Locker) Check(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if l.Locked() {
			protected := true
			for _, str := range l.DoNotProtect {
				if strings.Contains(r.URL.Path, str) {
					protected = false
				}
			}
			if protected {
				w.WriteHeader(http.StatusLocked)
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

// HTTPGet replies with the lock state as json:bool.
func (l *Locker) HTTPGet(w http.ResponseWriter, r *http.Request) {
	hp := server.HumanPayload{T: types.Bool, Bool: l.Locked()}
	hp.EncodeAndRespond(w, r)
}

// HTTPSet locks or unlocks based on json:bool in the request body.
func (l *Locker) HTTPSet(w http.ResponseWriter, r *http.Request) {
	b := server.BoolT{}
	err := json.NewDecoder(r.Body).Decode(&b)
	defer r.Body.Close()
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if b.Bool {
		l.Lock()
	} else {
		l.Unlock()
	}
	w.WriteHeader(http.StatusOK)
}
