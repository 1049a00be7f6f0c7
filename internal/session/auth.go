// Package session holds the client-side state stores: the durable
// AuthStore and the in-memory AppStore.
package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/starford/paperlens/internal/storage"
)

// Persisted key names. They match what earlier clients wrote so an existing
// session survives an upgrade.
const (
	TokenKey = "access_token"
	StateKey = "auth-storage"
)

// AuthState is the authentication session. IsLoggedIn is true exactly when Token is non-empty.
type AuthState struct {
	IsLoggedIn bool   `json:"isLoggedIn"`
	Token      string `json:"token"`
	Username   string `json:"username"`
	Name       string `json:"name,omitempty"`
	UserID     string `json:"userId,omitempty"`
}

type persistedState struct {
	State   AuthState `json:"state"`
	Version int       `json:"version"`
}

// AuthStore keeps the session in memory and mirrors it to a storage.Provider.
type AuthStore struct {
	kv  storage.Provider
	now func() time.Time

	mu    sync.RWMutex
	state AuthState

	subMu  sync.Mutex
	subs   map[int]func(AuthState)
	nextID int
}

// NewAuthStore returns a logged-out store; call Rehydrate to load the persisted session.
func NewAuthStore(kv storage.Provider) *AuthStore {
	return &AuthStore{kv: kv, now: time.Now, subs: make(map[int]func(AuthState))}
}

// Snapshot returns a copy of the current session.
func (a *AuthStore) Snapshot() AuthState {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.state
}

// Token returns the bearer token, or "" when logged out.
func (a *AuthStore) Token() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.state.Token
}

func (a *AuthStore) IsLoggedIn() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.state.IsLoggedIn
}

// Subscribe registers fn to be called after every state change.
// The returned func removes the subscription.
func (a *AuthStore) Subscribe(fn func(AuthState)) func() {
	a.subMu.Lock()
	id := a.nextID
	a.nextID++
	a.subs[id] = fn
	a.subMu.Unlock()
	return func() {
		a.subMu.Lock()
		delete(a.subs, id)
		a.subMu.Unlock()
	}
}

func (a *AuthStore) notify(s AuthState) {
	a.subMu.Lock()
	fns := make([]func(AuthState), 0, len(a.subs))
	for _, fn := range a.subs {
		fns = append(fns, fn)
	}
	a.subMu.Unlock()
	for _, fn := range fns {
		fn(s)
	}
}

// Login stores a new session. The state blob is written before the raw token.
func (a *AuthStore) Login(token, username string) error {
	if token == "" || username == "" {
		return errors.New("session: login requires token and username")
	}
	next := AuthState{IsLoggedIn: true, Token: token, Username: username}
	a.mu.Lock()
	if err := a.writeBlob(next); err != nil {
		a.mu.Unlock()
		return err
	}
	if err := a.kv.Set(TokenKey, []byte(token)); err != nil {
		a.mu.Unlock()
		return fmt.Errorf("session: write token: %w", err)
	}
	a.state = next
	a.mu.Unlock()
	a.notify(next)
	return nil
}

// Logout clears memory and both persisted keys. The in-memory session is
// cleared even when the storage fails.
func (a *AuthStore) Logout() error {
	a.mu.Lock()
	a.state = AuthState{}
	err := a.clearPersisted()
	a.mu.Unlock()
	a.notify(AuthState{})
	return err
}

// SetUserInfo records the profile name and user id of the current session.
func (a *AuthStore) SetUserInfo(name, userID string) error {
	return a.update(func(s *AuthState) {
		s.Name = name
		if userID != "" {
			s.UserID = userID
		}
	})
}

// UpdateUserID records the backend user id of the current session.
func (a *AuthStore) UpdateUserID(userID string) error {
	return a.update(func(s *AuthState) { s.UserID = userID })
}

func (a *AuthStore) update(fn func(*AuthState)) error {
	a.mu.Lock()
	if !a.state.IsLoggedIn {
		a.mu.Unlock()
		return nil
	}
	next := a.state
	fn(&next)
	if next == a.state {
		a.mu.Unlock()
		return nil
	}
	if err := a.writeBlob(next); err != nil {
		a.mu.Unlock()
		return err
	}
	a.state = next
	a.mu.Unlock()
	a.notify(next)
	return nil
}

// Rehydrate reconciles the two persisted keys into the in-memory session.
//
// Both keys with a usable blob restore the session, and the raw token wins
// if the two disagree. Any other combination, or an expired token, clears
// both keys.
func (a *AuthStore) Rehydrate() error {
	a.mu.Lock()
	next, err := a.reconcile()
	changed := next != a.state
	a.state = next
	a.mu.Unlock()
	if changed {
		a.notify(next)
	}
	return err
}

func (a *AuthStore) reconcile() (AuthState, error) {
	rawToken, tokErr := a.kv.Get(TokenKey)
	if tokErr != nil && !errors.Is(tokErr, storage.ErrNotFound) {
		return AuthState{}, fmt.Errorf("session: read token: %w", tokErr)
	}
	rawBlob, blobErr := a.kv.Get(StateKey)
	if blobErr != nil && !errors.Is(blobErr, storage.ErrNotFound) {
		return AuthState{}, fmt.Errorf("session: read state: %w", blobErr)
	}
	hasToken := tokErr == nil && len(rawToken) > 0
	hasBlob := blobErr == nil && len(rawBlob) > 0
	if !hasToken && !hasBlob {
		return AuthState{}, nil
	}
	if !hasToken || !hasBlob {
		return AuthState{}, a.clearPersisted()
	}

	var p persistedState
	if err := json.Unmarshal(rawBlob, &p); err != nil {
		return AuthState{}, a.clearPersisted()
	}
	token := string(rawToken)
	if p.State.Username == "" || p.State.Token == "" || TokenExpired(token, a.now()) {
		return AuthState{}, a.clearPersisted()
	}

	next := p.State
	next.Token = token
	next.IsLoggedIn = true
	if next != p.State {
		if err := a.writeBlob(next); err != nil {
			return next, err
		}
	}
	return next, nil
}

func (a *AuthStore) writeBlob(s AuthState) error {
	data, err := json.Marshal(persistedState{State: s})
	if err != nil {
		return fmt.Errorf("session: encode state: %w", err)
	}
	if err := a.kv.Set(StateKey, data); err != nil {
		return fmt.Errorf("session: write state: %w", err)
	}
	return nil
}

func (a *AuthStore) clearPersisted() error {
	return errors.Join(a.kv.Delete(TokenKey), a.kv.Delete(StateKey))
}

// Claims is what can be read from a bearer token without verifying it.
type Claims struct {
	Subject   string
	ExpiresAt *time.Time
}

// InspectToken decodes JWT claims without verifying the signature. Tokens
// that are not JWTs report ok=false.
func InspectToken(token string) (Claims, bool) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return Claims{}, false
	}
	var c Claims
	c.Subject, _ = claims.GetSubject()
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		t := exp.Time
		c.ExpiresAt = &t
	}
	return c, true
}

// TokenExpired reports whether token is a JWT whose exp lies before now.
// Opaque tokens never expire client-side.
func TokenExpired(token string, now time.Time) bool {
	c, ok := InspectToken(token)
	if !ok || c.ExpiresAt == nil {
		return false
	}
	return !c.ExpiresAt.After(now)
}
