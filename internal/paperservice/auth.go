package paperservice

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
	"github.com/starford/paperlens/internal/models"
	"github.com/starford/paperlens/internal/query"
)

// LoginPath is where an expired session is sent.
const LoginPath = "/login"

const (
	msgLoginOK       = "로그인 성공"
	msgLoginFail     = "로그인 실패"
	msgQuitOK        = "회원 탈퇴가 완료되었습니다"
	msgQuitFail      = "회원 탈퇴 실패"
	msgSessionExpiry = "세션이 만료되었습니다. 다시 로그인해주세요."
)

// Navigator moves the user to another screen. The CLI ignores it; the
// gateway forwards it to connected clients.
type Navigator interface {
	Navigate(path string)
}

// NavigatorFunc adapts a plain func to Navigator.
type NavigatorFunc func(path string)

func (f NavigatorFunc) Navigate(path string) { f(path) }

func WithNavigator(n Navigator) Option {
	return func(s *Service) { s.nav = n }
}

// Profile returns the logged-in user's profile and records the name and id
// in the session.
func (s *Service) Profile(ctx context.Context) (models.UserProfile, error) {
	u, err := query.Fetch(ctx, s.cache, query.Query[models.UserProfile]{
		Key:       ProfileKey,
		StaleTime: s.fresh.Profile,
		Enabled:   s.loggedIn,
		Retry:     s.fresh.Retry,
		Fn:        s.api.Me,
	})
	if err != nil {
		return models.UserProfile{}, err
	}
	if err := s.auth.SetUserInfo(u.DisplayName(), string(u.ID)); err != nil {
		s.logger.Warn("store profile in session failed", slog.String("error", err.Error()))
	}
	return u, nil
}

// Login authenticates and starts a new session. Cached data of any
// previous session is dropped.
func (s *Service) Login(ctx context.Context, username, password string) (SessionInfo, error) {
	username = strings.TrimSpace(username)
	err := validation.Errors{
		"username": validation.Validate(username, validation.Required),
		"password": validation.Validate(password, validation.Required),
	}.Filter()
	if err != nil {
		return SessionInfo{}, invalid(err)
	}
	res, err := s.api.Login(ctx, username, password)
	if err != nil {
		s.notify.Error(msgLoginFail, err.Error())
		return SessionInfo{}, err
	}
	if err := s.auth.Login(res.AccessToken, res.Username); err != nil {
		return SessionInfo{}, err
	}
	s.app.Reset()
	s.cache.Clear()
	if res.UserID != "" {
		if err := s.auth.UpdateUserID(string(res.UserID)); err != nil {
			s.logger.Warn("store user id failed", slog.String("error", err.Error()))
		}
	}
	if _, err := s.Profile(ctx); err != nil {
		s.logger.Warn("load profile after login failed", slog.String("error", err.Error()))
	}
	s.notify.Success(msgLoginOK, "")
	return s.Session(), nil
}

func validateRegister(req models.RegisterRequest) error {
	return validation.ValidateStruct(&req,
		validation.Field(&req.Username, validation.Required, validation.Length(3, 50)),
		validation.Field(&req.Password, validation.Required, validation.Length(4, 128)),
		validation.Field(&req.Email, is.EmailFormat),
	)
}

// Register creates an account. It does not log in.
func (s *Service) Register(ctx context.Context, req models.RegisterRequest) (models.UserProfile, error) {
	req.Username = strings.TrimSpace(req.Username)
	req.Email = strings.TrimSpace(req.Email)
	if err := validateRegister(req); err != nil {
		return models.UserProfile{}, invalid(err)
	}
	return s.api.Register(ctx, req)
}

func (s *Service) UsernameExists(ctx context.Context, username string) (bool, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return false, invalid(errors.New("username is required"))
	}
	return s.api.UsernameExists(ctx, username)
}

// Logout ends the session on the server, then locally. The local session
// is cleared even when the server call fails.
func (s *Service) Logout(ctx context.Context) error {
	if s.loggedIn() {
		if err := s.api.Logout(ctx); err != nil {
			s.logger.Warn("server logout failed", slog.String("error", err.Error()))
		}
	}
	return s.endSession()
}

// QuitAccount deletes the account and, on success, ends the session.
func (s *Service) QuitAccount(ctx context.Context) error {
	if err := s.requireLogin(); err != nil {
		return err
	}
	if err := s.api.QuitAccount(ctx); err != nil {
		s.notify.Error(msgQuitFail, err.Error())
		return err
	}
	if err := s.endSession(); err != nil {
		return err
	}
	s.notify.Success(msgQuitOK, "")
	return nil
}

// ExpireSession handles a 401 from the backend: the session is cleared and
// the user is sent to the login screen. It is installed as the HTTP
// client's unauthorized handler.
func (s *Service) ExpireSession(ctx context.Context) {
	was := s.loggedIn()
	if err := s.endSession(); err != nil {
		s.logger.WarnContext(ctx, "clear expired session failed", slog.String("error", err.Error()))
	}
	if was {
		s.notify.Error(msgLoginRequired, msgSessionExpiry)
	}
	if s.nav != nil {
		s.nav.Navigate(LoginPath)
	}
}

func (s *Service) endSession() error {
	err := s.auth.Logout()
	s.app.Reset()
	s.cache.Clear()
	if err != nil {
		return fmt.Errorf("paperservice: clear session: %w", err)
	}
	return nil
}
