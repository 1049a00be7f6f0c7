package models

import (
	"regexp"
	"sort"
	"strings"
)

// MaxInterests caps how many categories a user may follow.
const MaxInterests = 5

var categoryCodeRe = regexp.MustCompile(`^[a-z-]+(\.[A-Za-z-]+)?$`)

// ValidCategoryCode reports whether code looks like an arXiv category (e.g. "cs.AI", "hep-th").
func ValidCategoryCode(code string) bool {
	return categoryCodeRe.MatchString(code)
}

// InterestSet is an ordered, de-duplicated list of category codes.
type InterestSet []string

// NewInterestSet trims, drops blanks and removes repeats while keeping order.
func NewInterestSet(codes ...string) InterestSet {
	return InterestSet(compact(codes))
}

func (s InterestSet) Contains(code string) bool {
	for _, c := range s {
		if c == code {
			return true
		}
	}
	return false
}

// Diff returns the codes to add and to remove to turn s into target.
func (s InterestSet) Diff(target InterestSet) (add, remove []string) {
	for _, c := range target {
		if !s.Contains(c) {
			add = append(add, c)
		}
	}
	for _, c := range s {
		if !target.Contains(c) {
			remove = append(remove, c)
		}
	}
	return add, remove
}

// SortedCodes returns a sorted copy of codes, used to build stable cache keys.
func SortedCodes(codes []string) []string {
	out := append([]string(nil), compact(codes)...)
	sort.Strings(out)
	return out
}

// UserProfile is what GET /auth/me returns.
type UserProfile struct {
	ID       FlexString `json:"id"`
	Username string     `json:"username"`
	Name     string     `json:"name,omitempty"`
	Email    string     `json:"email,omitempty"`
}

// DisplayName prefers the real name over the login name.
func (u UserProfile) DisplayName() string {
	return firstNonEmpty(strings.TrimSpace(u.Name), u.Username)
}

// LoginResult is the token response of POST /auth/login.
type LoginResult struct {
	AccessToken string     `json:"access_token"`
	TokenType   string     `json:"token_type,omitempty"`
	Username    string     `json:"username,omitempty"`
	UserID      FlexString `json:"user_id,omitempty"`
}

// RegisterRequest is the body of POST /auth/register.
type RegisterRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Name     string `json:"name,omitempty"`
	Email    string `json:"email,omitempty"`
}
