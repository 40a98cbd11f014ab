package auth

import (
	"net/url"
	"strings"

	"github.com/google/uuid"
)

// stateSeparator is made of RFC 3986 unreserved characters so the encoded
// state survives a redirect without escaping.
const stateSeparator = "~~"

// OAuthState is round-tripped through the provider's consent redirect.
type OAuthState struct {
	Method Method
	Code   uuid.UUID
}

func (s OAuthState) Encode() string {
	return s.Method.String() + stateSeparator + s.Code.String()
}

// DecodeOAuthState parses an encoded state. Escaped input (single or double)
// is accepted. Any malformed value yields ok == false.
func DecodeOAuthState(raw string) (OAuthState, bool) {
	for i := 0; i < 2 && strings.Contains(raw, "%"); i++ {
		unescaped, err := url.QueryUnescape(raw)
		if err != nil {
			return OAuthState{}, false
		}
		raw = unescaped
	}

	parts := strings.Split(raw, stateSeparator)
	if len(parts) != 2 {
		return OAuthState{}, false
	}

	method, ok := ParseMethod(parts[0])
	if !ok {
		return OAuthState{}, false
	}

	code, err := uuid.Parse(parts[1])
	if err != nil {
		return OAuthState{}, false
	}

	return OAuthState{Method: method, Code: code}, true
}
