package auth

import (
	"fmt"
	"sort"
)

// DataType is what an auth method grants access to.
type DataType string

const (
	DataTypeCalendar     DataType = "CALENDAR"
	DataTypeConferencing DataType = "CONFERENCING"
)

// Flow is how credentials for a method are obtained.
type Flow string

const (
	FlowNone             Flow = "NONE"
	FlowOAuthAuthCode    Flow = "OAUTH_AUTH_CODE"
	FlowDirectSubmission Flow = "DIRECT_SUBMISSION"
)

// Provider is the external system a method authenticates against.
type Provider string

const (
	ProviderGoogle    Provider = "google"
	ProviderMicrosoft Provider = "microsoft"
	ProviderExchange  Provider = "exchange"
	ProviderZoom      Provider = "zoom"
	ProviderInternal  Provider = "internal"
)

// Method is the canonical auth method value stored on accounts and carried
// in OAuth state.
type Method string

const (
	MethodGoogleOAuth          Method = "GOOGLE_OAUTH"
	MethodGoogleServiceAccount Method = "GOOGLE_SA"
	MethodMicrosoftOAuth       Method = "MS_OAUTH"
	MethodMicrosoftOAuthSA     Method = "MS_OAUTH_SA"
	MethodExchange             Method = "EWS"
	MethodTeamsOAuth           Method = "CONF_TEAMS_OAUTH"
	MethodZoomOAuth            Method = "CONF_ZOOM_OAUTH"
	MethodInternal             Method = "INTERNAL"
)

type methodInfo struct {
	provider       Provider
	dataType       DataType
	flow           Flow
	serviceAccount bool
}

var methods = map[Method]methodInfo{
	MethodGoogleOAuth:          {ProviderGoogle, DataTypeCalendar, FlowOAuthAuthCode, false},
	MethodGoogleServiceAccount: {ProviderGoogle, DataTypeCalendar, FlowDirectSubmission, true},
	MethodMicrosoftOAuth:       {ProviderMicrosoft, DataTypeCalendar, FlowOAuthAuthCode, false},
	MethodMicrosoftOAuthSA:     {ProviderMicrosoft, DataTypeCalendar, FlowOAuthAuthCode, true},
	MethodExchange:             {ProviderExchange, DataTypeCalendar, FlowDirectSubmission, false},
	MethodTeamsOAuth:           {ProviderMicrosoft, DataTypeConferencing, FlowOAuthAuthCode, false},
	MethodZoomOAuth:            {ProviderZoom, DataTypeConferencing, FlowOAuthAuthCode, false},
	MethodInternal:             {ProviderInternal, DataTypeCalendar, FlowNone, false},
}

// ParseMethod maps a canonical value to its Method. Matching is
// case-sensitive.
func ParseMethod(s string) (Method, bool) {
	m := Method(s)
	_, ok := methods[m]
	return m, ok
}

// Methods returns every known method in canonical order.
func Methods() []Method {
	out := make([]Method, 0, len(methods))
	for m := range methods {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (m Method) String() string {
	return string(m)
}

func (m Method) IsValid() bool {
	_, ok := methods[m]
	return ok
}

func (m Method) Provider() Provider {
	return methods[m].provider
}

func (m Method) DataType() DataType {
	return methods[m].dataType
}

func (m Method) Flow() Flow {
	return methods[m].flow
}

// IsServiceAccount reports whether the method authenticates a service
// account that provisions linked sub-accounts.
func (m Method) IsServiceAccount() bool {
	return methods[m].serviceAccount
}

// MarshalText writes the zero Method as an empty string so partially loaded
// rows still encode. Any other unknown value is an error.
func (m Method) MarshalText() ([]byte, error) {
	if m != "" && !m.IsValid() {
		return nil, fmt.Errorf("unknown auth method %q", string(m))
	}
	return []byte(m), nil
}

func (m *Method) UnmarshalText(text []byte) error {
	parsed, ok := ParseMethod(string(text))
	if !ok {
		return fmt.Errorf("unknown auth method %q", string(text))
	}
	*m = parsed
	return nil
}
