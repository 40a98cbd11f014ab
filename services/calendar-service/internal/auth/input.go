package auth

import (
	"github.com/Rohianon/uou/pkg/oauth"
)

// Input is the raw credential material of one auth attempt. It is either
// an OAuthInput or a DirectSubmissionInput.
type Input interface {
	isInput()
}

// OAuthInput carries the result of an authorization code exchange.
type OAuthInput struct {
	Result *oauth.Result
}

// DirectSubmissionInput carries credentials posted by the user, such as an
// Exchange username and password or a service account key.
type DirectSubmissionInput struct {
	Data map[string]string
}

func (OAuthInput) isInput()            {}
func (DirectSubmissionInput) isInput() {}

// IdentifierType tags what kind of entity a finished auth produced.
type IdentifierType string

const (
	IdentifierAccount          IdentifierType = "ACCOUNT"
	IdentifierServiceAccount   IdentifierType = "SERVICE_ACCOUNT"
	IdentifierConferencingUser IdentifierType = "CONFERENCING_USER"
)

// Result is returned to the caller of a finished auth attempt.
type Result struct {
	Code   AuthCode
	IDType IdentifierType
	// ID is the sync provider's account id for accounts and the internal id
	// for service accounts and conferencing users.
	ID string
}
