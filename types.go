package oauth

// ErrorResponse is the JSON body of every error response
type ErrorResponse struct {
	// Error is the error code
	Error string `json:"error"`

	// ErrorDescription provides additional information
	ErrorDescription string `json:"error_description,omitempty"`
}

// TokenResponse is the token endpoint's success body (RFC 6749 section 5.1)
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
	ExpiresIn    int64  `json:"expires_in"`
	TokenType    string `json:"token_type"`
	Scope        string `json:"scope,omitempty"`
}

// TokenInfoResponse is the token introspection success body
type TokenInfoResponse struct {
	// Audience is the client_id the token was issued to
	Audience string `json:"audience"`

	// ExpiresIn is the remaining lifetime in whole seconds
	ExpiresIn int64 `json:"expires_in"`
}

// RevocationResponse is the empty object returned on successful revocation
type RevocationResponse struct{}

// UserInfoResponse describes the owner of the presented access token
type UserInfoResponse struct {
	UserID string `json:"user_id"`
	Name   string `json:"name"`
	Scope  string `json:"scope"`
}

// ClientInfoResponse describes the application the presented access token was issued to
type ClientInfoResponse struct {
	ClientID string `json:"client_id"`
	Name     string `json:"name"`
	Scope    string `json:"scope"`
}
