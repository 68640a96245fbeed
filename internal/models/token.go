package models

// Keys under which the token pair lives in durable storage
const (
	AccessTokenKey  = "access_token"
	RefreshTokenKey = "refresh_token"
)

// Token pair issued by the API on login
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type,omitempty"`
}

type RefreshRequest struct {
	RefreshToken string `json:"refresh_token" validate:"required"`
}

// Refresh returns fresh access token only: the refresh token stays the same
type RefreshResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type,omitempty"`
}
