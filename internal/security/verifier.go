package security

type SessionTokenVerifier interface {
	VerifySessionToken(token string) (SessionClaims, error)
}
