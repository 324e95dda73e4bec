package domain

// Credential is the OAuth token pair stored for one CRM domain.
type Credential struct {
	Domain       string
	AccessToken  string
	RefreshToken string
}

// Usable reports whether both tokens are present.
func (c Credential) Usable() bool {
	return c.AccessToken != "" && c.RefreshToken != ""
}
