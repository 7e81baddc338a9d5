package secrets

import (
	"encoding/base64"
	"fmt"

	"github.com/velzox/apimon/core"
)

// defaultAPIKeyHeader is used when an API_KEY credential carries no header name.
const defaultAPIKeyHeader = "X-API-Key"

// DecryptedCredential is the in-memory form of a credential for the duration
// of a single probe. It must never be persisted or logged.
type DecryptedCredential struct {
	Type       core.CredentialType
	Value      string
	Username   string
	HeaderName string
}

// OpenCredential decrypts a credential's sealed fields.
func OpenCredential(box *Box, cred *core.Credential) (DecryptedCredential, error) {
	value, err := box.Open(cred.SealedValue)
	if err != nil {
		return DecryptedCredential{}, fmt.Errorf("open credential %d: %w", cred.ID, err)
	}

	out := DecryptedCredential{Type: cred.Type, Value: value}
	if cred.HeaderName != nil {
		out.HeaderName = *cred.HeaderName
	}
	if cred.Type == core.CredentialBasicAuth && cred.SealedUsername != nil {
		username, err := box.Open(*cred.SealedUsername)
		if err != nil {
			return DecryptedCredential{}, fmt.Errorf("open credential %d username: %w", cred.ID, err)
		}
		out.Username = username
	}
	return out, nil
}

// Header projects the credential into the request header the prober sets.
// The projection overwrites any conflicting custom header.
func (c DecryptedCredential) Header() (name, value string) {
	switch c.Type {
	case core.CredentialAPIKey:
		name = c.HeaderName
		if name == "" {
			name = defaultAPIKeyHeader
		}
		return name, c.Value
	case core.CredentialBasicAuth:
		token := base64.StdEncoding.EncodeToString([]byte(c.Username + ":" + c.Value))
		return "Authorization", "Basic " + token
	default: // BEARER_TOKEN
		return "Authorization", "Bearer " + c.Value
	}
}
