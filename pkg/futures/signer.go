package futures

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/base64"
	"fmt"
	"strings"
	"sync"
	"time"

	"krakensync/internal/keyring"
	"krakensync/pkg/core"
)

// Header names carrying the request signature.
const (
	HeaderAPIKey  = "APIKey"
	HeaderAuthent = "Authent"
	HeaderNonce   = "Nonce"
)

const derivativesPrefix = "/derivatives"

// Signer produces authentication headers for private requests. Nonces are
// strictly increasing for the lifetime of a Signer, including under
// concurrent use.
type Signer struct {
	cred *keyring.Credential
	now  func() time.Time

	mu      sync.Mutex
	counter int
}

// NewSigner builds a Signer for cred. A nil credential is a configuration
// error.
func NewSigner(cred *keyring.Credential) (*Signer, error) {
	if cred == nil {
		return nil, core.NewConfigError("signer requires a credential", core.ErrNoCredentials).
			WithCode(core.ErrCodeNoCredentials)
	}
	return &Signer{cred: cred, now: time.Now}, nil
}

// Nonce returns the epoch milliseconds followed by a five-digit counter.
func (s *Signer) Nonce() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counter = (s.counter + 1) % 100000
	return fmt.Sprintf("%d%05d", s.now().UnixMilli(), s.counter)
}

// Sign returns the headers authenticating a GET of path with the given
// encoded query. query must be byte-identical to what goes on the wire.
func (s *Signer) Sign(path, query string) map[string]string {
	nonce := s.Nonce()
	return map[string]string{
		HeaderAPIKey:  s.cred.Key(),
		HeaderAuthent: s.signature(path, query, nonce),
		HeaderNonce:   nonce,
	}
}

func (s *Signer) signature(path, query, nonce string) string {
	endpoint := strings.TrimPrefix(path, derivativesPrefix)

	digest := sha256.Sum256([]byte(query + nonce + endpoint))
	mac := hmac.New(sha512.New, s.cred.Secret())
	mac.Write(digest[:])
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}
