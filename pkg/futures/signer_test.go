package futures

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/base64"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"krakensync/internal/keyring"
	"krakensync/pkg/core"
)

var testSecret = base64.StdEncoding.EncodeToString([]byte("super-secret-signing-key"))

func newTestSigner(t *testing.T) *Signer {
	t.Helper()
	cred, err := keyring.New("test-api-key", testSecret)
	require.NoError(t, err)
	signer, err := NewSigner(cred)
	require.NoError(t, err)
	return signer
}

func TestNewSigner_RequiresCredential(t *testing.T) {
	signer, err := NewSigner(nil)

	assert.Nil(t, signer)
	require.Error(t, err)
	assert.True(t, core.IsConfigError(err))
	assert.True(t, core.IsErrorCode(err, core.ErrCodeNoCredentials))
}

func expectedSignature(t *testing.T, query, nonce, path string) string {
	t.Helper()
	secret, err := base64.StdEncoding.DecodeString(testSecret)
	require.NoError(t, err)
	digest := sha256.Sum256([]byte(query + nonce + path))
	mac := hmac.New(sha512.New, secret)
	mac.Write(digest[:])
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func TestSigner_NonceFormat(t *testing.T) {
	s := newTestSigner(t)
	s.now = func() time.Time { return time.UnixMilli(1700000000000) }

	assert.Equal(t, "170000000000000001", s.Nonce())
	assert.Equal(t, "170000000000000002", s.Nonce())
}

func TestSigner_NonceWrapsCounter(t *testing.T) {
	s := newTestSigner(t)
	s.now = func() time.Time { return time.UnixMilli(1700000000000) }
	s.counter = 99999

	assert.Equal(t, "170000000000000000", s.Nonce())
}

func TestSigner_NoncesIncrease(t *testing.T) {
	s := newTestSigner(t)

	prev := uint64(0)
	for range 1000 {
		n, err := strconv.ParseUint(s.Nonce(), 10, 64)
		require.NoError(t, err)
		assert.Greater(t, n, prev)
		prev = n
	}
}

func TestSigner_ConcurrentNoncesUnique(t *testing.T) {
	s := newTestSigner(t)

	const workers, perWorker = 8, 200
	var mu sync.Mutex
	seen := make(map[string]bool, workers*perWorker)
	var wg sync.WaitGroup
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range perWorker {
				n := s.Nonce()
				mu.Lock()
				seen[n] = true
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Len(t, seen, workers*perWorker)
}

func TestSigner_Sign(t *testing.T) {
	s := newTestSigner(t)
	query := "count=500&since=1700000000000"

	first := s.Sign(PathExecutions, query)
	second := s.Sign(PathExecutions, query)

	assert.Equal(t, "test-api-key", first[HeaderAPIKey])
	assert.Equal(t, expectedSignature(t, query, first[HeaderNonce], PathExecutions), first[HeaderAuthent])
	assert.Equal(t, expectedSignature(t, query, second[HeaderNonce], PathExecutions), second[HeaderAuthent])
	assert.NotEqual(t, first[HeaderAuthent], second[HeaderAuthent])

	n1, _ := strconv.ParseUint(first[HeaderNonce], 10, 64)
	n2, _ := strconv.ParseUint(second[HeaderNonce], 10, 64)
	assert.Greater(t, n2, n1)
}

func TestSigner_StripsDerivativesPrefix(t *testing.T) {
	s := newTestSigner(t)

	headers := s.Sign(PathOpenPositions, "")

	assert.Equal(t, expectedSignature(t, "", headers[HeaderNonce], "/api/v3/openpositions"), headers[HeaderAuthent])
}
