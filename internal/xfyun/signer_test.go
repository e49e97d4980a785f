package xfyun_test

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"net/url"
	"testing"
	"time"

	"github.com/book-expert/speech-service/internal/xfyun"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSignedURL_CarriesDoubleEncodedAuthorization(t *testing.T) {
	t.Parallel()

	signer, err := xfyun.NewSigner(xfyun.Credentials{
		AppID:     "app",
		APIKey:    "key-456",
		APISecret: "secret-789",
		Endpoint:  "wss://tts-api.xfyun.cn/v2/tts",
	})
	require.NoError(t, err)

	now := time.Date(2024, time.March, 5, 8, 9, 10, 0, time.UTC)
	signed, err := url.Parse(signer.SignedURL(now))
	require.NoError(t, err)

	assert.Equal(t, "wss", signed.Scheme)
	assert.Equal(t, "tts-api.xfyun.cn", signed.Host)
	assert.Equal(t, "/v2/tts", signed.Path)

	query := signed.Query()
	assert.Equal(t, "tts-api.xfyun.cn", query.Get("host"))
	assert.Equal(t, "Tue, 05 Mar 2024 08:09:10 GMT", query.Get("date"))

	canonical := "host: tts-api.xfyun.cn\ndate: Tue, 05 Mar 2024 08:09:10 GMT\nGET /v2/tts HTTP/1.1"
	mac := hmac.New(sha256.New, []byte("secret-789"))
	mac.Write([]byte(canonical))
	signature := base64.StdEncoding.EncodeToString(mac.Sum(nil))

	decoded, err := base64.StdEncoding.DecodeString(query.Get("authorization"))
	require.NoError(t, err)

	expected := fmt.Sprintf(
		`api_key="key-456", algorithm="hmac-sha256", headers="host date request-line", signature="%s"`,
		signature,
	)
	assert.Equal(t, expected, string(decoded))
}

func TestSignedURL_FreshTimestampYieldsFreshSignature(t *testing.T) {
	t.Parallel()

	signer, err := xfyun.NewSigner(xfyun.Credentials{
		APIKey:    "key",
		APISecret: "secret",
		Endpoint:  "wss://spark-api.xf-yun.com/v1.1/chat",
	})
	require.NoError(t, err)

	base := time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC)

	for offset := 1; offset <= 5; offset++ {
		first, parseErr := url.Parse(signer.SignedURL(base))
		require.NoError(t, parseErr)

		second, parseErr := url.Parse(signer.SignedURL(base.Add(time.Duration(offset) * time.Second)))
		require.NoError(t, parseErr)

		assert.NotEqual(t, first.Query().Get("authorization"), second.Query().Get("authorization"))
		assert.NotEqual(t, first.Query().Get("date"), second.Query().Get("date"))
	}
}

func TestSignedURL_IsDeterministicForSameInstant(t *testing.T) {
	t.Parallel()

	signer, err := xfyun.NewSigner(xfyun.Credentials{APIKey: "k", APISecret: "s", Endpoint: "ws://localhost:9000/v2/tts"})
	require.NoError(t, err)

	now := time.Unix(1700000000, 0)
	assert.Equal(t, signer.SignedURL(now), signer.SignedURL(now))
}

func TestSignedURL_KeepsExistingQuery(t *testing.T) {
	t.Parallel()

	signer, err := xfyun.NewSigner(xfyun.Credentials{Endpoint: "wss://example.com/v2/tts?region=cn"})
	require.NoError(t, err)

	signed, err := url.Parse(signer.SignedURL(time.Unix(1700000000, 0)))
	require.NoError(t, err)

	assert.Equal(t, "cn", signed.Query().Get("region"))
	assert.NotEmpty(t, signed.Query().Get("authorization"))
}

func TestNewSigner_EmptySecretIsAccepted(t *testing.T) {
	t.Parallel()

	signer, err := xfyun.NewSigner(xfyun.Credentials{Endpoint: "wss://tts-api.xfyun.cn/v2/tts"})
	require.NoError(t, err)

	signed, err := url.Parse(signer.SignedURL(time.Now()))
	require.NoError(t, err)
	assert.NotEmpty(t, signed.Query().Get("authorization"))
}

func TestNewSigner_RejectsMalformedEndpoint(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		endpoint string
	}{
		{name: "empty", endpoint: ""},
		{name: "http scheme", endpoint: "https://tts-api.xfyun.cn/v2/tts"},
		{name: "no host", endpoint: "wss:///v2/tts"},
		{name: "unparseable", endpoint: "wss://bad host/%zz"},
	}

	for _, testCase := range tests {
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			_, err := xfyun.NewSigner(xfyun.Credentials{Endpoint: testCase.endpoint})
			require.ErrorIs(t, err, xfyun.ErrSigningInput)
		})
	}
}
