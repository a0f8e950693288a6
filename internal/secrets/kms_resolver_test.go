package secrets

import (
	"context"
	"encoding/base64"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"demo-call-service/internal/config"
)

type fakeKMS struct {
	calls     int
	plaintext map[string]string
	err       error
}

func (f *fakeKMS) Decrypt(_ context.Context, in *kms.DecryptInput, _ ...func(*kms.Options)) (*kms.DecryptOutput, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return &kms.DecryptOutput{
		Plaintext: []byte(f.plaintext[string(in.CiphertextBlob)]),
		KeyId:     aws.String("alias/demo"),
	}, nil
}

func encrypted(blob string) string {
	return EncryptedPrefix + base64.StdEncoding.EncodeToString([]byte(blob))
}

func TestResolvePassesThroughPlainValues(t *testing.T) {
	t.Parallel()

	fake := &fakeKMS{}
	r := NewResolver(fake, zap.NewNop())

	got, err := r.Resolve(context.Background(), "sk_plain")
	require.NoError(t, err)
	assert.Equal(t, "sk_plain", got)
	assert.Zero(t, fake.calls)
}

func TestResolveDecryptsAndCaches(t *testing.T) {
	t.Parallel()

	fake := &fakeKMS{plaintext: map[string]string{"blob-1": "sk_live"}}
	r := NewResolver(fake, zap.NewNop())

	for i := 0; i < 3; i++ {
		got, err := r.Resolve(context.Background(), encrypted("blob-1"))
		require.NoError(t, err)
		assert.Equal(t, "sk_live", got)
	}
	assert.Equal(t, 1, fake.calls)
}

func TestResolveErrors(t *testing.T) {
	t.Parallel()

	r := NewResolver(&fakeKMS{}, zap.NewNop())
	_, err := r.Resolve(context.Background(), EncryptedPrefix+"%%%")
	assert.ErrorIs(t, err, ErrDecryptionFailed)

	r = NewResolver(&fakeKMS{err: errors.New("access denied")}, zap.NewNop())
	_, err = r.Resolve(context.Background(), encrypted("blob"))
	assert.ErrorIs(t, err, ErrDecryptionFailed)
	assert.ErrorContains(t, err, "access denied")
}

func TestResolveConfig(t *testing.T) {
	t.Parallel()

	fake := &fakeKMS{plaintext: map[string]string{"prod": "prod-key", "eleven": "xi-key"}}
	cfg := &config.Config{
		Call: config.CallConfig{
			ProductionAPIKey: encrypted("prod"),
			ProviderAPIKey:   encrypted("eleven"),
		},
		Relay: config.RelayConfig{APIKey: "already-plain"},
	}

	require.NoError(t, NewResolver(fake, zap.NewNop()).ResolveConfig(context.Background(), cfg))
	assert.Equal(t, "prod-key", cfg.Call.ProductionAPIKey)
	assert.Equal(t, "xi-key", cfg.Call.ProviderAPIKey)
	assert.Equal(t, "already-plain", cfg.Relay.APIKey)
}

func TestResolveConfigDecryptsStoreCredentials(t *testing.T) {
	t.Parallel()

	fake := &fakeKMS{plaintext: map[string]string{
		"dsn": "postgres://calls:pw@db:5432/calls",
		"es":  "es-password",
	}}
	cfg := &config.Config{
		Postgres:      config.PostgresConfig{DSN: encrypted("dsn")},
		Elasticsearch: config.ElasticsearchConfig{Password: encrypted("es")},
	}

	require.NoError(t, NewResolver(fake, zap.NewNop()).ResolveConfig(context.Background(), cfg))
	assert.Equal(t, "postgres://calls:pw@db:5432/calls", cfg.Postgres.DSN)
	assert.Equal(t, "es-password", cfg.Elasticsearch.Password)
	assert.Equal(t, 2, fake.calls)
}
