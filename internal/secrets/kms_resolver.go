// Package secrets resolves configured credentials that are stored encrypted.
package secrets

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	"go.uber.org/zap"

	"demo-call-service/internal/config"
)

// EncryptedPrefix marks a configuration value as a base64 KMS ciphertext blob.
const EncryptedPrefix = "kms:"

var ErrDecryptionFailed = errors.New("decryption failed")

// Decrypter is the subset of the KMS client used here.
type Decrypter interface {
	Decrypt(ctx context.Context, params *kms.DecryptInput, optFns ...func(*kms.Options)) (*kms.DecryptOutput, error)
}

type KMSResolver struct {
	client Decrypter
	cache  sync.Map
	logger *zap.Logger
}

// NewKMSResolver builds a resolver on the default AWS credential chain.
func NewKMSResolver(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*KMSResolver, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if cfg.KMS.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.KMS.Region))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return NewResolver(kms.NewFromConfig(awsCfg), logger), nil
}

func NewResolver(client Decrypter, logger *zap.Logger) *KMSResolver {
	return &KMSResolver{client: client, logger: logger}
}

// Resolve returns value unchanged unless it carries EncryptedPrefix, in which
// case the remainder is decrypted. Plaintexts are cached per ciphertext.
func (r *KMSResolver) Resolve(ctx context.Context, value string) (string, error) {
	encoded, ok := strings.CutPrefix(value, EncryptedPrefix)
	if !ok {
		return value, nil
	}

	if cached, ok := r.cache.Load(encoded); ok {
		return cached.(string), nil
	}

	blob, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("%w: invalid ciphertext format", ErrDecryptionFailed)
	}

	out, err := r.client.Decrypt(ctx, &kms.DecryptInput{CiphertextBlob: blob})
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDecryptionFailed, err)
	}

	plaintext := string(out.Plaintext)
	r.cache.Store(encoded, plaintext)
	if out.KeyId != nil {
		r.logger.Debug("Decrypted configured secret", zap.String("key_id", aws.ToString(out.KeyId)))
	}
	return plaintext, nil
}

// ResolveConfig decrypts every credential field of cfg in place.
func (r *KMSResolver) ResolveConfig(ctx context.Context, cfg *config.Config) error {
	fields := map[string]*string{
		"PRODUCTION_API_KEY":     &cfg.Call.ProductionAPIKey,
		"ELEVENLABS_API_KEY":     &cfg.Call.ProviderAPIKey,
		"RELAY_API_KEY":          &cfg.Relay.APIKey,
		"REDIS_PASSWORD":         &cfg.Redis.Password,
		"SCYLLA_PASSWORD":        &cfg.Scylla.Password,
		"CLICKHOUSE_PASSWORD":    &cfg.Clickhouse.Password,
		"DATABASE_URL":           &cfg.Postgres.DSN,
		"ELASTICSEARCH_PASSWORD": &cfg.Elasticsearch.Password,
		"PII_HASH_KEY":           &cfg.Hashing.PIIKey,
	}

	for name, field := range fields {
		plain, err := r.Resolve(ctx, *field)
		if err != nil {
			return fmt.Errorf("failed to resolve %s: %w", name, err)
		}
		*field = plain
	}
	return nil
}
