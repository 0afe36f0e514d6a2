package aws

import (
	"context"
	"encoding/json"
	"fmt"

	sdkaws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
)

// SecretsAPI is the part of the Secrets Manager client the engine calls.
type SecretsAPI interface {
	GetSecretValue(ctx context.Context, in *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
}

type SecretsClient struct {
	api SecretsAPI
}

func NewSecretsClient(cfg sdkaws.Config) *SecretsClient {
	return &SecretsClient{api: secretsmanager.NewFromConfig(cfg)}
}

func NewSecretsClientWithAPI(api SecretsAPI) *SecretsClient {
	return &SecretsClient{api: api}
}

// SecretBundle is a secret stored as a flat JSON object of strings,
// e.g. {"POSTGRES_USER": "...", "POSTGRES_PASSWORD": "..."}.
type SecretBundle map[string]string

// Apply copies each non-empty entry of b into the field bound to its key.
// Keys absent from b leave their field untouched.
func (b SecretBundle) Apply(fields map[string]*string) {
	for key, dst := range fields {
		if v := b[key]; v != "" {
			*dst = v
		}
	}
}

// Bundle reads the named secret and decodes it as a SecretBundle.
func (s *SecretsClient) Bundle(ctx context.Context, name string) (SecretBundle, error) {
	out, err := s.api.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{SecretId: sdkaws.String(name)})
	if err != nil {
		return nil, fmt.Errorf("read secret %s: %w", name, err)
	}
	raw := sdkaws.ToString(out.SecretString)
	if raw == "" {
		return nil, fmt.Errorf("secret %s has no string value", name)
	}
	var b SecretBundle
	if err := json.Unmarshal([]byte(raw), &b); err != nil {
		return nil, fmt.Errorf("secret %s is not a flat JSON object: %w", name, err)
	}
	return b, nil
}
