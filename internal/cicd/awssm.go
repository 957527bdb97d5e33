package cicd

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	smtypes "github.com/aws/aws-sdk-go-v2/service/secretsmanager/types"

	"github.com/gameforge/gfops/internal/secure"
)

// SecretsManagerAPI is the slice of the Secrets Manager client the
// target needs; tests substitute a fake.
type SecretsManagerAPI interface {
	CreateSecret(ctx context.Context, params *secretsmanager.CreateSecretInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.CreateSecretOutput, error)
	UpdateSecret(ctx context.Context, params *secretsmanager.UpdateSecretInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.UpdateSecretOutput, error)
}

// AWSTarget mirrors secrets into AWS Secrets Manager under a name
// prefix.
type AWSTarget struct {
	api    SecretsManagerAPI
	prefix string
}

// NewAWSTarget creates the production target using the default AWS
// credential chain.
func NewAWSTarget(ctx context.Context, region, prefix string) (*AWSTarget, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load AWS configuration: %w", err)
	}
	return &AWSTarget{api: secretsmanager.NewFromConfig(awsCfg), prefix: prefix}, nil
}

// NewAWSTargetWithAPI wires a caller-supplied client, used by tests.
func NewAWSTargetWithAPI(api SecretsManagerAPI, prefix string) *AWSTarget {
	return &AWSTarget{api: api, prefix: prefix}
}

// Name implements Target.
func (t *AWSTarget) Name() string { return "aws" }

// Push implements Target. Create first; when the secret already exists,
// update it in place.
func (t *AWSTarget) Push(ctx context.Context, name string, value *secure.Buffer) error {
	fullName := t.prefix + name

	return value.WithBytes(func(plaintext []byte) error {
		secretString := string(plaintext)
		_, err := t.api.CreateSecret(ctx, &secretsmanager.CreateSecretInput{
			Name:         aws.String(fullName),
			SecretString: aws.String(secretString),
		})
		if err == nil {
			return nil
		}

		var exists *smtypes.ResourceExistsException
		if !errors.As(err, &exists) {
			return fmt.Errorf("create secret %s: %w", fullName, err)
		}

		_, err = t.api.UpdateSecret(ctx, &secretsmanager.UpdateSecretInput{
			SecretId:     aws.String(fullName),
			SecretString: aws.String(secretString),
		})
		if err != nil {
			return fmt.Errorf("update secret %s: %w", fullName, err)
		}
		return nil
	})
}
