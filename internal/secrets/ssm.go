// Package secrets resolves "ssm:" references in configuration values from
// AWS Systems Manager Parameter Store.
package secrets

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
)

// ssmAPI is the minimal AWS SSM interface required by Client.
type ssmAPI interface {
	GetParameter(ctx context.Context, in *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
}

// Getter fetches one parameter value by name.
type Getter interface {
	GetParameter(ctx context.Context, name string) (string, error)
}

// Client reads decrypted parameters from SSM.
type Client struct {
	api ssmAPI
}

// New creates a Client with the given SSM API implementation.
func New(api ssmAPI) (*Client, error) {
	if api == nil {
		return nil, errors.New("secrets: ssm api must not be nil")
	}
	return &Client{api: api}, nil
}

// OpenSSM loads the default AWS configuration and returns a Client.
func OpenSSM(ctx context.Context) (*Client, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("secrets: load aws config: %w", err)
	}
	return New(ssm.NewFromConfig(cfg))
}

func (c *Client) GetParameter(ctx context.Context, name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", errors.New("secrets: parameter name is required")
	}
	out, err := c.api.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           aws.String(name),
		WithDecryption: aws.Bool(true),
	})
	if err != nil {
		return "", fmt.Errorf("secrets: get parameter %q: %w", name, err)
	}
	if out == nil || out.Parameter == nil || out.Parameter.Value == nil {
		return "", fmt.Errorf("secrets: parameter %q has no value", name)
	}
	return *out.Parameter.Value, nil
}
