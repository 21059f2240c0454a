package shopify

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/sirupsen/logrus"
)

var ErrNoCredential = errors.New("no access token available for shop")

const (
	SourceSession     = "session"
	SourceIntegration = "integration"
	SourceEnv         = "env"
	SourceSSM         = "ssm"
)

type TokenLoader interface {
	Token(ctx context.Context, shop string) (string, error)
}

type ParameterGetter interface {
	GetParameter(ctx context.Context, params *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
}

// Credentials resolves the access token used to sync a shop. The env and SSM
// fallbacks are a single admin token shared by every shop; they exist for
// operations and are logged as such.
type Credentials struct {
	Integrations TokenLoader
	EnvToken     string
	SSM          ParameterGetter
	ParamName    string
	Log          *logrus.Logger

	mu       sync.Mutex
	ssmToken string
}

// Resolve picks the first available token: the session token, the stored
// integration token, the environment fallback, then the SSM parameter.
func (c *Credentials) Resolve(ctx context.Context, shop, sessionToken string) (string, string, error) {
	if t := strings.TrimSpace(sessionToken); t != "" {
		return t, SourceSession, nil
	}

	if c.Integrations != nil && shop != "" {
		token, err := c.Integrations.Token(ctx, shop)
		if err == nil && token != "" {
			return token, SourceIntegration, nil
		}
		if err != nil && !errors.Is(err, ErrIntegrationNotFound) {
			c.logger().WithField("shop", shop).WithError(err).Warn("integration token unavailable")
		}
	}

	if t := strings.TrimSpace(c.EnvToken); t != "" {
		c.warnFallback(shop, SourceEnv)
		return t, SourceEnv, nil
	}

	if c.SSM != nil && c.ParamName != "" {
		token, err := c.fromSSM(ctx)
		if err != nil {
			return "", "", fmt.Errorf("ssm fallback token: %w", err)
		}
		if token != "" {
			c.warnFallback(shop, SourceSSM)
			return token, SourceSSM, nil
		}
	}
	return "", "", ErrNoCredential
}

func (c *Credentials) fromSSM(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ssmToken != "" {
		return c.ssmToken, nil
	}
	out, err := c.SSM.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           aws.String(c.ParamName),
		WithDecryption: aws.Bool(true),
	})
	if err != nil {
		return "", err
	}
	if out.Parameter != nil {
		c.ssmToken = strings.TrimSpace(aws.ToString(out.Parameter.Value))
	}
	return c.ssmToken, nil
}

func (c *Credentials) warnFallback(shop, source string) {
	c.logger().WithFields(logrus.Fields{
		"shop":   shop,
		"source": source,
	}).Warn("using shared admin token; not for production tenants")
}

func (c *Credentials) logger() *logrus.Logger {
	if c.Log != nil {
		return c.Log
	}
	return logrus.StandardLogger()
}
