package crypto

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/trailguard/trailguard/internal/domain/errors"
)

// KMSConfig configures the remote key management service client.
type KMSConfig struct {
	BaseURL          string        `koanf:"base_url"`
	AccessToken      string        `koanf:"access_token"`
	SigningAlgorithm string        `koanf:"signing_algorithm"`
	Timeout          time.Duration `koanf:"timeout"`
	MaxRetries       int           `koanf:"max_retries"`
	InitialBackoff   time.Duration `koanf:"initial_backoff"`
	MaxBackoff       time.Duration `koanf:"max_backoff"`
}

// KMSClient talks to the external KMS over HTTP. Transient failures (5xx,
// transport errors) are retried with exponential backoff and guarded by a
// circuit breaker; definitive rejections surface as CRYPTO_ERROR.
type KMSClient struct {
	cfg     KMSConfig
	http    *http.Client
	breaker *gobreaker.CircuitBreaker
	logger  *zap.Logger
}

// NewKMSClient validates config and builds the client.
func NewKMSClient(cfg KMSConfig, logger *zap.Logger) (*KMSClient, error) {
	if cfg.BaseURL == "" {
		return nil, errors.NewConfigError("kms base URL is required when KMS is enabled")
	}
	if cfg.AccessToken == "" {
		return nil, errors.NewConfigError("kms access token is required when KMS is enabled")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = 500 * time.Millisecond
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = 10 * time.Second
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "kms",
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("kms circuit breaker state change",
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	})

	return &KMSClient{
		cfg:     cfg,
		http:    &http.Client{Timeout: cfg.Timeout},
		breaker: breaker,
		logger:  logger,
	}, nil
}

type kmsSignRequest struct {
	Data      string `json:"data"`
	Algorithm string `json:"algorithm"`
}

type kmsSignResponse struct {
	Signature string `json:"signature"`
	Algorithm string `json:"algorithm"`
}

type kmsVerifyRequest struct {
	Data      string `json:"data"`
	Signature string `json:"signature"`
	Algorithm string `json:"algorithm"`
}

type kmsVerifyResponse struct {
	Valid bool `json:"valid"`
}

type kmsCipherRequest struct {
	Plaintext  string `json:"plaintext,omitempty"`
	Ciphertext string `json:"ciphertext,omitempty"`
}

type kmsCipherResponse struct {
	Plaintext  string `json:"plaintext,omitempty"`
	Ciphertext string `json:"ciphertext,omitempty"`
}

// Sign asks the KMS to sign the hash bytes; returns (signature, algorithm).
func (c *KMSClient) Sign(ctx context.Context, hashBytes []byte, algorithm string) (string, string, error) {
	if algorithm == "" {
		algorithm = c.cfg.SigningAlgorithm
	}
	req := kmsSignRequest{
		Data:      base64.StdEncoding.EncodeToString(hashBytes),
		Algorithm: algorithm,
	}
	var resp kmsSignResponse
	if err := c.call(ctx, "/sign", req, &resp); err != nil {
		return "", "", err
	}
	if resp.Signature == "" {
		return "", "", errors.NewCryptoError("kms returned empty signature")
	}
	return resp.Signature, resp.Algorithm, nil
}

// Verify asks the KMS to verify a signature under the stored algorithm.
func (c *KMSClient) Verify(ctx context.Context, hashBytes []byte, signature, algorithm string) (bool, error) {
	req := kmsVerifyRequest{
		Data:      base64.StdEncoding.EncodeToString(hashBytes),
		Signature: signature,
		Algorithm: algorithm,
	}
	var resp kmsVerifyResponse
	if err := c.call(ctx, "/verify", req, &resp); err != nil {
		return false, err
	}
	return resp.Valid, nil
}

// Encrypt protects plaintext under the KMS key; returns ciphertext.
// Used by the pseudonym mapping, which never stores plaintext ids.
func (c *KMSClient) Encrypt(ctx context.Context, plaintext []byte) (string, error) {
	req := kmsCipherRequest{Plaintext: base64.StdEncoding.EncodeToString(plaintext)}
	var resp kmsCipherResponse
	if err := c.call(ctx, "/encrypt", req, &resp); err != nil {
		return "", err
	}
	if resp.Ciphertext == "" {
		return "", errors.NewCryptoError("kms returned empty ciphertext")
	}
	return resp.Ciphertext, nil
}

// Decrypt reverses Encrypt.
func (c *KMSClient) Decrypt(ctx context.Context, ciphertext string) ([]byte, error) {
	req := kmsCipherRequest{Ciphertext: ciphertext}
	var resp kmsCipherResponse
	if err := c.call(ctx, "/decrypt", req, &resp); err != nil {
		return nil, err
	}
	plain, err := base64.StdEncoding.DecodeString(resp.Plaintext)
	if err != nil {
		return nil, errors.NewCryptoError("kms returned malformed plaintext").WithCause(err)
	}
	return plain, nil
}

// call performs one JSON POST with retry on transient failures.
func (c *KMSClient) call(ctx context.Context, path string, reqBody, respBody interface{}) error {
	payload, err := json.Marshal(reqBody)
	if err != nil {
		return errors.NewInternalError("failed to marshal kms request").WithCause(err)
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.cfg.InitialBackoff
	bo.MaxInterval = c.cfg.MaxBackoff
	policy := backoff.WithContext(
		backoff.WithMaxRetries(bo, uint64(c.cfg.MaxRetries)), ctx)

	operation := func() error {
		_, err := c.breaker.Execute(func() (interface{}, error) {
			return nil, c.doOnce(ctx, path, payload, respBody)
		})
		if err != nil && !errors.IsRetryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	if err := backoff.Retry(operation, policy); err != nil {
		var permanent *backoff.PermanentError
		if stderrors.As(err, &permanent) {
			return permanent.Err
		}
		return err
	}
	return nil
}

func (c *KMSClient) doOnce(ctx context.Context, path string, payload []byte, respBody interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.cfg.BaseURL+path, bytes.NewReader(payload))
	if err != nil {
		return errors.NewInternalError("failed to build kms request").WithCause(err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.AccessToken)

	resp, err := c.http.Do(req)
	if err != nil {
		return errors.NewNetworkError("kms request failed").WithCause(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return errors.NewNetworkError("failed to read kms response").WithCause(err)
	}

	switch {
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		return errors.NewNetworkError(
			fmt.Sprintf("kms returned status %d", resp.StatusCode))
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return errors.NewAuthenticationError("kms rejected credentials")
	case resp.StatusCode != http.StatusOK:
		return errors.NewCryptoError(
			fmt.Sprintf("kms rejected request with status %d", resp.StatusCode))
	}

	if err := json.Unmarshal(body, respBody); err != nil {
		return errors.NewCryptoError("kms returned malformed response").WithCause(err)
	}
	return nil
}

// RemoteKMS is the Signer variant backed by the external KMS.
type RemoteKMS struct {
	client           *KMSClient
	defaultAlgorithm string
}

// NewRemoteKMS wraps a KMS client as a Signer.
func NewRemoteKMS(client *KMSClient, defaultAlgorithm string) *RemoteKMS {
	if defaultAlgorithm == "" {
		defaultAlgorithm = "RSASSA_PSS_SHA_256"
	}
	return &RemoteKMS{client: client, defaultAlgorithm: defaultAlgorithm}
}

func (s *RemoteKMS) Sign(ctx context.Context, hashBytes []byte) (string, string, error) {
	return s.client.Sign(ctx, hashBytes, s.defaultAlgorithm)
}

func (s *RemoteKMS) Verify(ctx context.Context, hashBytes []byte, signature, algorithm string) (bool, error) {
	return s.client.Verify(ctx, hashBytes, signature, algorithm)
}
