package verifier

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/learnhub-io/identity/internal/config"
	"github.com/learnhub-io/identity/internal/metrics"
	"github.com/learnhub-io/identity/internal/provider"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

// DelegatedVerifier validates a token against the delegated identity
// provider and returns its raw claims. Implemented by *provider.Client.
type DelegatedVerifier interface {
	ValidateToken(ctx context.Context, token string) (map[string]any, error)
	Name() string
}

// Verifier validates presented credentials, local or delegated, and
// normalizes their claims into one canonical shape.
type Verifier struct {
	config    *config.Config
	delegated DelegatedVerifier // nil when no provider is configured
	metrics   metrics.Recorder
}

func New(cfg *config.Config, delegated DelegatedVerifier, m metrics.Recorder) *Verifier {
	return &Verifier{config: cfg, delegated: delegated, metrics: m}
}

// DelegatedConfigured reports whether a delegated provider is wired in.
func (v *Verifier) DelegatedConfigured() bool {
	return v.delegated != nil
}

// VerifyLocal compares a password against its bcrypt hash.
func (v *Verifier) VerifyLocal(password, hash string) bool {
	if hash == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// VerifyLocalToken validates a locally-issued HS256 JWT.
func (v *Verifier) VerifyLocalToken(ctx context.Context, tokenString string) (*Claims, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(v.config.JWTSecret), nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredCredential
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidCredential, err)
	}
	if !token.Valid {
		return nil, ErrInvalidCredential
	}

	mapClaims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, ErrInvalidCredential
	}

	claims := NormalizeClaims(mapClaims)
	if claims.Subject == "" {
		return nil, ErrUnresolvableIdentity
	}
	claims.Source = "local"
	return claims, nil
}

// VerifyDelegated validates a token against the delegated provider.
func (v *Verifier) VerifyDelegated(ctx context.Context, tokenString string) (*Claims, error) {
	if v.delegated == nil {
		return nil, ErrProviderUnavailable
	}
	raw, err := v.delegated.ValidateToken(ctx, tokenString)
	if err != nil {
		return nil, mapDelegatedError(err)
	}
	claims := NormalizeClaims(raw)
	if claims.Subject == "" {
		return nil, ErrUnresolvableIdentity
	}
	claims.Source = v.delegated.Name()
	return claims, nil
}

// mapDelegatedError folds provider errors into the verifier taxonomy.
func mapDelegatedError(err error) error {
	switch {
	case errors.Is(err, provider.ErrTokenExpired):
		return fmt.Errorf("%w: %v", ErrExpiredCredential, err)
	case errors.Is(err, provider.ErrTokenInvalid):
		return fmt.Errorf("%w: %v", ErrInvalidCredential, err)
	case errors.Is(err, provider.ErrUnavailable):
		return fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}
	return err
}

// outcome classifies a strategy result: Retry moves on to the next
// strategy, Fatal short-circuits with the error.
type outcome int

const (
	outcomeOK outcome = iota
	outcomeRetry
	outcomeFatal
)

type strategy struct {
	name   string
	verify func(ctx context.Context, credential string) (*Claims, outcome, error)
}

// Authenticate validates a bearer credential through an ordered list of
// verifier strategies: the delegated path first when a provider is
// configured, the local path as fallback. The first OK wins; a Fatal
// outcome (expiry, unresolvable subject) short-circuits; when every
// path fails one consolidated error is returned.
func (v *Verifier) Authenticate(ctx context.Context, credential string) (*Claims, error) {
	if credential == "" {
		return nil, ErrAuthenticationRequired
	}

	var strategies []strategy
	if v.delegated != nil {
		strategies = append(strategies, strategy{
			name: v.delegated.Name(),
			verify: func(ctx context.Context, cred string) (*Claims, outcome, error) {
				claims, err := v.VerifyDelegated(ctx, cred)
				switch {
				case err == nil:
					return claims, outcomeOK, nil
				case errors.Is(err, ErrExpiredCredential),
					errors.Is(err, ErrUnresolvableIdentity):
					return nil, outcomeFatal, err
				default:
					// Signature mismatch or provider failure: the
					// credential may still be a locally-issued token.
					return nil, outcomeRetry, err
				}
			},
		})
	}
	strategies = append(strategies, strategy{
		name: "local",
		verify: func(ctx context.Context, cred string) (*Claims, outcome, error) {
			claims, err := v.VerifyLocalToken(ctx, cred)
			switch {
			case err == nil:
				return claims, outcomeOK, nil
			case errors.Is(err, ErrExpiredCredential),
				errors.Is(err, ErrUnresolvableIdentity):
				return nil, outcomeFatal, err
			default:
				return nil, outcomeRetry, err
			}
		},
	})

	var lastErr error
	for _, strat := range strategies {
		claims, result, err := strat.verify(ctx, credential)
		switch result {
		case outcomeOK:
			v.metrics.RecordAuthAttempt(strat.name, "success")
			return claims, nil
		case outcomeFatal:
			v.metrics.RecordAuthAttempt(strat.name, "failure")
			return nil, err
		case outcomeRetry:
			log.Printf("[Verifier] %s verification failed, trying next path: %v", strat.name, err)
			v.metrics.RecordAuthAttempt(strat.name, "retry")
			lastErr = err
		}
	}

	if lastErr != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCredential, lastErr)
	}
	return nil, ErrInvalidCredential
}

// DecodeUnverified extracts claims without validating the signature.
// Strictly for diagnostics and expiry bookkeeping of tokens whose
// authenticity was established elsewhere; never a trust decision.
func DecodeUnverified(tokenString string) (*Claims, error) {
	parser := jwt.NewParser()
	token, _, err := parser.ParseUnverified(tokenString, jwt.MapClaims{})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCredential, err)
	}
	mapClaims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, ErrInvalidCredential
	}
	return NormalizeClaims(mapClaims), nil
}
