package usecase

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"

	"github.com/fairyhunter13/pagebroker/internal/domain"
)

// KeyService manages credentials. Plaintext keys are returned exactly once at
// creation or rotation; only the HMAC digest is stored.
type KeyService struct {
	Keys   domain.KeyStore
	Secret []byte
	Prefix string
}

// NewKeyService constructs a KeyService with the HMAC secret and issued-key
// prefix.
func NewKeyService(keys domain.KeyStore, secret, prefix string) *KeyService {
	return &KeyService{Keys: keys, Secret: []byte(secret), Prefix: prefix}
}

// Digest computes the hex HMAC-SHA-256 digest of a plaintext key.
func (s *KeyService) Digest(plaintext string) string {
	mac := hmac.New(sha256.New, s.Secret)
	mac.Write([]byte(plaintext))
	return hex.EncodeToString(mac.Sum(nil))
}

func (s *KeyService) newPlaintext() (string, error) {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("op=key.generate: %w", err)
	}
	return s.Prefix + hex.EncodeToString(buf), nil
}

// Authenticate resolves a plaintext key to its credential. Unknown and
// deactivated keys both come back unauthorized so callers cannot probe which
// keys exist.
func (s *KeyService) Authenticate(ctx domain.Context, plaintext string) (domain.Key, error) {
	if plaintext == "" {
		return domain.Key{}, fmt.Errorf("op=key.auth: missing credential: %w", domain.ErrUnauthorized)
	}
	k, err := s.Keys.GetByDigest(ctx, s.Digest(plaintext))
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.Key{}, fmt.Errorf("op=key.auth: %w", domain.ErrUnauthorized)
		}
		return domain.Key{}, err
	}
	if !k.Active {
		return domain.Key{}, fmt.Errorf("op=key.auth key=%s: deactivated: %w", k.ID, domain.ErrUnauthorized)
	}
	if err := s.Keys.TouchLastUsed(ctx, k.ID); err != nil {
		slog.Warn("key last_used update failed", slog.String("key_id", k.ID), slog.Any("error", err))
	}
	return k, nil
}

// CreateKeyInput is the admin request to issue a credential.
type CreateKeyInput struct {
	Label string `json:"label" validate:"required,max=128"`
	Role  string `json:"role" validate:"required,oneof=readonly user worker admin"`
}

// Create issues a new credential and returns it together with the plaintext
// key, which is never recoverable afterwards.
func (s *KeyService) Create(ctx domain.Context, caller domain.Key, in CreateKeyInput) (domain.Key, string, error) {
	if err := requireAdmin("key.create", caller); err != nil {
		return domain.Key{}, "", err
	}
	if err := validate.Struct(in); err != nil {
		return domain.Key{}, "", fmt.Errorf("op=key.create: %v: %w", err, domain.ErrValidation)
	}
	plaintext, err := s.newPlaintext()
	if err != nil {
		return domain.Key{}, "", err
	}
	k, err := s.Keys.Create(ctx, domain.Key{
		Digest: s.Digest(plaintext),
		Label:  in.Label,
		Role:   domain.Role(in.Role),
		Active: true,
	})
	if err != nil {
		return domain.Key{}, "", err
	}
	slog.Info("credential issued", slog.String("key_id", k.ID), slog.String("label", k.Label), slog.String("role", string(k.Role)))
	return k, plaintext, nil
}

// List returns all credentials; admin only.
func (s *KeyService) List(ctx domain.Context, caller domain.Key) ([]domain.Key, error) {
	if err := requireAdmin("key.list", caller); err != nil {
		return nil, err
	}
	return s.Keys.List(ctx)
}

// Get returns one credential. Admins may inspect any key; every caller may
// inspect its own.
func (s *KeyService) Get(ctx domain.Context, caller domain.Key, id string) (domain.Key, error) {
	if caller.Role != domain.RoleAdmin && caller.ID != id {
		return domain.Key{}, fmt.Errorf("op=key.get key=%s: %w", caller.ID, domain.ErrForbidden)
	}
	return s.Keys.Get(ctx, id)
}

// Update changes the label and/or active flag of a credential; admin only.
// Deactivation takes effect on the next request made with the key.
func (s *KeyService) Update(ctx domain.Context, caller domain.Key, id string, label *string, active *bool) (domain.Key, error) {
	if err := requireAdmin("key.update", caller); err != nil {
		return domain.Key{}, err
	}
	if label == nil && active == nil {
		return domain.Key{}, fmt.Errorf("op=key.update: no fields in update: %w", domain.ErrValidation)
	}
	return s.Keys.Update(ctx, id, label, active)
}

// Rotate replaces the plaintext of an existing credential and returns the new
// plaintext. The old key stops working immediately.
func (s *KeyService) Rotate(ctx domain.Context, caller domain.Key, id string) (domain.Key, string, error) {
	if err := requireAdmin("key.rotate", caller); err != nil {
		return domain.Key{}, "", err
	}
	plaintext, err := s.newPlaintext()
	if err != nil {
		return domain.Key{}, "", err
	}
	if err := s.Keys.UpdateDigest(ctx, id, s.Digest(plaintext)); err != nil {
		return domain.Key{}, "", err
	}
	k, err := s.Keys.Get(ctx, id)
	if err != nil {
		return domain.Key{}, "", err
	}
	slog.Info("credential rotated", slog.String("key_id", id))
	return k, plaintext, nil
}

// Bootstrap issues an initial admin credential when the keys table is empty,
// returning its plaintext so the operator can capture it from the startup
// log. Subsequent startups are no-ops.
func (s *KeyService) Bootstrap(ctx domain.Context) (string, bool, error) {
	n, err := s.Keys.Count(ctx)
	if err != nil {
		return "", false, err
	}
	if n > 0 {
		return "", false, nil
	}
	plaintext, err := s.newPlaintext()
	if err != nil {
		return "", false, err
	}
	k, err := s.Keys.Create(ctx, domain.Key{
		Digest: s.Digest(plaintext),
		Label:  "bootstrap-admin",
		Role:   domain.RoleAdmin,
		Active: true,
	})
	if err != nil {
		return "", false, err
	}
	slog.Info("bootstrap admin credential issued", slog.String("key_id", k.ID))
	return plaintext, true, nil
}
