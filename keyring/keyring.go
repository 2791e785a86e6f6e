// Package keyring provides secure credential storage.
// It uses the system keyring when available, falling back to
// encrypted local file storage when not.
package keyring

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/zalando/go-keyring"
	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"

	"github.com/yllada/ovpn-manager/common"
)

const (
	// DefaultService is the identifier used in the system keyring.
	DefaultService = "ovpn-manager"

	saltSize = 16
)

// Options configures a Store.
type Options struct {
	// Service names the keyring collection. Defaults to DefaultService.
	Service string
	// FilePath is the encrypted fallback file. Defaults to
	// ~/.config/ovpn-manager/.credentials.
	FilePath string
	// ForceFile skips the system keyring.
	ForceFile bool
	// Secret is mixed into the file key. Defaults to machine specific data.
	Secret string
}

// Store saves VPN passwords keyed by profile ID. It implements
// common.CredentialStore and is safe for concurrent use.
type Store struct {
	mu       sync.RWMutex
	service  string
	system   bool
	filePath string
	secret   string
	salt     []byte
	local    map[string]string
}

var _ common.CredentialStore = (*Store)(nil)

// fileFormat is the on-disk layout of the fallback store.
type fileFormat struct {
	Salt string `json:"salt"`
	Data string `json:"data"`
}

// New opens a credential store, probing the system keyring first.
func New(opts Options) (*Store, error) {
	s := &Store{
		service: opts.Service,
		secret:  opts.Secret,
		local:   make(map[string]string),
	}
	if s.service == "" {
		s.service = DefaultService
	}

	if !opts.ForceFile && systemKeyringAvailable(s.service) {
		s.system = true
		return s, nil
	}

	s.filePath = opts.FilePath
	if s.filePath == "" {
		dir, err := common.GetConfigDir()
		if err != nil {
			return nil, err
		}
		s.filePath = filepath.Join(dir, common.CredentialsFileName)
	}
	if s.secret == "" {
		s.secret = machineSecret()
	}

	if err := s.loadLocal(); err != nil {
		return nil, err
	}
	common.LogDebug("Using encrypted file credential storage at %s", s.filePath)
	return s, nil
}

// systemKeyringAvailable checks that the Secret Service answers.
func systemKeyringAvailable(service string) bool {
	testKey := service + "-test-init"
	if err := keyring.Set(service, testKey, "test"); err != nil {
		common.LogDebug("System keyring unavailable: %v", err)
		return false
	}
	_ = keyring.Delete(service, testKey)
	return true
}

// UsesSystemKeyring reports which backend is active.
func (s *Store) UsesSystemKeyring() bool {
	return s.system
}

func machineSecret() string {
	hostname, _ := os.Hostname()
	machineID := "default-machine-id"
	if data, err := os.ReadFile("/etc/machine-id"); err == nil {
		machineID = strings.TrimSpace(string(data))
	}
	return fmt.Sprintf("%s-%s-%s-%d", DefaultService, hostname, machineID, os.Getuid())
}

func (s *Store) deriveKey() []byte {
	return argon2.IDKey([]byte(s.secret), s.salt, 1, 64*1024, 4, chacha20poly1305.KeySize)
}

// loadLocal reads the fallback file. A missing file is an empty store.
func (s *Store) loadLocal() error {
	data, err := os.ReadFile(s.filePath)
	if err != nil {
		if os.IsNotExist(err) {
			s.salt = make([]byte, saltSize)
			if _, err := io.ReadFull(rand.Reader, s.salt); err != nil {
				return err
			}
			return nil
		}
		return fmt.Errorf("%w: %v", common.ErrCredentialStorage, err)
	}

	var f fileFormat
	if err := json.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("%w: %v", common.ErrDecryption, err)
	}
	salt, err := base64.StdEncoding.DecodeString(f.Salt)
	if err != nil || len(salt) != saltSize {
		return fmt.Errorf("%w: bad salt", common.ErrDecryption)
	}
	s.salt = salt

	sealed, err := base64.StdEncoding.DecodeString(f.Data)
	if err != nil {
		return fmt.Errorf("%w: %v", common.ErrDecryption, err)
	}
	plain, err := s.decrypt(sealed)
	if err != nil {
		return err
	}
	return json.Unmarshal(plain, &s.local)
}

// saveLocal writes the fallback file. Callers hold s.mu.
func (s *Store) saveLocal() error {
	plain, err := json.Marshal(s.local)
	if err != nil {
		return err
	}
	sealed, err := s.encrypt(plain)
	if err != nil {
		return err
	}

	data, err := json.Marshal(fileFormat{
		Salt: base64.StdEncoding.EncodeToString(s.salt),
		Data: base64.StdEncoding.EncodeToString(sealed),
	})
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(s.filePath), 0700); err != nil {
		return fmt.Errorf("%w: %v", common.ErrCredentialStorage, err)
	}
	if err := os.WriteFile(s.filePath, data, 0600); err != nil {
		return fmt.Errorf("%w: %v", common.ErrCredentialStorage, err)
	}
	return nil
}

func (s *Store) encrypt(plaintext []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(s.deriveKey())
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, aead.NonceSize(), aead.NonceSize()+len(plaintext)+aead.Overhead())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}
	return aead.Seal(nonce, nonce, plaintext, nil), nil
}

func (s *Store) decrypt(sealed []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(s.deriveKey())
	if err != nil {
		return nil, err
	}

	if len(sealed) < aead.NonceSize() {
		return nil, fmt.Errorf("%w: ciphertext too short", common.ErrDecryption)
	}

	nonce, ciphertext := sealed[:aead.NonceSize()], sealed[aead.NonceSize():]
	plain, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrDecryption, err)
	}
	return plain, nil
}

// Store saves a password for a VPN profile.
func (s *Store) Store(profileID, password string) error {
	if profileID == "" {
		return errors.New("profile ID cannot be empty")
	}
	if password == "" {
		return errors.New("password cannot be empty")
	}

	if s.system {
		if err := keyring.Set(s.service, profileID, password); err != nil {
			return fmt.Errorf("%w: %v", common.ErrCredentialStorage, err)
		}
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.local[profileID] = password
	return s.saveLocal()
}

// Get retrieves a password for a VPN profile.
func (s *Store) Get(profileID string) (string, error) {
	if profileID == "" {
		return "", errors.New("profile ID cannot be empty")
	}

	if s.system {
		password, err := keyring.Get(s.service, profileID)
		if err != nil {
			if errors.Is(err, keyring.ErrNotFound) {
				return "", common.ErrCredentialsNotFound
			}
			return "", fmt.Errorf("%w: %v", common.ErrCredentialStorage, err)
		}
		return password, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	password, exists := s.local[profileID]
	if !exists {
		return "", common.ErrCredentialsNotFound
	}
	return password, nil
}

// Delete removes a password for a VPN profile. Deleting a missing
// password is not an error.
func (s *Store) Delete(profileID string) error {
	if profileID == "" {
		return errors.New("profile ID cannot be empty")
	}

	if s.system {
		if err := keyring.Delete(s.service, profileID); err != nil && !errors.Is(err, keyring.ErrNotFound) {
			return fmt.Errorf("%w: %v", common.ErrCredentialStorage, err)
		}
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.local[profileID]; !ok {
		return nil
	}
	delete(s.local, profileID)
	return s.saveLocal()
}

// Clear removes every stored password.
func (s *Store) Clear() error {
	if s.system {
		if err := keyring.DeleteAll(s.service); err != nil {
			return fmt.Errorf("%w: %v", common.ErrCredentialStorage, err)
		}
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.local = make(map[string]string)
	return s.saveLocal()
}

// Exists checks if a credential exists for a VPN profile.
func (s *Store) Exists(profileID string) bool {
	_, err := s.Get(profileID)
	return err == nil
}
