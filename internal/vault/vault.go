// Package vault stores remote-shell credentials encrypted at rest.
// Secrets are AES-256-GCM sealed with a key derived from the master
// password via scrypt; plaintext exists only between decrypt and use.
package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/gluk-w/termhub/internal/ids"
	"golang.org/x/crypto/scrypt"
)

var (
	ErrNotInitialized = errors.New("vault not initialized")
	ErrNotFound       = errors.New("credential not found")
	ErrBadRecord      = errors.New("malformed encrypted record")
)

// scrypt parameters for master key derivation.
const (
	scryptN      = 32768
	scryptR      = 8
	scryptP      = 1
	scryptKeyLen = 32
)

// Record is a stored credential. Encrypted fields hold
// "iv:authTag:ciphertext" triples, all hex.
type Record struct {
	ID                  string    `json:"id"`
	Name                string    `json:"name"`
	Host                string    `json:"host"`
	Port                int       `json:"port"`
	Username            string    `json:"username"`
	AuthMethod          string    `json:"auth_method"`
	EncryptedPassword   string    `json:"encrypted_password,omitempty"`
	EncryptedPrivateKey string    `json:"encrypted_private_key,omitempty"`
	CreatedAt           time.Time `json:"created_at"`
}

// Vault is a file-backed credential store. The key is held in memory
// only after Init.
type Vault struct {
	mu      sync.Mutex
	path    string
	key     []byte
	records map[string]*Record
}

// New creates a vault rooted at path. Init must be called with the
// master password before any other operation.
func New(path string) *Vault {
	return &Vault{path: path, records: make(map[string]*Record)}
}

// Init derives the master key and loads existing records from disk.
// The salt is fixed per deployment so the same master password always
// derives the same key.
func (v *Vault) Init(masterPassword, salt string) error {
	key, err := scrypt.Key([]byte(masterPassword), []byte(salt), scryptN, scryptR, scryptP, scryptKeyLen)
	if err != nil {
		return fmt.Errorf("derive key: %w", err)
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	v.key = key

	data, err := os.ReadFile(v.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read vault file: %w", err)
	}
	var recs []*Record
	if err := json.Unmarshal(data, &recs); err != nil {
		return fmt.Errorf("parse vault file: %w", err)
	}
	for _, r := range recs {
		v.records[r.ID] = r
	}
	return nil
}

// Initialized reports whether Init has succeeded.
func (v *Vault) Initialized() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.key != nil
}

// seal encrypts a plaintext into the iv:authTag:ciphertext hex form.
func (v *Vault) seal(plaintext string) (string, error) {
	block, err := aes.NewCipher(v.key)
	if err != nil {
		return "", err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", err
	}
	iv := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(iv); err != nil {
		return "", err
	}
	sealed := gcm.Seal(nil, iv, []byte(plaintext), nil)
	// gcm.Seal appends the 16-byte auth tag to the ciphertext; the
	// stored record keeps them as separate fields.
	tagStart := len(sealed) - 16
	ct, tag := sealed[:tagStart], sealed[tagStart:]
	return hex.EncodeToString(iv) + ":" + hex.EncodeToString(tag) + ":" + hex.EncodeToString(ct), nil
}

// open decrypts an iv:authTag:ciphertext record.
func (v *Vault) open(sealed string) (string, error) {
	parts := strings.Split(sealed, ":")
	if len(parts) != 3 {
		return "", ErrBadRecord
	}
	iv, err1 := hex.DecodeString(parts[0])
	tag, err2 := hex.DecodeString(parts[1])
	ct, err3 := hex.DecodeString(parts[2])
	if err1 != nil || err2 != nil || err3 != nil {
		return "", ErrBadRecord
	}

	block, err := aes.NewCipher(v.key)
	if err != nil {
		return "", err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", err
	}
	plain, err := gcm.Open(nil, iv, append(ct, tag...), nil)
	if err != nil {
		return "", fmt.Errorf("decrypt: %w", err)
	}
	return string(plain), nil
}

// AddInput is the plaintext form of a credential being stored.
type AddInput struct {
	Name       string
	Host       string
	Port       int
	Username   string
	AuthMethod string
	Password   string
	PrivateKey string
}

// Add encrypts and stores a credential, returning the record.
func (v *Vault) Add(in AddInput) (*Record, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.key == nil {
		return nil, ErrNotInitialized
	}

	rec := &Record{
		ID:         ids.New(ids.SSH),
		Name:       in.Name,
		Host:       in.Host,
		Port:       in.Port,
		Username:   in.Username,
		AuthMethod: in.AuthMethod,
		CreatedAt:  time.Now(),
	}
	var err error
	if in.Password != "" {
		if rec.EncryptedPassword, err = v.seal(in.Password); err != nil {
			return nil, fmt.Errorf("seal password: %w", err)
		}
	}
	if in.PrivateKey != "" {
		if rec.EncryptedPrivateKey, err = v.seal(in.PrivateKey); err != nil {
			return nil, fmt.Errorf("seal private key: %w", err)
		}
	}

	v.records[rec.ID] = rec
	if err := v.saveLocked(); err != nil {
		delete(v.records, rec.ID)
		return nil, err
	}
	return rec, nil
}

// Secrets returns the decrypted password and private key for a record.
func (v *Vault) Secrets(id string) (password, privateKey string, err error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.key == nil {
		return "", "", ErrNotInitialized
	}
	rec, ok := v.records[id]
	if !ok {
		return "", "", ErrNotFound
	}
	if rec.EncryptedPassword != "" {
		if password, err = v.open(rec.EncryptedPassword); err != nil {
			return "", "", fmt.Errorf("open password: %w", err)
		}
	}
	if rec.EncryptedPrivateKey != "" {
		if privateKey, err = v.open(rec.EncryptedPrivateKey); err != nil {
			return "", "", fmt.Errorf("open private key: %w", err)
		}
	}
	return password, privateKey, nil
}

// Get returns a record without decrypting anything.
func (v *Vault) Get(id string) (*Record, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	rec, ok := v.records[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *rec
	return &cp, nil
}

// List returns all records, secrets still sealed.
func (v *Vault) List() []*Record {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := make([]*Record, 0, len(v.records))
	for _, r := range v.records {
		cp := *r
		out = append(out, &cp)
	}
	return out
}

// Delete removes a credential and persists the change.
func (v *Vault) Delete(id string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if _, ok := v.records[id]; !ok {
		return ErrNotFound
	}
	delete(v.records, id)
	return v.saveLocked()
}

func (v *Vault) saveLocked() error {
	recs := make([]*Record, 0, len(v.records))
	for _, r := range v.records {
		recs = append(recs, r)
	}
	data, err := json.MarshalIndent(recs, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal vault: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(v.path), 0700); err != nil {
		return fmt.Errorf("create vault directory: %w", err)
	}
	tmp := v.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("write vault file: %w", err)
	}
	return os.Rename(tmp, v.path)
}

// Mask returns a redacted rendering of a secret for display.
func Mask(value string) string {
	if value == "" {
		return ""
	}
	if len(value) > 4 {
		return "****" + value[len(value)-4:]
	}
	return "****"
}
