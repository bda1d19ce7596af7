package sqlite

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"database/sql"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/asialea/promptwatch/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.StateStore = (*StateRepo)(nil)

// subscriberBuffer bounds each subscription channel. Notifications to a
// full channel are dropped: the store is an eventually-consistent cache
// with last-write-wins semantics, not a durable event log.
const subscriberBuffer = 16

// StateRepo is the SQLite implementation of the StateStore port. Values
// are encrypted with AES-256-GCM before write when a key is configured;
// with a nil key they are stored in plaintext. Change notifications fan
// out in-process to subscribers after each write lands.
type StateRepo struct {
	db  *DB
	key []byte // 32-byte AES-256 key; nil disables encryption.

	mu      sync.Mutex
	subs    map[int]chan driven.StateChange
	nextSub int
}

// NewStateRepo creates a StateRepo. key must be 32 bytes for AES-256-GCM,
// or nil to store values unencrypted.
func NewStateRepo(db *DB, key []byte) *StateRepo {
	return &StateRepo{
		db:   db,
		key:  key,
		subs: make(map[int]chan driven.StateChange),
	}
}

// Get returns the value for key, or ("", nil) when the key is absent.
func (r *StateRepo) Get(ctx context.Context, key string) (string, error) {
	const query = `SELECT value FROM agent_state WHERE key = ?`
	var stored string
	err := r.db.Reader.QueryRowContext(ctx, query, key).Scan(&stored)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get state %q: %w", key, err)
	}

	plaintext, err := r.decrypt(stored)
	if err != nil {
		return "", fmt.Errorf("decrypt state %q: %w", key, err)
	}
	return plaintext, nil
}

// Set stores or replaces the value for key and notifies subscribers.
func (r *StateRepo) Set(ctx context.Context, key, value string) error {
	encoded, err := r.encrypt(value)
	if err != nil {
		return fmt.Errorf("encrypt state %q: %w", key, err)
	}

	const query = `INSERT OR REPLACE INTO agent_state (key, value, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP)`
	if _, err := r.db.Writer.ExecContext(ctx, query, key, encoded); err != nil {
		return fmt.Errorf("set state %q: %w", key, err)
	}

	r.notify(driven.StateChange{Key: key, Value: value})
	return nil
}

// Delete removes the given keys. Missing keys are not an error.
func (r *StateRepo) Delete(ctx context.Context, keys ...string) error {
	const query = `DELETE FROM agent_state WHERE key = ?`
	for _, key := range keys {
		if _, err := r.db.Writer.ExecContext(ctx, query, key); err != nil {
			return fmt.Errorf("delete state %q: %w", key, err)
		}
		r.notify(driven.StateChange{Key: key, Deleted: true})
	}
	return nil
}

// Subscribe registers for change notifications. The returned cancel
// function releases the subscription; it is safe to call more than once.
func (r *StateRepo) Subscribe() (<-chan driven.StateChange, func()) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := r.nextSub
	r.nextSub++
	ch := make(chan driven.StateChange, subscriberBuffer)
	r.subs[id] = ch

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			r.mu.Lock()
			defer r.mu.Unlock()
			delete(r.subs, id)
			close(ch)
		})
	}
	return ch, cancel
}

func (r *StateRepo) notify(change driven.StateChange) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ch := range r.subs {
		select {
		case ch <- change:
		default:
		}
	}
}

// encrypt encrypts plaintext using AES-256-GCM and returns a base64-encoded
// string containing the nonce (12 bytes) prepended to the ciphertext. With
// a nil key the plaintext is returned unchanged.
func (r *StateRepo) encrypt(plaintext string) (string, error) {
	if r.key == nil {
		return plaintext, nil
	}

	block, err := aes.NewCipher(r.key)
	if err != nil {
		return "", fmt.Errorf("aes.NewCipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("cipher.NewGCM: %w", err)
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("rand nonce: %w", err)
	}

	// Seal appends the ciphertext to nonce, producing: nonce || ciphertext || tag.
	ciphertext := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(ciphertext), nil
}

// decrypt decrypts a base64-encoded AES-256-GCM ciphertext. With a nil key
// the stored value is returned unchanged.
func (r *StateRepo) decrypt(stored string) (string, error) {
	if r.key == nil {
		return stored, nil
	}

	data, err := base64.StdEncoding.DecodeString(stored)
	if err != nil {
		return "", fmt.Errorf("base64 decode: %w", err)
	}

	block, err := aes.NewCipher(r.key)
	if err != nil {
		return "", fmt.Errorf("aes.NewCipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("cipher.NewGCM: %w", err)
	}

	nonceSize := gcm.NonceSize()
	if len(data) < nonceSize {
		return "", errors.New("ciphertext too short")
	}

	nonce, ciphertext := data[:nonceSize], data[nonceSize:]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("gcm.Open: %w", err)
	}

	return string(plaintext), nil
}
