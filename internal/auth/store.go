package auth

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"gocloud.dev/blob"
	"gocloud.dev/gcerrors"
	"gopkg.in/yaml.v3"
)

var (
	// ErrNoToken is returned by Store.Load when nothing is stored.
	ErrNoToken = errors.New("auth: no stored token")

	// ErrCorruptToken is returned by Store.Load when the stored record
	// cannot be decoded.
	ErrCorruptToken = errors.New("auth: corrupt token record")
)

// Store persists a single token record.
type Store interface {
	Load(ctx context.Context) (Token, error)
	Save(ctx context.Context, tok Token) error
	Clear(ctx context.Context) error
}

func decodeRecord(data []byte) (Token, error) {
	var tok Token
	if err := yaml.Unmarshal(data, &tok); err != nil {
		return Token{}, fmt.Errorf("%w: %v", ErrCorruptToken, err)
	}
	if tok.Value == "" || tok.IssuedAt.IsZero() {
		return Token{}, fmt.Errorf("%w: missing token or issued_at", ErrCorruptToken)
	}
	return tok, nil
}

// FileStore keeps the token record as YAML in a local file.
type FileStore struct {
	Path string
}

// Load reads the record from disk.
func (s *FileStore) Load(_ context.Context) (Token, error) {
	data, err := os.ReadFile(s.Path)
	if errors.Is(err, os.ErrNotExist) {
		return Token{}, ErrNoToken
	}
	if err != nil {
		return Token{}, fmt.Errorf("read token file: %w", err)
	}
	return decodeRecord(data)
}

// Save writes the record through a temporary file and a rename, so a
// reader never sees a half-written record.
func (s *FileStore) Save(_ context.Context, tok Token) error {
	data, err := yaml.Marshal(tok)
	if err != nil {
		return fmt.Errorf("encode token: %w", err)
	}

	dir := filepath.Dir(s.Path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create token dir: %w", err)
	}

	f, err := os.CreateTemp(dir, filepath.Base(s.Path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmp := f.Name()

	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("write token: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("close token file: %w", err)
	}
	if err := os.Chmod(tmp, 0o600); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("chmod token file: %w", err)
	}
	if err := os.Rename(tmp, s.Path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename token file: %w", err)
	}
	return nil
}

// Clear removes the file. A missing file is not an error.
func (s *FileStore) Clear(_ context.Context) error {
	if err := os.Remove(s.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove token file: %w", err)
	}
	return nil
}

// BucketStore keeps the token record as an object in a blob bucket, which
// lets several hosts share one session.
type BucketStore struct {
	Bucket *blob.Bucket
	Key    string
}

// Load reads the object.
func (s *BucketStore) Load(ctx context.Context) (Token, error) {
	r, err := s.Bucket.NewReader(ctx, s.Key, nil)
	if err != nil {
		if gcerrors.Code(err) == gcerrors.NotFound {
			return Token{}, ErrNoToken
		}
		return Token{}, fmt.Errorf("open token object: %w", err)
	}
	defer r.Close()

	data, err := io.ReadAll(r)
	if err != nil {
		return Token{}, fmt.Errorf("read token object: %w", err)
	}
	return decodeRecord(data)
}

// Save overwrites the object. Bucket writes become visible on Close only.
func (s *BucketStore) Save(ctx context.Context, tok Token) error {
	data, err := yaml.Marshal(tok)
	if err != nil {
		return fmt.Errorf("encode token: %w", err)
	}
	if err := s.Bucket.WriteAll(ctx, s.Key, data, &blob.WriterOptions{ContentType: "application/yaml"}); err != nil {
		return fmt.Errorf("write token object: %w", err)
	}
	return nil
}

// Clear deletes the object. A missing object is not an error.
func (s *BucketStore) Clear(ctx context.Context) error {
	err := s.Bucket.Delete(ctx, s.Key)
	if err != nil && gcerrors.Code(err) != gcerrors.NotFound {
		return fmt.Errorf("delete token object: %w", err)
	}
	return nil
}

// MemoryStore keeps the record in process memory.
type MemoryStore struct {
	mu  sync.Mutex
	tok *Token
}

func (s *MemoryStore) Load(_ context.Context) (Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tok == nil {
		return Token{}, ErrNoToken
	}
	return *s.tok, nil
}

func (s *MemoryStore) Save(_ context.Context, tok Token) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tok = &tok
	return nil
}

func (s *MemoryStore) Clear(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tok = nil
	return nil
}
