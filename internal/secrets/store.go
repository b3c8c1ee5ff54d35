package secrets

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// lightweight per-user secret store (file, 0600) with AES-GCM obfuscation.
// Not a replacement for OS keychains but avoids plain-text config.

const fileName = "keys.json"

// ErrNotFound is returned when no key is stored under a name.
var ErrNotFound = errors.New("secret not found")

type secretFile struct {
	Keys map[string]string `json:"keys"` // name -> sealed value
}

// FileStore keeps named secrets in a single file.
type FileStore struct {
	path   string
	sealer *Sealer
}

// NewFileStore stores secrets in dir. An empty dir means the user config dir.
func NewFileStore(dir string, sealer *Sealer) (*FileStore, error) {
	if dir == "" {
		base, err := os.UserConfigDir()
		if err != nil {
			return nil, err
		}
		dir = filepath.Join(base, "moneysync")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil { // restrict directory
		return nil, err
	}
	if sealer == nil {
		var err error
		if sealer, err = NewSealer(""); err != nil {
			return nil, err
		}
	}
	return &FileStore{path: filepath.Join(dir, fileName), sealer: sealer}, nil
}

func (s *FileStore) Store(name, value string) error {
	if name = norm(name); name == "" {
		return fmt.Errorf("secret name required")
	}
	sf, err := load(s.path)
	if err != nil {
		return err
	}
	if sf.Keys == nil {
		sf.Keys = map[string]string{}
	}
	sealed, err := s.sealer.Seal(value)
	if err != nil {
		return err
	}
	sf.Keys[name] = sealed
	return save(s.path, sf)
}

func (s *FileStore) Fetch(name string) (string, error) {
	if name = norm(name); name == "" {
		return "", fmt.Errorf("secret name required")
	}
	sf, err := load(s.path)
	if err != nil {
		return "", err
	}
	enc, ok := sf.Keys[name]
	if !ok {
		return "", ErrNotFound
	}
	return s.sealer.Open(enc)
}

func (s *FileStore) Delete(name string) error {
	if name = norm(name); name == "" {
		return fmt.Errorf("secret name required")
	}
	sf, err := load(s.path)
	if err != nil {
		return err
	}
	delete(sf.Keys, name)
	return save(s.path, sf)
}

func load(path string) (secretFile, error) {
	var sf secretFile
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return secretFile{}, nil
		}
		return sf, err
	}
	if err := json.Unmarshal(data, &sf); err != nil {
		return sf, err
	}
	return sf, nil
}

func save(path string, sf secretFile) error {
	data, err := json.MarshalIndent(sf, "", "  ")
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func norm(s string) string {
	return strings.TrimSpace(strings.ToLower(s))
}
