package keys

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"slices"
	"strings"
)

const appName = "jewelshoot"

// Services whose credentials can be stored.
const (
	ServiceGemini   = "gemini"
	ServiceSupabase = "supabase"
	ServiceS3       = "s3"
)

// Store handles API key storage and retrieval
type Store struct {
	configDir string
}

// KeyEntry represents a stored API key
type KeyEntry struct {
	Key string `json:"key"`
}

// Keys represents the keys.json structure
type Keys map[string]KeyEntry

// NewStore creates a key store in the default config directory
func NewStore() (*Store, error) {
	configDir, err := ConfigDir()
	if err != nil {
		return nil, err
	}
	return &Store{configDir: configDir}, nil
}

// NewStoreAt creates a key store rooted at dir
func NewStoreAt(dir string) *Store {
	return &Store{configDir: dir}
}

// ConfigDir returns the platform-specific config directory. Other local
// state (usage record, session, history database) lives beside keys.json.
func ConfigDir() (string, error) {
	if dir := os.Getenv("JEWELSHOOT_CONFIG_DIR"); dir != "" {
		return dir, nil
	}

	switch runtime.GOOS {
	case "darwin":
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(home, "Library", "Application Support", appName), nil
	case "windows":
		appData := os.Getenv("APPDATA")
		if appData == "" {
			home, err := os.UserHomeDir()
			if err != nil {
				return "", err
			}
			appData = filepath.Join(home, "AppData", "Roaming")
		}
		return filepath.Join(appData, appName), nil
	default:
		// XDG Base Directory Specification
		configHome := os.Getenv("XDG_CONFIG_HOME")
		if configHome == "" {
			home, err := os.UserHomeDir()
			if err != nil {
				return "", err
			}
			configHome = filepath.Join(home, ".config")
		}
		return filepath.Join(configHome, appName), nil
	}
}

// Path returns the path to the keys.json file
func (s *Store) Path() string {
	return filepath.Join(s.configDir, "keys.json")
}

func (s *Store) load() (Keys, error) {
	data, err := os.ReadFile(s.Path())
	if err != nil {
		if os.IsNotExist(err) {
			return make(Keys), nil
		}
		return nil, err
	}

	var keys Keys
	if err := json.Unmarshal(data, &keys); err != nil {
		return nil, fmt.Errorf("failed to parse keys.json: %w", err)
	}
	return keys, nil
}

func (s *Store) save(keys Keys) error {
	if err := os.MkdirAll(s.configDir, 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(keys, "", "  ")
	if err != nil {
		return err
	}

	// owner read/write only
	if err := os.WriteFile(s.Path(), data, 0600); err != nil {
		return fmt.Errorf("failed to write keys.json: %w", err)
	}
	return nil
}

// Set stores a key for the given service
func (s *Store) Set(service, key string) error {
	keys, err := s.load()
	if err != nil {
		return err
	}

	keys[service] = KeyEntry{Key: key}
	return s.save(keys)
}

// Get retrieves a key for the given service. A missing key is not an error.
func (s *Store) Get(service string) (string, error) {
	keys, err := s.load()
	if err != nil {
		return "", err
	}
	return keys[service].Key, nil
}

// Delete removes a key for the given service
func (s *Store) Delete(service string) error {
	keys, err := s.load()
	if err != nil {
		return err
	}

	if _, ok := keys[service]; !ok {
		return fmt.Errorf("no key found for %s", service)
	}

	delete(keys, service)
	return s.save(keys)
}

// List returns all stored service names, sorted
func (s *Store) List() ([]string, error) {
	keys, err := s.load()
	if err != nil {
		return nil, err
	}

	services := make([]string, 0, len(keys))
	for service := range keys {
		services = append(services, service)
	}
	slices.Sort(services)
	return services, nil
}

// MaskKey returns a masked version of the key for display
func MaskKey(key string) string {
	if len(key) <= 8 {
		return strings.Repeat("*", len(key))
	}
	return key[:4] + strings.Repeat("*", len(key)-8) + key[len(key)-4:]
}

// Resolve picks an API key using the priority order:
//  1. explicit key (command-line flag)
//  2. stored key in keys.json
//  3. configured value (config file or environment)
//
// It returns the key and a description of where it came from.
func (s *Store) Resolve(explicitKey, service, configured string) (string, string, error) {
	if explicitKey != "" {
		return explicitKey, "command-line flag", nil
	}

	if stored, err := s.Get(service); err == nil && stored != "" {
		return stored, fmt.Sprintf("stored key (%s)", s.Path()), nil
	}

	if configured != "" {
		return configured, "configuration", nil
	}

	return "", "", fmt.Errorf("%s API key required: run 'jewelshoot keys set %s' or set it in the environment", service, service)
}
