// internal/config/config.go

package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"

	"devpulse/internal/crypto"
	apperr "devpulse/internal/error"
	"devpulse/internal/models"
)

const (
	DefaultConfigFileName = "hosts.json"
	DefaultConfigDir      = ".config/devpulse"
	DefaultFilePerms      = 0600
	BackupSuffix          = ".old"
)

var ErrHostNotFound = errors.New("host not found")

// Manager is the JSON host store.
type Manager struct {
	mu         sync.RWMutex
	configPath string
	config     *models.Config
	cipher     *crypto.Cipher
}

// NewManager creates a store backed by configPath (default path when empty).
func NewManager(configPath string) *Manager {
	if configPath == "" {
		defaultPath, err := GetDefaultConfigPath()
		if err == nil {
			configPath = defaultPath
		} else {
			configPath = DefaultConfigFileName
		}
	}
	return &Manager{
		configPath: configPath,
		config:     &models.Config{Hosts: make([]models.Host, 0)},
	}
}

func (m *Manager) Path() string {
	return m.configPath
}

// Load reads the store and unlocks it with passphrase. A missing file is
// initialised with a fresh salt and verifier.
func (m *Manager) Load(passphrase string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(m.configPath), 0700); err != nil {
		return apperr.New(apperr.FileError, "failed to create config directory", err)
	}

	data, err := os.ReadFile(m.configPath)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return apperr.New(apperr.FileError, "failed to read config file", err)
		}
		return m.initLocked(passphrase)
	}

	cfg := &models.Config{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return apperr.New(apperr.ConfigError, "failed to parse config file", err)
	}
	if cfg.Salt == "" {
		// hand-written file without secrets yet
		m.config = cfg
		return m.initLocked(passphrase)
	}

	cipher, err := crypto.NewCipher(passphrase, cfg.Salt)
	if err != nil {
		return apperr.New(apperr.CryptoError, "failed to derive key", err)
	}
	if err := cipher.Verify(cfg.Check); err != nil {
		return apperr.New(apperr.CryptoError, "cannot unlock host store", err)
	}
	if cfg.Hosts == nil {
		cfg.Hosts = make([]models.Host, 0)
	}
	m.config = cfg
	m.cipher = cipher
	return nil
}

func (m *Manager) initLocked(passphrase string) error {
	salt, err := crypto.NewSalt()
	if err != nil {
		return apperr.New(apperr.CryptoError, "failed to create salt", err)
	}
	cipher, err := crypto.NewCipher(passphrase, salt)
	if err != nil {
		return apperr.New(apperr.CryptoError, "failed to derive key", err)
	}
	check, err := cipher.Verifier()
	if err != nil {
		return apperr.New(apperr.CryptoError, "failed to create verifier", err)
	}
	m.config.Salt = salt
	m.config.Check = check
	if m.config.Hosts == nil {
		m.config.Hosts = make([]models.Host, 0)
	}
	m.cipher = cipher
	return m.saveLocked()
}

// Save writes the store, keeping the previous file as <path>.old.
func (m *Manager) Save() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saveLocked()
}

func (m *Manager) saveLocked() error {
	if err := os.MkdirAll(filepath.Dir(m.configPath), 0700); err != nil {
		return apperr.New(apperr.FileError, "failed to create config directory", err)
	}
	if err := BackupConfigFile(m.configPath); err != nil {
		return err
	}

	data, err := json.MarshalIndent(m.config, "", "    ")
	if err != nil {
		return apperr.New(apperr.ConfigError, "failed to marshal config", err)
	}
	if err := os.WriteFile(m.configPath, data, DefaultFilePerms); err != nil {
		return apperr.New(apperr.FileError, "failed to write config file", err)
	}
	return nil
}

// Cipher returns the store's cipher; nil until Load succeeds.
func (m *Manager) Cipher() *crypto.Cipher {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cipher
}

// Hosts returns a copy of the host list in insertion order.
func (m *Manager) Hosts() []models.Host {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.Host, len(m.config.Hosts))
	copy(out, m.config.Hosts)
	return out
}

func (m *Manager) Host(id string) (models.Host, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if i := m.indexLocked(id); i >= 0 {
		return m.config.Hosts[i], nil
	}
	return models.Host{}, fmt.Errorf("%w: %s", ErrHostNotFound, id)
}

// FindHostByName looks a host up by name, then by id.
func (m *Manager) FindHostByName(name string) (models.Host, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, host := range m.config.Hosts {
		if strings.EqualFold(host.Name, name) {
			return host, nil
		}
	}
	if i := m.indexLocked(name); i >= 0 {
		return m.config.Hosts[i], nil
	}
	return models.Host{}, fmt.Errorf("%w: %s", ErrHostNotFound, name)
}

// AddHost validates, assigns an id when missing, and appends the host.
func (m *Manager) AddHost(host models.Host) (models.Host, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if host.ID == "" {
		host.ID = uuid.NewString()
	}
	if err := host.Validate(); err != nil {
		return models.Host{}, apperr.New(apperr.ValidationError, "invalid host", err)
	}
	if m.indexLocked(host.ID) >= 0 {
		return models.Host{}, apperr.New(apperr.ValidationError, fmt.Sprintf("host id %s already exists", host.ID), nil)
	}
	for _, h := range m.config.Hosts {
		if strings.EqualFold(h.Name, host.Name) {
			return models.Host{}, apperr.New(apperr.ValidationError, fmt.Sprintf("host '%s' already exists", host.Name), nil)
		}
	}
	m.config.Hosts = append(m.config.Hosts, host)
	return host, nil
}

// UpdateHost replaces the host with the same id.
func (m *Manager) UpdateHost(host models.Host) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	i := m.indexLocked(host.ID)
	if i < 0 {
		return fmt.Errorf("%w: %s", ErrHostNotFound, host.ID)
	}
	if err := host.Validate(); err != nil {
		return apperr.New(apperr.ValidationError, "invalid host", err)
	}
	m.config.Hosts[i] = host
	return nil
}

// DeleteHost removes the host with the given id.
func (m *Manager) DeleteHost(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	i := m.indexLocked(id)
	if i < 0 {
		return fmt.Errorf("%w: %s", ErrHostNotFound, id)
	}
	m.config.Hosts = append(m.config.Hosts[:i], m.config.Hosts[i+1:]...)
	return nil
}

func (m *Manager) indexLocked(id string) int {
	for i, host := range m.config.Hosts {
		if host.ID == id {
			return i
		}
	}
	return -1
}

// Export writes the host list with plaintext passwords to path.
func (m *Manager) Export(path string) error {
	m.mu.RLock()
	hosts := make([]models.Host, len(m.config.Hosts))
	copy(hosts, m.config.Hosts)
	cipher := m.cipher
	m.mu.RUnlock()

	if cipher == nil {
		return apperr.New(apperr.CryptoError, "host store is locked", nil)
	}
	for i := range hosts {
		plain, err := hosts[i].GetPassword(cipher)
		if err != nil {
			return apperr.New(apperr.CryptoError, fmt.Sprintf("failed to decrypt password of '%s'", hosts[i].Name), err)
		}
		hosts[i].Password = plain
	}
	data, err := json.MarshalIndent(hosts, "", "    ")
	if err != nil {
		return apperr.New(apperr.ConfigError, "failed to marshal hosts", err)
	}
	if err := os.WriteFile(path, data, DefaultFilePerms); err != nil {
		return apperr.New(apperr.FileError, "failed to write export file", err)
	}
	return nil
}

// Import reads a file produced by Export and adds every host whose name is
// not present yet. It returns the number of hosts added.
func (m *Manager) Import(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, apperr.New(apperr.FileError, "failed to read import file", err)
	}
	var hosts []models.Host
	if err := json.Unmarshal(data, &hosts); err != nil {
		return 0, apperr.New(apperr.ConfigError, "failed to parse import file", err)
	}
	cipher := m.Cipher()
	if cipher == nil {
		return 0, apperr.New(apperr.CryptoError, "host store is locked", nil)
	}

	added := 0
	for _, h := range hosts {
		if _, err := m.FindHostByName(h.Name); err == nil {
			continue
		}
		if err := h.SetPassword(h.Password, cipher); err != nil {
			return added, apperr.New(apperr.CryptoError, "failed to encrypt password", err)
		}
		h.ID = ""
		if _, err := m.AddHost(h); err != nil {
			return added, err
		}
		added++
	}
	return added, nil
}

// DefaultDataDir returns ~/.config/devpulse.
func DefaultDataDir() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not get home directory: %v", err)
	}
	return filepath.Join(homeDir, DefaultConfigDir), nil
}

func GetDefaultConfigPath() (string, error) {
	dir, err := DefaultDataDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, DefaultConfigFileName), nil
}

// BackupConfigFile copies configPath to configPath.old. A missing source is
// not an error.
func BackupConfigFile(configPath string) error {
	content, err := os.ReadFile(configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return apperr.New(apperr.FileError, "error reading config file", err)
	}
	if err := os.WriteFile(configPath+BackupSuffix, content, DefaultFilePerms); err != nil {
		return apperr.New(apperr.FileError, "error creating backup file", err)
	}
	return nil
}

// RestoreFromBackup puts configPath.old back in place.
func RestoreFromBackup(configPath string) error {
	content, err := os.ReadFile(configPath + BackupSuffix)
	if err != nil {
		return apperr.New(apperr.FileError, "error reading backup file", err)
	}
	if err := os.WriteFile(configPath, content, DefaultFilePerms); err != nil {
		return apperr.New(apperr.FileError, "error restoring config file", err)
	}
	return nil
}
