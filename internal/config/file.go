package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/wagiedev/mcphub/internal/errors"
)

// File is the on-disk layout of a server configuration file.
type File struct {
	Servers []ServerConfig `yaml:"servers"`
}

// UnmarshalYAML decodes a server entry. Servers are enabled unless the
// entry says otherwise.
func (c *ServerConfig) UnmarshalYAML(node *yaml.Node) error {
	type plain ServerConfig

	p := plain{Enabled: true}
	if err := node.Decode(&p); err != nil {
		return err
	}

	*c = ServerConfig(p)

	return nil
}

// Parse decodes and validates a YAML configuration document.
func Parse(data []byte) ([]ServerConfig, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse server config: %w", err)
	}

	seen := make(map[string]bool, len(f.Servers))

	for _, srv := range f.Servers {
		if err := srv.Validate(); err != nil {
			return nil, err
		}

		if seen[srv.ID] {
			return nil, &errors.ConfigurationError{ServerID: srv.ID, Field: "id", Reason: "is duplicated"}
		}

		seen[srv.ID] = true
	}

	return f.Servers, nil
}

// LoadFile reads and parses the configuration file at path.
func LoadFile(path string) ([]ServerConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read server config: %w", err)
	}

	return Parse(data)
}

// FileStore is a Store backed by a YAML file. The file is read on creation
// and again on Reload.
type FileStore struct {
	*MemoryStore

	path string
}

// NewFileStore loads path into a new store.
func NewFileStore(path string) (*FileStore, error) {
	servers, err := LoadFile(path)
	if err != nil {
		return nil, err
	}

	return &FileStore{MemoryStore: NewMemoryStore(servers...), path: path}, nil
}

// Path returns the file the store reads.
func (s *FileStore) Path() string {
	return s.path
}

// Reload re-reads the file and returns the ids of servers that changed or
// were removed. On a read or parse failure the previous snapshot is kept.
func (s *FileStore) Reload() ([]string, error) {
	servers, err := LoadFile(s.path)
	if err != nil {
		return nil, err
	}

	return s.Replace(servers), nil
}
