package store

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Meta is the single-record file recording the store's format version and
// creation time.
type Meta struct {
	Version   string    `yaml:"version"`
	CreatedAt time.Time `yaml:"created_at"`
}

const currentStoreVersion = "1"

func loadMeta(path string) (Meta, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Meta{}, nil
		}
		return Meta{}, err
	}
	var m Meta
	if err := yaml.Unmarshal(raw, &m); err != nil {
		return Meta{}, err
	}
	return m, nil
}

func saveMeta(path string, m Meta) error {
	raw, err := yaml.Marshal(m)
	if err != nil {
		return err
	}
	return writeAtomic(path, raw)
}
