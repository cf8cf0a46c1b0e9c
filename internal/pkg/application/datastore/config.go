package datastore

import (
	"io"

	"github.com/diwise/eav-store/pkg/eav/schema"
	yaml "gopkg.in/yaml.v2"
)

type SubscriberConfig struct {
	Endpoint string   `yaml:"endpoint"`
	Families []string `yaml:"families"`
}

type StorageConfig struct {
	Driver string `yaml:"driver"`
	Path   string `yaml:"path"`
}

type Config struct {
	Storage       StorageConfig      `yaml:"storage"`
	Subscribers   []SubscriberConfig `yaml:"subscribers"`
	schema.Config `yaml:",inline"`
}

func LoadConfiguration(data io.Reader) (*Config, error) {

	buf, err := io.ReadAll(data)
	if err != nil {
		return nil, err
	}

	cfg := &Config{}
	err = yaml.Unmarshal(buf, &cfg)

	return cfg, err
}
