package schema

import (
	"io"

	yaml "gopkg.in/yaml.v2"
)

type TypeConfig struct {
	Code         string `yaml:"code"`
	DatabaseType string `yaml:"databaseType"`
}

type AttributeConfig struct {
	Code        string   `yaml:"code"`
	Type        string   `yaml:"type"`
	Multiple    bool     `yaml:"multiple"`
	ContextMask []string `yaml:"contextMask"`
}

type FamilyConfig struct {
	Code             string            `yaml:"code"`
	Parent           string            `yaml:"parent"`
	Instantiable     *bool             `yaml:"instantiable"`
	AttributeAsLabel string            `yaml:"attributeAsLabel"`
	ContextKeys      []string          `yaml:"contextKeys"`
	DefaultContext   map[string]string `yaml:"defaultContext"`
	Attributes       []AttributeConfig `yaml:"attributes"`
}

// IsInstantiable defaults to true when the flag is left out
func (fc FamilyConfig) IsInstantiable() bool {
	if fc.Instantiable == nil {
		return true
	}
	return *fc.Instantiable
}

type Config struct {
	Types    []TypeConfig   `yaml:"types"`
	Families []FamilyConfig `yaml:"families"`
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
