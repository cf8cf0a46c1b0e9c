package datastore

import (
	"bytes"
	"testing"

	"github.com/matryer/is"
)

func TestLoadConfig(t *testing.T) {
	is, config := setupConfigTest(t)

	is.Equal(len(config.Families), 3) // should have three families
	is.Equal(len(config.Subscribers), 1)
}

func TestLoadStorage(t *testing.T) {
	is, config := setupConfigTest(t)

	is.Equal(config.Storage.Driver, "sqlite")
	is.Equal(config.Storage.Path, ":memory:")
}

func TestLoadSubscriber(t *testing.T) {
	is, config := setupConfigTest(t)
	subscriber := config.Subscribers[0]

	is.Equal(subscriber.Endpoint, "http://lolcathost:1234")
	is.Equal(subscriber.Families, []string{"book"})
}

func TestLoadFamilies(t *testing.T) {
	is, config := setupConfigTest(t)

	is.Equal(config.Families[0].Code, "book")
	is.Equal(len(config.Families[0].Attributes), 5)
	is.Equal(config.Families[2].Parent, "")
}

func setupConfigTest(t *testing.T) (*is.I, *Config) {
	is := is.New(t)
	cfgData := bytes.NewBuffer([]byte(configFile))
	config, err := LoadConfiguration(cfgData)
	is.NoErr(err)

	return is, config
}

var configFile string = `
storage:
  driver: sqlite
  path: ":memory:"
subscribers:
  - endpoint: http://lolcathost:1234
    families: [book]
families:
  - code: book
    attributeAsLabel: title
    contextKeys: [locale]
    defaultContext:
      locale: en
    attributes:
      - code: title
        contextMask: [locale]
      - code: tags
        multiple: true
      - code: pages
        type: integer
      - code: author
        type: data
      - code: published
        type: date
  - code: author
    attributeAsLabel: name
    attributes:
      - code: name
  - code: shelf
    attributes:
      - code: name
`
