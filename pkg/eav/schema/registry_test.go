package schema

import (
	"bytes"
	"errors"
	"testing"

	"github.com/diwise/eav-store/pkg/eav"
	eaverrors "github.com/diwise/eav-store/pkg/eav/errors"
	"github.com/matryer/is"
)

func TestLoadConfig(t *testing.T) {
	is, config := setupConfigTest(t, configFile)

	is.Equal(len(config.Types), 1)    // should have a single custom type
	is.Equal(len(config.Families), 3) // should have three families
}

func TestLoadFamilyConfig(t *testing.T) {
	is, config := setupConfigTest(t, configFile)
	fc := config.Families[0]

	is.Equal(fc.Code, "product")
	is.True(!fc.IsInstantiable()) // product should be abstract
	is.Equal(fc.AttributeAsLabel, "title")
	is.Equal(fc.ContextKeys, []string{"locale", "channel"})
	is.Equal(fc.DefaultContext["locale"], "sv_SE")
	is.Equal(len(fc.Attributes), 4)
}

func TestRegistryInheritsParentAttributes(t *testing.T) {
	is, registry := setupRegistryTest(t)

	family, err := registry.Family("book")
	is.NoErr(err)

	is.True(family.IsInstantiable())
	is.True(family.HasAttribute("title"))  // inherited from product
	is.True(family.HasAttribute("author")) // declared on book
	is.Equal(family.AttributeAsLabel().Code(), "title")
	is.Equal(family.DefaultContext(), eav.Context{"locale": "sv_SE", "channel": "web"})

	f := family.(*Family)
	is.Equal(f.Parent(), "product")
	is.Equal(f.Attributes()[0].Code(), "title") // inherited attributes come first
}

func TestRegistryResolvesTypes(t *testing.T) {
	is, registry := setupRegistryTest(t)

	family, _ := registry.Family("book")

	is.Equal(family.Attribute("title").Type().DatabaseType(), eav.StringValue)
	is.Equal(family.Attribute("summary").Type().DatabaseType(), eav.TextValue)
	is.Equal(family.Attribute("isbn").Type().Code(), "isbn")
	is.Equal(family.Attribute("isbn").Type().DatabaseType(), eav.StringValue)
	is.Equal(family.Attribute("author").Type().DatabaseType(), eav.DataValue)
	is.True(family.Attribute("tags").Multiple())
}

func TestRegistryReturnsNilForMissingAttribute(t *testing.T) {
	is, registry := setupRegistryTest(t)

	family, _ := registry.Family("author")

	is.True(family.Attribute("isbn") == nil) // should be a nil interface
	is.True(!family.HasAttribute("isbn"))
}

func TestRegistryFamilies(t *testing.T) {
	is, registry := setupRegistryTest(t)

	families := registry.Families()

	is.Equal(len(families), 3)
	is.Equal(families[0].Code(), "author")
	is.Equal(families[1].Code(), "book")
	is.Equal(families[2].Code(), "product")
}

func TestUnknownFamily(t *testing.T) {
	is, registry := setupRegistryTest(t)

	_, err := registry.Family("movie")
	is.True(errors.Is(err, eaverrors.ErrUnknownFamily))
}

func TestRegistryDetectsInheritanceCycles(t *testing.T) {
	is, config := setupConfigTest(t, cyclicConfigFile)

	_, err := NewRegistry(config)
	is.True(errors.Is(err, eaverrors.ErrInvalidConfiguration))
}

func TestRegistryRejectsUnknownTypes(t *testing.T) {
	is, config := setupConfigTest(t, `
families:
  - code: thing
    attributes:
      - code: weight
        type: kilograms
`)

	_, err := NewRegistry(config)
	is.True(errors.Is(err, eaverrors.ErrInvalidConfiguration))
}

func TestRegistryRejectsUndeclaredContextMask(t *testing.T) {
	is, config := setupConfigTest(t, `
families:
  - code: thing
    contextKeys: [locale]
    attributes:
      - code: name
        contextMask: [channel]
`)

	_, err := NewRegistry(config)
	is.True(errors.Is(err, eaverrors.ErrInvalidConfiguration))
}

func TestContextMatching(t *testing.T) {
	is, registry := setupRegistryTest(t)

	family, _ := registry.Family("book")
	title := family.Attribute("title")

	v, err := family.CreateValue(nil, title, eav.Context{"locale": "en_GB", "channel": "web", "unknown": 1})
	is.NoErr(err)

	is.True(title.IsContextMatching(v, eav.Context{"locale": "en_GB"}))
	is.True(title.IsContextMatching(v, eav.Context{"channel": "print"})) // channel is not masked for title
	is.True(title.IsContextMatching(v, eav.Context{}))
	is.True(!title.IsContextMatching(v, eav.Context{"locale": "sv_SE"}))

	isbn := family.Attribute("isbn")
	is.True(!isbn.IsContextMatching(v, eav.Context{})) // value belongs to another attribute
}

func TestCreateValueDeclaresFamilyContextKeys(t *testing.T) {
	is, registry := setupRegistryTest(t)

	family, _ := registry.Family("book")

	v, err := family.CreateValue(nil, family.Attribute("title"), eav.Context{"locale": "en_GB"})
	is.NoErr(err)

	is.Equal(v.ContextKeys(), []string{"locale", "channel"})
	is.Equal(v.Context(), eav.Context{"locale": "en_GB", "channel": nil})
}

func setupConfigTest(t *testing.T, yaml string) (*is.I, *Config) {
	is := is.New(t)
	cfgData := bytes.NewBuffer([]byte(yaml))
	config, err := LoadConfiguration(cfgData)
	is.NoErr(err)

	return is, config
}

func setupRegistryTest(t *testing.T) (*is.I, *Registry) {
	is, config := setupConfigTest(t, configFile)

	registry, err := NewRegistry(config)
	is.NoErr(err)

	return is, registry
}

var configFile string = `
types:
  - code: isbn
    databaseType: stringValue
families:
  - code: product
    instantiable: false
    attributeAsLabel: title
    contextKeys: [locale, channel]
    defaultContext:
      locale: sv_SE
    attributes:
      - code: title
        type: string
        contextMask: [locale]
      - code: summary
        type: text
        contextMask: [locale, channel]
      - code: price
        type: decimal
      - code: tags
        type: string
        multiple: true
  - code: book
    parent: product
    defaultContext:
      channel: web
    attributes:
      - code: isbn
        type: isbn
      - code: author
        type: data
  - code: author
    attributeAsLabel: name
    attributes:
      - code: name
`

var cyclicConfigFile string = `
families:
  - code: a
    parent: c
  - code: b
    parent: a
  - code: c
    parent: b
`
