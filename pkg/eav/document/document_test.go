package document

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"

	"github.com/diwise/eav-store/pkg/eav"
	eaverrors "github.com/diwise/eav-store/pkg/eav/errors"
	"github.com/diwise/eav-store/pkg/eav/schema"
	"github.com/matryer/is"
)

func TestSanitizeEmptyString(t *testing.T) {
	is := is.New(t)
	is.Equal(sanitizeString(""), "")
}

func TestSanitizeInvalidEscapeString(t *testing.T) {
	is := is.New(t)
	is.Equal(sanitizeString("\\uqwab"), "\\uqwab")
}

func TestSanitizeAmpersandString(t *testing.T) {
	is := is.New(t)
	is.Equal(sanitizeString("\\u0026"), "&")
}

func TestSanitizeEmbeddedAmpersandString(t *testing.T) {
	is := is.New(t)
	is.Equal(sanitizeString("A \\u0026 B \\u0026 C"), "A & B & C")
}

func TestSanitizeCroppedString(t *testing.T) {
	is := is.New(t)
	is.Equal(sanitizeString("A \\u0026 \\u00"), "A & \\u00")
}

func TestApplyDecodedJSON(t *testing.T) {
	is, registry := testSetup(t)

	author := newData(t, registry, "author")
	author.SetID(12)
	is.NoErr(author.Set("name", "Ursula", nil))

	book := newData(t, registry, "book")

	attributes := map[string]any{}
	is.NoErr(json.Unmarshal([]byte(bookJSON), &attributes))

	refs := func(id eav.ID) (*eav.Data, error) {
		if id == author.ID() {
			return author, nil
		}
		return nil, eaverrors.NewNotFoundError("no such data")
	}

	is.NoErr(Apply(book, attributes, eav.Context{"locale": "en"}, refs))

	title, _ := book.Get("title", eav.Context{"locale": "en"})
	is.Equal(title, "Earthsea & Beyond") // escaped ampersand should be sanitized

	pages, _ := book.Get("pages", nil)
	is.Equal(pages, int64(183))

	tags, _ := book.Get("tags", nil)
	is.Equal(tags, []any{"fantasy", "magic"})

	ref, _ := book.Get("author", nil)
	is.Equal(ref, author)
}

func TestApplyUnknownAttribute(t *testing.T) {
	is, registry := testSetup(t)
	book := newData(t, registry, "book")

	err := Apply(book, map[string]any{"colour": "red"}, nil, nil)
	is.True(errors.Is(err, eaverrors.ErrUnknownAttribute))
}

func TestApplyNonListToMultiValued(t *testing.T) {
	is, registry := testSetup(t)
	book := newData(t, registry, "book")

	err := Apply(book, map[string]any{"tags": "fantasy"}, nil, nil)
	is.True(errors.Is(err, eaverrors.ErrInvalidValueCollection))
}

func TestApplyNullEmptiesAttribute(t *testing.T) {
	is, registry := testSetup(t)
	book := newData(t, registry, "book")

	is.NoErr(book.Set("tags", []string{"a", "b"}, nil))
	is.NoErr(Apply(book, map[string]any{"tags": nil}, nil, nil))

	tags, _ := book.Get("tags", nil)
	is.Equal(tags, []any{})
}

func TestAppend(t *testing.T) {
	is, registry := testSetup(t)
	book := newData(t, registry, "book")

	is.NoErr(book.Set("tags", []string{"a"}, nil))
	is.NoErr(Append(book, "tags", "b", nil, nil))

	tags, _ := book.Get("tags", nil)
	is.Equal(tags, []any{"a", "b"})
}

func TestFromData(t *testing.T) {
	is, registry := testSetup(t)

	author := newData(t, registry, "author")
	author.SetID(12)
	is.NoErr(author.Set("name", "Ursula", nil))

	book := newData(t, registry, "book")
	book.SetID(3)
	is.NoErr(book.Set("title", "Earthsea", eav.Context{"locale": "en"}))
	is.NoErr(book.Set("title", "Övärlden", eav.Context{"locale": "sv"}))
	is.NoErr(book.Set("tags", []string{"fantasy", "magic"}, nil))
	is.NoErr(book.Set("published", "1968-01-01", nil))
	is.NoErr(book.Set("author", author, nil))

	book.SetCurrentContext(eav.Context{"locale": "sv"})

	doc, err := FromData(book, nil)
	is.NoErr(err)

	is.Equal(doc.ID, int64(3))
	is.Equal(doc.Family, "book")
	is.Equal(doc.Label, "Övärlden")
	is.Equal(doc.Context, map[string]any{"locale": "sv"})
	is.Equal(doc.Attributes["title"], "Övärlden")
	is.Equal(doc.Attributes["tags"], []any{"fantasy", "magic"})
	is.Equal(doc.Attributes["published"], "1968-01-01")
	is.Equal(doc.Attributes["author"], Reference{ID: 12, Family: "author", Label: "Ursula"})

	b, err := json.Marshal(doc)
	is.NoErr(err)
	is.True(bytes.Contains(b, []byte(`"label":"Ursula"`)))
}

func testSetup(t *testing.T) (*is.I, *schema.Registry) {
	is := is.New(t)

	cfg, err := schema.LoadConfiguration(bytes.NewBufferString(familiesYaml))
	is.NoErr(err)

	registry, err := schema.NewRegistry(cfg)
	is.NoErr(err)

	return is, registry
}

func newData(t *testing.T, registry *schema.Registry, code string) *eav.Data {
	is := is.New(t)

	family, err := registry.Family(code)
	is.NoErr(err)

	d, err := eav.New(family)
	is.NoErr(err)

	return d
}

const bookJSON string = `{
	"title": "Earthsea \\u0026 Beyond",
	"pages": 183,
	"tags": ["fantasy", "magic"],
	"author": {"id": 12}
}`

const familiesYaml string = `
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
      - code: published
        type: date
      - code: author
        type: data
  - code: author
    attributeAsLabel: name
    attributes:
      - code: name
`
