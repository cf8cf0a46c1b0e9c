package eav_test

import (
	"bytes"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/diwise/eav-store/pkg/eav"
	eaverrors "github.com/diwise/eav-store/pkg/eav/errors"
	"github.com/diwise/eav-store/pkg/eav/schema"
	"github.com/matryer/is"
)

func TestNewRefusesAbstractFamily(t *testing.T) {
	is, registry := testSetup(t)

	family, _ := registry.Family("content")

	_, err := eav.New(family)
	is.True(errors.Is(err, eaverrors.ErrFamilyNotInstantiable))
}

func TestSetValueDataRoundTrip(t *testing.T) {
	is, registry := testSetup(t)
	d, family := newArticle(t, registry)

	err := d.SetValueData(family.Attribute("title"), "Hello", nil)
	is.NoErr(err)
	err = d.SetValueData(family.Attribute("views"), 42, nil)
	is.NoErr(err)
	err = d.SetValueData(family.Attribute("rating"), 4, nil)
	is.NoErr(err)
	err = d.SetValueData(family.Attribute("published"), true, nil)
	is.NoErr(err)

	title, _ := d.ValueData(family.Attribute("title"), nil)
	is.Equal(title, "Hello")

	views, _ := d.ValueData(family.Attribute("views"), nil)
	is.Equal(views, int64(42))

	rating, _ := d.ValueData(family.Attribute("rating"), nil)
	is.Equal(rating, float64(4))

	published, _ := d.ValueData(family.Attribute("published"), nil)
	is.Equal(published, true)
}

func TestSetValueDataReplacesPreviousValue(t *testing.T) {
	is, registry := testSetup(t)
	d, family := newArticle(t, registry)
	title := family.Attribute("title")

	is.NoErr(d.SetValueData(title, "first", nil))
	is.NoErr(d.SetValueData(title, "second", nil))

	values, err := d.Values(title, nil)
	is.NoErr(err)
	is.Equal(len(values), 1) // should hold a single value
	is.Equal(values[0].Data(), d)

	data, _ := d.ValueData(title, nil)
	is.Equal(data, "second")
}

func TestSetValuesDataKeepsOrder(t *testing.T) {
	is, registry := testSetup(t)
	d, family := newArticle(t, registry)
	tags := family.Attribute("tags")

	err := d.SetValuesData(tags, []string{"go", "eav", "storage"}, nil)
	is.NoErr(err)

	data, err := d.ValuesData(tags, nil)
	is.NoErr(err)
	is.Equal(data, []any{"go", "eav", "storage"})

	values, _ := d.Values(tags, nil)
	for i, v := range values {
		is.Equal(v.Position(), i) // position should equal index
	}
}

func TestSetValuesDataRejectsNonSequence(t *testing.T) {
	is, registry := testSetup(t)
	d, family := newArticle(t, registry)
	tags := family.Attribute("tags")

	is.NoErr(d.SetValuesData(tags, []any{"kept"}, nil))

	err := d.SetValuesData(tags, "not a list", nil)
	is.True(errors.Is(err, eaverrors.ErrInvalidValueCollection))

	data, _ := d.ValuesData(tags, nil)
	is.Equal(data, []any{"kept"}) // existing values should be left alone
}

func TestAddValueDataAfterRemoval(t *testing.T) {
	is, registry := testSetup(t)
	d, family := newArticle(t, registry)
	tags := family.Attribute("tags")

	is.NoErr(d.SetValuesData(tags, []any{"a", "b", "c"}, nil))

	values, _ := d.Values(tags, nil)
	d.RemoveValue(values[1])

	is.NoErr(d.AddValueData(tags, "d", nil))

	values, _ = d.Values(tags, nil)
	is.Equal(len(values), 3)
	is.Equal(values[2].Position(), 3) // should be positioned after the highest position

	data, _ := d.ValuesData(tags, nil)
	is.Equal(data, []any{"a", "c", "d"})
}

func TestAddValueDataStartsAtZero(t *testing.T) {
	is, registry := testSetup(t)
	d, family := newArticle(t, registry)
	tags := family.Attribute("tags")

	is.NoErr(d.AddValueData(tags, "first", nil))

	v, _ := d.Value(tags, nil)
	is.Equal(v.Position(), 0)
}

func TestIsEmpty(t *testing.T) {
	is, registry := testSetup(t)
	d, family := newArticle(t, registry)

	title := family.Attribute("title")

	empty, err := d.IsEmpty(title, nil)
	is.NoErr(err)
	is.True(empty) // no values at all

	is.NoErr(d.SetValueData(title, nil, nil))
	empty, _ = d.IsEmpty(title, nil)
	is.True(empty) // a nil value is empty

	is.NoErr(d.SetValueData(title, "", nil))
	empty, _ = d.IsEmpty(title, nil)
	is.True(empty) // an empty string is empty

	views := family.Attribute("views")
	is.NoErr(d.SetValueData(views, 0, nil))
	empty, _ = d.IsEmpty(views, nil)
	is.True(!empty) // zero is a value

	published := family.Attribute("published")
	is.NoErr(d.SetValueData(published, false, nil))
	empty, _ = d.IsEmpty(published, nil)
	is.True(!empty) // false is a value
}

func TestUnknownAttributeVersusNoValues(t *testing.T) {
	is, registry := testSetup(t)
	d, family := newArticle(t, registry)

	person, _ := registry.Family("person")

	_, err := d.Values(person.Attribute("name"), nil)
	is.True(errors.Is(err, eaverrors.ErrUnknownAttribute))

	values, err := d.Values(family.Attribute("body"), nil)
	is.NoErr(err)
	is.Equal(len(values), 0) // declared attribute without values
}

func TestValuesAreFilteredByContext(t *testing.T) {
	is, registry := testSetup(t)
	d, family := newArticle(t, registry)
	title := family.Attribute("title")

	is.NoErr(d.SetValueData(title, "Hello", eav.Context{"locale": "en"}))
	is.NoErr(d.SetValueData(title, "Hej", eav.Context{"locale": "sv"}))
	is.NoErr(d.SetValueData(family.Attribute("views"), 3, eav.Context{"locale": "sv"}))

	sv, _ := d.ValueData(title, eav.Context{"locale": "sv"})
	is.Equal(sv, "Hej")

	current, _ := d.ValueData(title, nil)
	is.Equal(current, "Hello") // current context falls back to the family default

	all, err := d.Values(nil, eav.Context{"locale": "sv"})
	is.NoErr(err)
	is.Equal(len(all), 2) // swedish title and the unmasked views

	d.SetCurrentContext(eav.Context{"locale": "sv"})
	current, _ = d.ValueData(title, nil)
	is.Equal(current, "Hej")
}

func TestAddValueAssignsCurrentContext(t *testing.T) {
	is, registry := testSetup(t)
	d, _ := newArticle(t, registry, eav.CurrentContext(eav.Context{"locale": "de", "ignored": true}))

	v := eav.NewValue("title", "locale")
	d.AddValue(v)

	locale, err := v.ContextValue("locale")
	is.NoErr(err)
	is.Equal(locale, "de")
	is.Equal(v.Data(), d)
}

func TestAddValueMovesValueBetweenData(t *testing.T) {
	is, registry := testSetup(t)
	first, family := newArticle(t, registry)
	second, _ := newArticle(t, registry)
	title := family.Attribute("title")

	is.NoErr(first.SetValueData(title, "moving", nil))
	v, _ := first.Value(title, nil)

	second.AddValue(v)

	is.Equal(v.Data(), second)
	is.Equal(len(first.AllValues()), 0)
	is.Equal(len(second.AllValues()), 1)

	first.RemoveValue(v) // not owned by first, should be a no-op
	is.Equal(v.Data(), second)
}

func TestInvalidContextKey(t *testing.T) {
	is := is.New(t)

	v := eav.NewValue("title", "locale")

	err := v.SetContextValue("channel", "web")
	is.True(errors.Is(err, eaverrors.ErrInvalidContextKey))

	_, err = v.ContextValue("channel")
	is.True(errors.Is(err, eaverrors.ErrInvalidContextKey))

	is.NoErr(v.SetContext(eav.Context{"locale": "en"}))
	is.True(v.HasContext())

	v.ClearContext()
	is.True(!v.HasContext())
}

func TestCloneIsIndependent(t *testing.T) {
	is, registry := testSetup(t)
	d, family := newArticle(t, registry)
	title := family.Attribute("title")
	tags := family.Attribute("tags")

	d.SetID(17)
	is.NoErr(d.SetCreatedAt(time.Now().Add(time.Hour)))
	is.NoErr(d.SetValueData(title, "original", nil))
	is.NoErr(d.SetValuesData(tags, []any{"a", "b"}, nil))

	c := d.Clone()

	is.Equal(c.ID(), eav.ID(0))
	is.True(!c.CreatedAt().Before(d.CreatedAt())) // clone should not predate its source

	for _, v := range c.AllValues() {
		is.Equal(v.Data(), c)
		is.Equal(v.ID(), eav.ID(0))
	}

	is.NoErr(c.SetValueData(title, "changed", nil))

	original, _ := d.ValueData(title, nil)
	is.Equal(original, "original")

	cloned, _ := c.ValuesData(tags, nil)
	is.Equal(cloned, []any{"a", "b"})
}

func TestLabel(t *testing.T) {
	is, registry := testSetup(t)
	d, family := newArticle(t, registry)

	d.SetID(7)
	is.Equal(d.Label(), "[7]") // no label value yet
	is.Equal(d.String(), "")

	is.NoErr(d.SetValueData(family.Attribute("title"), "Readable", nil))
	is.Equal(d.Label(), "Readable")
	is.Equal(d.String(), "Readable")
}

func TestLabelFollowsDataReference(t *testing.T) {
	is, registry := testSetup(t)

	personFamily, _ := registry.Family("person")
	person, _ := eav.New(personFamily)
	is.NoErr(person.SetValueData(personFamily.Attribute("name"), "Ada", nil))

	reviewFamily, _ := registry.Family("review")
	review, _ := eav.New(reviewFamily)
	review.SetID(3)
	is.Equal(review.Label(), "[3]")

	is.NoErr(review.SetValueData(reviewFamily.Attribute("reviewer"), person, nil))
	is.Equal(review.Label(), "Ada")
}

func TestDateValues(t *testing.T) {
	is, registry := testSetup(t)
	d, family := newArticle(t, registry)
	publishedOn := family.Attribute("publishedOn")
	updated := family.Attribute("updated")

	is.NoErr(d.SetValueData(publishedOn, "2024-03-01T10:20:30Z", nil))
	date, _ := d.ValueData(publishedOn, nil)
	is.Equal(date, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC))

	is.NoErr(d.SetValueData(updated, int64(1700000000), nil))
	datetime, _ := d.ValueData(updated, nil)
	is.Equal(datetime, time.Unix(1700000000, 0).UTC())

	is.NoErr(d.SetValueData(updated, "2024-03-01 12:00:00", nil))
	datetime, _ = d.ValueData(updated, nil)
	is.Equal(datetime, time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC))

	err := d.SetValueData(updated, "yesterday", nil)
	is.True(errors.Is(err, eaverrors.ErrUnparseableDate))
}

func TestDateKeepsCalendarDayOfOffset(t *testing.T) {
	is, registry := testSetup(t)
	d, family := newArticle(t, registry)
	publishedOn := family.Attribute("publishedOn")

	is.NoErr(d.SetValueData(publishedOn, "2024-03-01T01:00:00+02:00", nil))
	date, _ := d.ValueData(publishedOn, nil)
	is.Equal(date, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC))
}

func TestIntegerOutOfRange(t *testing.T) {
	is, registry := testSetup(t)
	d, family := newArticle(t, registry)
	views := family.Attribute("views")

	err := d.SetValueData(views, float64(1e20), nil)
	is.True(errors.Is(err, eaverrors.ErrInvalidValue))

	err = d.SetValueData(views, float64(math.MaxInt64), nil)
	is.True(errors.Is(err, eaverrors.ErrInvalidValue)) // rounds to 2^63

	is.NoErr(d.SetValueData(views, float64(-1<<63), nil))
	smallest, _ := d.ValueData(views, nil)
	is.Equal(smallest, int64(math.MinInt64))
}

func TestIncompatibleValue(t *testing.T) {
	is, registry := testSetup(t)
	d, family := newArticle(t, registry)
	views := family.Attribute("views")

	err := d.SetValueData(views, "many", nil)
	is.True(errors.Is(err, eaverrors.ErrInvalidValue))

	values, _ := d.Values(views, nil)
	is.Equal(len(values), 0) // the failed value should not be left behind
}

func TestDataReference(t *testing.T) {
	is, registry := testSetup(t)
	d, family := newArticle(t, registry)

	personFamily, _ := registry.Family("person")
	person, _ := eav.New(personFamily)

	is.NoErr(d.SetValueData(family.Attribute("author"), person, nil))

	ref, _ := d.ValueData(family.Attribute("author"), nil)
	is.Equal(ref, person)

	v, _ := d.Value(family.Attribute("author"), nil)
	is.Equal(v.DataValue(), person)
}

func TestDynamicProperties(t *testing.T) {
	is, registry := testSetup(t)
	d, _ := newArticle(t, registry)

	is.NoErr(d.Set("title", "dynamic", nil))
	is.NoErr(d.Set("tags", []string{"x", "y"}, nil))

	title, err := d.Get("title", nil)
	is.NoErr(err)
	is.Equal(title, "dynamic")

	tags, err := d.Get("tags", nil)
	is.NoErr(err)
	is.Equal(tags, []any{"x", "y"})

	raw, err := d.Get("titleValue", nil)
	is.NoErr(err)
	v, ok := raw.(*eav.Value)
	is.True(ok) // raw suffix should yield the value wrapper
	is.Equal(v.AttributeCode(), "title")

	rawTags, err := d.Get("tagsValue", nil)
	is.NoErr(err)
	is.Equal(len(rawTags.([]*eav.Value)), 2)

	missing, err := d.Get("body", nil)
	is.NoErr(err)
	is.Equal(missing, nil)

	_, err = d.Get("nonsense", nil)
	is.True(errors.Is(err, eaverrors.ErrUnknownProperty))

	err = d.Set("nonsense", 1, nil)
	is.True(errors.Is(err, eaverrors.ErrUnknownProperty))
}

func TestDynamicRawValues(t *testing.T) {
	is, registry := testSetup(t)
	d, _ := newArticle(t, registry)

	v := eav.NewValue("views")
	v.SetIntegerValue(9)

	is.NoErr(d.Set("viewsValue", v, nil))

	views, _ := d.Get("views", nil)
	is.Equal(views, int64(9))

	err := d.Set("viewsValue", []*eav.Value{eav.NewValue("views")}, nil)
	is.True(errors.Is(err, eaverrors.ErrInvalidValue)) // single valued attribute

	err = d.Set("viewsValue", 9, nil)
	is.True(errors.Is(err, eaverrors.ErrInvalidValue))
}

func TestTypedFields(t *testing.T) {
	is, registry := testSetup(t)
	d, _ := newArticle(t, registry)

	title := eav.NewField[string]("title")

	_, ok, err := title.Get(d, nil)
	is.NoErr(err)
	is.True(!ok) // nothing stored yet

	is.NoErr(title.Set(d, "typed", nil))

	value, ok, err := title.Get(d, nil)
	is.NoErr(err)
	is.True(ok)
	is.Equal(value, "typed")

	wrong := eav.NewField[int64]("title")
	_, _, err = wrong.Get(d, nil)
	is.True(errors.Is(err, eaverrors.ErrInvalidValue))
}

func TestParseTime(t *testing.T) {
	is := is.New(t)

	_, ok, err := eav.ParseTime("  ")
	is.NoErr(err)
	is.True(!ok) // blank strings are no date

	ts, ok, err := eav.ParseTime("1700000000")
	is.NoErr(err)
	is.True(ok)
	is.Equal(ts, time.Unix(1700000000, 0).UTC())

	ts, _, err = eav.ParseTime("2024-02-29")
	is.NoErr(err)
	is.Equal(ts, time.Date(2024, 2, 29, 0, 0, 0, 0, time.UTC))

	_, _, err = eav.ParseTime(struct{}{})
	is.True(errors.Is(err, eaverrors.ErrUnparseableDate))
}

func testSetup(t *testing.T) (*is.I, *schema.Registry) {
	is := is.New(t)

	cfg, err := schema.LoadConfiguration(bytes.NewBufferString(familiesYaml))
	is.NoErr(err)

	registry, err := schema.NewRegistry(cfg)
	is.NoErr(err)

	return is, registry
}

func newArticle(t *testing.T, registry *schema.Registry, decorators ...eav.DataDecoratorFunc) (*eav.Data, eav.Family) {
	is := is.New(t)

	family, err := registry.Family("article")
	is.NoErr(err)

	d, err := eav.New(family, decorators...)
	is.NoErr(err)

	return d, family
}

const familiesYaml string = `
families:
  - code: content
    instantiable: false
    contextKeys: [locale]
    defaultContext:
      locale: en
  - code: article
    parent: content
    attributeAsLabel: title
    attributes:
      - code: title
        contextMask: [locale]
      - code: body
        type: text
        contextMask: [locale]
      - code: tags
        multiple: true
      - code: views
        type: integer
      - code: rating
        type: decimal
      - code: published
        type: boolean
      - code: publishedOn
        type: date
      - code: updated
        type: datetime
      - code: author
        type: data
  - code: person
    attributeAsLabel: name
    attributes:
      - code: name
  - code: review
    attributeAsLabel: reviewer
    attributes:
      - code: reviewer
        type: data
`
