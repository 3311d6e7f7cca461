package tracking_test

import (
	"testing"

	"github.com/aretw0/marginalia/pkg/domain"
	"github.com/aretw0/marginalia/pkg/tracking"
	"github.com/beevik/etree"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const formXML = `<form id="f1"><title lang="en">Old</title><field name="a" type="text">1</field><field name="b"/><field name="c"><hint>x</hint></field></form>`

func TestChangeKinds_RoundTrip(t *testing.T) {
	tests := []struct {
		name   string
		typ    domain.ChangeType
		mutate func(t *testing.T, tr *tracking.Tracker, doc *etree.Document)
		after  string
	}{
		{
			name: "add element",
			typ:  domain.ChangeAddedElement,
			mutate: func(t *testing.T, tr *tracking.Tracker, doc *etree.Document) {
				el := etree.NewElement("field")
				el.CreateAttr("name", "new")
				require.NoError(t, tracking.AddElement(tr, doc.Root(), 2, el))
			},
			after: `<form id="f1"><title lang="en">Old</title><field name="a" type="text">1</field><field name="new"/><field name="b"/><field name="c"><hint>x</hint></field></form>`,
		},
		{
			name: "add attribute",
			typ:  domain.ChangeAddedAttribute,
			mutate: func(t *testing.T, tr *tracking.Tracker, doc *etree.Document) {
				require.NoError(t, tracking.AddAttribute(tr, doc.Root(), "method", "post"))
			},
			after: `<form id="f1" method="post"><title lang="en">Old</title><field name="a" type="text">1</field><field name="b"/><field name="c"><hint>x</hint></field></form>`,
		},
		{
			name: "remove element",
			typ:  domain.ChangeRemovedElement,
			mutate: func(t *testing.T, tr *tracking.Tracker, doc *etree.Document) {
				removed, err := tracking.RemoveElement(tr, doc.Root(), 3)
				require.NoError(t, err)
				assert.Equal(t, "c", removed.SelectAttrValue("name", ""))
			},
			after: `<form id="f1"><title lang="en">Old</title><field name="a" type="text">1</field><field name="b"/></form>`,
		},
		{
			name: "remove attribute",
			typ:  domain.ChangeRemovedAttribute,
			mutate: func(t *testing.T, tr *tracking.Tracker, doc *etree.Document) {
				field := doc.Root().SelectElement("field")
				require.NoError(t, tracking.RemoveAttribute(tr, field, "type"))
			},
			after: `<form id="f1"><title lang="en">Old</title><field name="a">1</field><field name="b"/><field name="c"><hint>x</hint></field></form>`,
		},
		{
			name: "remove leading attribute",
			typ:  domain.ChangeRemovedAttribute,
			mutate: func(t *testing.T, tr *tracking.Tracker, doc *etree.Document) {
				field := doc.Root().SelectElement("field")
				require.NoError(t, tracking.RemoveAttribute(tr, field, "name"))
			},
			after: `<form id="f1"><title lang="en">Old</title><field type="text">1</field><field name="b"/><field name="c"><hint>x</hint></field></form>`,
		},
		{
			name: "set attribute value",
			typ:  domain.ChangeSetAttributeValue,
			mutate: func(t *testing.T, tr *tracking.Tracker, doc *etree.Document) {
				field := doc.Root().SelectElement("field")
				require.NoError(t, tracking.SetAttributeValue(tr, field, "name", "renamed"))
			},
			after: `<form id="f1"><title lang="en">Old</title><field name="renamed" type="text">1</field><field name="b"/><field name="c"><hint>x</hint></field></form>`,
		},
		{
			name: "set element text",
			typ:  domain.ChangeSetElementText,
			mutate: func(t *testing.T, tr *tracking.Tracker, doc *etree.Document) {
				field := doc.Root().FindElement("field[@name='c']")
				require.NoError(t, tracking.SetElementText(tr, field, "plain"))
			},
			after: `<form id="f1"><title lang="en">Old</title><field name="a" type="text">1</field><field name="b"/><field name="c">plain</field></form>`,
		},
		{
			name: "swap elements",
			typ:  domain.ChangeSwappedElements,
			mutate: func(t *testing.T, tr *tracking.Tracker, doc *etree.Document) {
				require.NoError(t, tracking.SwapElements(tr, doc.Root(), 3, 1))
			},
			after: `<form id="f1"><title lang="en">Old</title><field name="c"><hint>x</hint></field><field name="b"/><field name="a" type="text">1</field></form>`,
		},
		{
			name: "breakpoint",
			typ:  domain.ChangeBreakpoint,
			mutate: func(t *testing.T, tr *tracking.Tracker, doc *etree.Document) {
				require.NoError(t, tracking.Breakpoint(tr, doc.Root(), "step1"))
			},
			after: formXML,
		},
		{
			name: "subselect start",
			typ:  domain.ChangeSubselectStart,
			mutate: func(t *testing.T, tr *tracking.Tracker, doc *etree.Document) {
				require.NoError(t, tracking.SubselectStart(tr, doc.Root(), "/form/field[3]"))
			},
			after: formXML,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc := newDoc(t, formXML)
			tr := tracking.New()

			tt.mutate(t, tr, doc)
			assert.Equal(t, tt.after, clean(t, doc))
			assert.Equal(t, 1, tr.Counter())
			assert.Equal(t, 1, countMarkers(doc))

			// Undo on a freshly parsed copy, as a later request would.
			doc = roundTrip(t, doc)
			rec, err := tr.UndoLastChange(doc)
			require.NoError(t, err)
			assert.Equal(t, tt.typ, rec.Type)
			assert.Equal(t, 0, tr.Counter())
			assert.Equal(t, formXML, render(t, doc))
		})
	}
}

func TestSwapElements_SelfInverse(t *testing.T) {
	doc := newDoc(t, `<list><a/><b/><c/></list>`)
	tr := tracking.New()

	require.NoError(t, tracking.SwapElements(tr, doc.Root(), 0, 2))
	assert.Equal(t, `<list><c/><b/><a/></list>`, clean(t, doc))

	last, err := tr.FindLastChange(doc)
	require.NoError(t, err)
	assert.Equal(t, "0 2", last.Text)
	assert.Equal(t, 2, last.Position)

	// A second swap with other positions is not an undo.
	other := newDoc(t, render(t, doc))
	otherTracker := tr.Clone()
	require.NoError(t, tracking.SwapElements(otherTracker, other.Root(), 0, 1))
	assert.NotEqual(t, `<list><a/><b/><c/></list>`, clean(t, other))

	_, err = tr.UndoLastChange(doc)
	require.NoError(t, err)
	assert.Equal(t, `<list><a/><b/><c/></list>`, render(t, doc))
}

func TestSwapElements_NormalizesOrder(t *testing.T) {
	doc := newDoc(t, `<list><a/><b/><c/></list>`)
	tr := tracking.New()

	require.NoError(t, tracking.SwapElements(tr, doc.Root(), 2, 0))
	rec, err := tr.FindLastChange(doc)
	require.NoError(t, err)
	assert.Equal(t, "0 2", rec.Text)
}

func TestSetElementText_PreservesAttributes(t *testing.T) {
	doc := newDoc(t, `<title lang="en">Old</title>`)
	tr := tracking.New()
	title := doc.Root()

	require.NoError(t, tracking.SetElementText(tr, title, "New"))
	assert.Equal(t, "en", title.SelectAttrValue("lang", ""))
	assert.Equal(t, `<title lang="en">New</title>`, clean(t, doc))

	rec, err := tr.UndoLastChange(doc)
	require.NoError(t, err)
	assert.NotContains(t, rec.Text, "lang", "payload must not carry attributes")

	assert.Equal(t, "Old", title.Text())
	assert.Equal(t, "en", title.SelectAttrValue("lang", ""))
	assert.Equal(t, `<title lang="en">Old</title>`, render(t, doc))
}

func TestSetElementText_RestoresNestedMarkers(t *testing.T) {
	doc := newDoc(t, `<group><item/></group>`)
	tr := tracking.New()
	group := doc.Root()

	require.NoError(t, tracking.AddAttribute(tr, group.SelectElement("item"), "x", "1"))
	require.NoError(t, tracking.SetElementText(tr, group, "flattened"))
	assert.Equal(t, 1, countMarkers(doc), "step 1 is captured inside step 2")

	n, err := tracking.Verify(doc, tracking.DefaultPrefix)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	require.NoError(t, tr.UndoChanges(doc, 0))
	assert.Equal(t, `<group><item/></group>`, render(t, doc))
}

func TestRemoveNode(t *testing.T) {
	doc := newDoc(t, `<a><b/><c/></a>`)
	tr := tracking.New()

	require.NoError(t, tracking.RemoveNode(tr, doc.Root().SelectElement("c")))
	assert.Equal(t, `<a><b/></a>`, clean(t, doc))

	_, err := tr.UndoLastChange(doc)
	require.NoError(t, err)
	assert.Equal(t, `<a><b/><c/></a>`, render(t, doc))
}

func TestForwardHelpers_RejectInvalidInput(t *testing.T) {
	doc := newDoc(t, `<a x="1">text<b/></a>`)
	tr := tracking.New()
	root := doc.Root()
	attached := root.SelectElement("b")

	errs := []error{
		tracking.AddElement(tr, root, 5, etree.NewElement("z")),
		tracking.AddElement(tr, root, 0, attached),
		tracking.AddElement(tr, nil, 0, etree.NewElement("z")),
		tracking.AddAttribute(tr, root, "x", "2"),
		tracking.AddAttribute(tr, root, "", "2"),
		tracking.RemoveAttribute(tr, root, "missing"),
		tracking.SetAttributeValue(tr, root, "missing", "v"),
		tracking.SwapElements(tr, root, 0, 1), // child 0 is text
		tracking.SwapElements(tr, root, 1, 1),
		tracking.SwapElements(tr, root, 1, 7),
		tracking.RemoveNode(tr, etree.NewElement("detached")),
		tracking.Breakpoint(tr, nil, "nowhere"),
	}
	_, removeErr := tracking.RemoveElement(tr, root, 0)
	errs = append(errs, removeErr)

	for i, err := range errs {
		assert.ErrorIs(t, err, domain.ErrInvalidChange, "case %d", i)
	}
	assert.Equal(t, 0, tr.Counter())
	assert.Equal(t, `<a x="1">text<b/></a>`, render(t, doc))
}

func TestRemoveAttribute_RestoresPosition(t *testing.T) {
	doc := newDoc(t, `<field name="a" type="text" required="true"/>`)
	tr := tracking.New()
	field := doc.Root()

	require.NoError(t, tracking.RemoveAttribute(tr, field, "type"))
	last, err := tr.FindLastChange(doc)
	require.NoError(t, err)
	assert.Equal(t, `1 type="text"`, last.Text)

	require.NoError(t, tracking.RemoveAttribute(tr, field, "name"))
	assert.Equal(t, `<field required="true"/>`, clean(t, doc))

	require.NoError(t, tr.UndoChanges(doc, 0))
	assert.Equal(t, `<field name="a" type="text" required="true"/>`, render(t, doc))
}

func TestRemoveAttribute_PayloadWithoutIndexAppends(t *testing.T) {
	doc := newDoc(t, `<field type="text"/>`)
	tr := tracking.New()
	require.NoError(t, tr.Track(domain.ChangeRecord{
		Type:    domain.ChangeRemovedAttribute,
		Text:    `name="a"`,
		Context: doc.Root(),
	}))

	_, err := tr.UndoLastChange(doc)
	require.NoError(t, err)
	assert.Equal(t, `<field type="text" name="a"/>`, render(t, doc))
}

func TestSetElementText_KeepsCarriageReturn(t *testing.T) {
	doc := newDoc(t, `<a>x&#13;y</a>`)
	tr := tracking.New()
	root := doc.Root()
	require.Equal(t, "x\ry", root.Text())

	require.NoError(t, tracking.SetElementText(tr, root, "new"))
	_, err := tr.UndoLastChange(doc)
	require.NoError(t, err)
	assert.Equal(t, "x\ry", root.Text())
}
