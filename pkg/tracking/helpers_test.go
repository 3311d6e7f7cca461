package tracking_test

import (
	"testing"

	"github.com/aretw0/marginalia/pkg/tracking"
	"github.com/beevik/etree"
	"github.com/stretchr/testify/require"
)

func newDoc(t *testing.T, xml string) *etree.Document {
	t.Helper()
	doc := etree.NewDocument()
	require.NoError(t, doc.ReadFromString(xml))
	return doc
}

func render(t *testing.T, doc *etree.Document) string {
	t.Helper()
	s, err := doc.WriteToString()
	require.NoError(t, err)
	return s
}

// clean renders doc without markers.
func clean(t *testing.T, doc *etree.Document) string {
	t.Helper()
	return render(t, tracking.Strip(doc, tracking.DefaultPrefix))
}

// roundTrip serializes and re-parses doc, as happens between two requests.
func roundTrip(t *testing.T, doc *etree.Document) *etree.Document {
	t.Helper()
	return newDoc(t, render(t, doc))
}

func countMarkers(doc *etree.Document) int {
	return len(tracking.Markers(doc, tracking.DefaultPrefix))
}
