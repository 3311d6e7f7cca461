package codec_test

import (
	"strings"
	"testing"

	"github.com/aretw0/marginalia/pkg/codec"
	"github.com/beevik/etree"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEscapeData_RoundTrip(t *testing.T) {
	payloads := []string{
		"",
		"step1",
		"0 2",
		`<a><?mg1-breakpoint x?></a>`,
		"?>",
		"&gt; literally",
		"  leading spaces",
		"\tleading tab",
		"line\r\nbreaks",
		"&#32;looks escaped",
	}

	for _, p := range payloads {
		escaped := codec.EscapeData(p)
		assert.NotContains(t, escaped, "?>")
		assert.False(t, strings.HasPrefix(escaped, " "), "escaped %q starts with whitespace", escaped)
		assert.Equal(t, p, codec.UnescapeData(escaped))
		assert.Equal(t, p, codec.UnescapeData(" "+escaped), "separator space must be ignored")
	}
}

func TestEscapeData_SurvivesDocumentRoundTrip(t *testing.T) {
	payload := "  <form a=\"1\"><?mg2-added-element ?></form>\r\n"

	doc := etree.NewDocument()
	root := doc.CreateElement("root")
	root.AddChild(etree.NewProcInst("mg1-removed-element", codec.EscapeData(payload)))

	s, err := doc.WriteToString()
	require.NoError(t, err)

	back := etree.NewDocument()
	require.NoError(t, back.ReadFromString(s))

	var pi *etree.ProcInst
	for _, tok := range back.Root().Child {
		if p, ok := tok.(*etree.ProcInst); ok {
			pi = p
		}
	}
	require.NotNil(t, pi)
	assert.Equal(t, "mg1-removed-element", pi.Target)
	assert.Equal(t, payload, codec.UnescapeData(pi.Inst))
}
