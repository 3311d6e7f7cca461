package codec

import "strings"

// Marker data lives inside a processing instruction, which ends at the first "?>".
// Escaping '>' removes every such sequence. '&' is escaped first so the mapping is
// reversible, and carriage returns plus leading whitespace are escaped because
// parsers normalize or drop them.

var dataEscaper = strings.NewReplacer(
	"&", "&amp;",
	">", "&gt;",
	"\r", "&#13;",
)

var dataUnescaper = strings.NewReplacer(
	"&amp;", "&",
	"&gt;", ">",
	"&#13;", "\r",
	"&#32;", " ",
	"&#9;", "\t",
	"&#10;", "\n",
)

// EscapeData makes payload safe to store as processing-instruction data.
func EscapeData(payload string) string {
	s := dataEscaper.Replace(payload)

	var lead strings.Builder
	i := 0
	for ; i < len(s); i++ {
		switch s[i] {
		case ' ':
			lead.WriteString("&#32;")
		case '\t':
			lead.WriteString("&#9;")
		case '\n':
			lead.WriteString("&#10;")
		default:
			return lead.String() + s[i:]
		}
	}
	return lead.String()
}

// UnescapeData reverses EscapeData. Leading whitespace is separator noise from the
// processing-instruction syntax and is dropped before unescaping.
func UnescapeData(data string) string {
	return dataUnescaper.Replace(strings.TrimLeft(data, " \t\r\n"))
}
