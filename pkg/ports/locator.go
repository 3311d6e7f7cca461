package ports

import "github.com/beevik/etree"

// Locator turns elements into string locators and back.
// It is used for diagnostics and to re-enter a document on a later request;
// the tracker itself never calls it.
type Locator interface {
	Path(el *etree.Element) string
	Resolve(doc *etree.Document, path string) (*etree.Element, error)
}
