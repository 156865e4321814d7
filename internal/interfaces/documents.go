package interfaces

import (
	"github.com/ternarybob/continuum/internal/models"
)

// DocumentStore persists research documents keyed by ticker code.
type DocumentStore interface {
	// Load reads the document for a ticker. Returns ErrNotFound from the
	// implementing package when no document exists.
	Load(ticker string) (models.Document, error)

	// Save writes the document atomically, creating or replacing it.
	Save(ticker string, doc models.Document) error

	// Exists reports whether a document is present for the ticker.
	Exists(ticker string) bool

	// ListTickers returns every ticker with a stored document, sorted.
	ListTickers() ([]string, error)

	// UpdateIndex refreshes the library index entry for a ticker from its
	// saved document. Index maintenance is best-effort; failures must not
	// fail the refresh that triggered them.
	UpdateIndex(ticker string, doc models.Document) error
}
