// Package documents persists research documents as flat JSON files, one
// per ticker, alongside a best-effort library index.
package documents

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/continuum/internal/common"
	"github.com/ternarybob/continuum/internal/models"
)

// ErrNotFound is returned when no document exists for a ticker.
var ErrNotFound = errors.New("document not found")

// Store reads and writes research documents under a single directory.
// Documents are keyed by canonical uppercase ticker code.
type Store struct {
	dir       string
	indexFile string
	logger    arbor.ILogger
}

// NewStore creates a document store rooted at dir, creating the
// directory if needed.
func NewStore(dir, indexFile string, logger arbor.ILogger) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create document directory: %w", err)
	}
	if indexFile == "" {
		indexFile = "_index.json"
	}
	return &Store{
		dir:       dir,
		indexFile: indexFile,
		logger:    logger,
	}, nil
}

// Dir returns the store's root directory.
func (s *Store) Dir() string {
	return s.dir
}

func (s *Store) path(ticker string) string {
	return filepath.Join(s.dir, common.CanonicalCode(ticker)+".json")
}

// Load reads the document for a ticker. Returns ErrNotFound when the
// document does not exist.
func (s *Store) Load(ticker string) (models.Document, error) {
	data, err := os.ReadFile(s.path(ticker))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, common.CanonicalCode(ticker))
		}
		return nil, fmt.Errorf("failed to read document for %s: %w", ticker, err)
	}

	var doc models.Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse document for %s: %w", ticker, err)
	}
	return doc, nil
}

// Save writes the document atomically via a temp file rename. Output is
// pretty-printed with HTML escaping off, since document fields carry
// HTML entities that must round-trip unchanged.
func (s *Store) Save(ticker string, doc models.Document) error {
	target := s.path(ticker)

	tmp, err := os.CreateTemp(s.dir, "."+common.CanonicalCode(ticker)+"-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()

	enc := json.NewEncoder(tmp)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(doc); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to encode document for %s: %w", ticker, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close temp file: %w", err)
	}

	if err := os.Rename(tmpName, target); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to replace document for %s: %w", ticker, err)
	}

	s.logger.Debug().
		Str("ticker", common.CanonicalCode(ticker)).
		Str("path", target).
		Msg("Document saved")

	return nil
}

// Exists reports whether a document is present for the ticker.
func (s *Store) Exists(ticker string) bool {
	_, err := os.Stat(s.path(ticker))
	return err == nil
}

// ListTickers returns every ticker with a stored document, sorted. The
// index file and hidden files are ignored.
func (s *Store) ListTickers() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read document directory: %w", err)
	}

	tickers := make([]string, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		if strings.HasPrefix(name, "_") || strings.HasPrefix(name, ".") {
			continue
		}
		tickers = append(tickers, strings.TrimSuffix(name, ".json"))
	}
	sort.Strings(tickers)
	return tickers, nil
}

// UpdateIndex refreshes the library index entry for a ticker from its
// saved document. The index carries summary fields only; both the
// historical list shape and the map shape are supported. Index failures
// are logged, never propagated, because the document itself is already
// safely on disk.
func (s *Store) UpdateIndex(ticker string, doc models.Document) error {
	code := common.CanonicalCode(ticker)
	indexPath := filepath.Join(s.dir, s.indexFile)

	entry := indexEntryFromDocument(code, doc)

	data, err := os.ReadFile(indexPath)
	if err != nil && !os.IsNotExist(err) {
		s.logger.Warn().Err(err).Msg("Failed to read library index, skipping update")
		return nil
	}

	var payload []byte
	switch {
	case err == nil && strings.HasPrefix(strings.TrimSpace(string(data)), "["):
		payload = s.updateListIndex(data, code, entry)
	default:
		payload = s.updateMapIndex(data, code, entry)
	}
	if payload == nil {
		return nil
	}

	tmp, err := os.CreateTemp(s.dir, ".index-*.tmp")
	if err != nil {
		s.logger.Warn().Err(err).Msg("Failed to create index temp file, skipping update")
		return nil
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(payload); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		s.logger.Warn().Err(err).Msg("Failed to write library index, skipping update")
		return nil
	}
	tmp.Close()
	if err := os.Rename(tmpName, indexPath); err != nil {
		os.Remove(tmpName)
		s.logger.Warn().Err(err).Msg("Failed to replace library index, skipping update")
		return nil
	}

	s.logger.Debug().Str("ticker", code).Msg("Library index updated")
	return nil
}

// indexEntryFromDocument extracts the summary fields the index carries.
func indexEntryFromDocument(code string, doc models.Document) map[string]interface{} {
	entry := map[string]interface{}{
		"ticker": code,
	}
	for _, key := range []string{"company", "company_name", "date", "last_refreshed", "verdict", "price"} {
		if v, ok := doc[key]; ok {
			entry[key] = v
		}
	}
	return entry
}

func (s *Store) updateListIndex(data []byte, code string, entry map[string]interface{}) []byte {
	var index []map[string]interface{}
	if err := json.Unmarshal(data, &index); err != nil {
		s.logger.Warn().Err(err).Msg("Malformed library index, skipping update")
		return nil
	}

	replaced := false
	for i, existing := range index {
		if t, ok := existing["ticker"].(string); ok && common.CanonicalCode(t) == code {
			index[i] = entry
			replaced = true
			break
		}
	}
	if !replaced {
		index = append(index, entry)
	}

	return marshalIndex(index, s.logger)
}

func (s *Store) updateMapIndex(data []byte, code string, entry map[string]interface{}) []byte {
	index := map[string]interface{}{}
	if len(data) > 0 {
		if err := json.Unmarshal(data, &index); err != nil {
			s.logger.Warn().Err(err).Msg("Malformed library index, skipping update")
			return nil
		}
	}
	index[code] = entry

	return marshalIndex(index, s.logger)
}

func marshalIndex(index interface{}, logger arbor.ILogger) []byte {
	var buf strings.Builder
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(index); err != nil {
		logger.Warn().Err(err).Msg("Failed to encode library index, skipping update")
		return nil
	}
	return []byte(buf.String())
}
