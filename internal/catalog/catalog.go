package catalog

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
)

const DefaultType = "calm"

// Entry maps a sound type, and optionally a 4-digit code, to a file.
type Entry struct {
	Type string
	Path string
	Code string
}

// Catalog is the static sound table loaded from CSV.
type Catalog struct {
	entries []Entry
	byType  map[string]int
	byCode  map[string]int
}

var sampleEntries = []Entry{
	{Type: "calm", Path: "sounds/calm1.mp3", Code: "1001"},
	{Type: "funny", Path: "sounds/funny1.mp3", Code: "1002"},
	{Type: "meditation", Path: "sounds/meditation1.mp3", Code: "1003"},
	{Type: "nature", Path: "sounds/nature1.mp3", Code: "1004"},
}

// Load reads the catalog at path, writing a sample catalog first when the
// file does not exist. Relative filenames resolve against the CSV's
// directory.
func Load(path string, logger zerolog.Logger) (*Catalog, error) {
	logger = logger.With().Str("component", "catalog").Logger()

	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		if err := WriteSample(path); err != nil {
			return nil, err
		}
		logger.Warn().Str("path", path).Msg("catalog not found; created sample file")
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open catalog: %w", err)
	}
	defer f.Close()

	c, skipped, err := Parse(f, filepath.Dir(path))
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	event := logger.Info()
	if skipped > 0 {
		event = logger.Warn().Int("skipped", skipped)
	}
	event.Int("sounds", c.Len()).Msg("catalog loaded")
	return c, nil
}

// Parse reads CSV with a header containing type and filename columns and
// an optional code column. It returns how many rows were skipped.
func Parse(r io.Reader, baseDir string) (*Catalog, int, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return nil, 0, fmt.Errorf("read header: %w", err)
	}
	columns := map[string]int{}
	for i, name := range header {
		columns[strings.ToLower(strings.TrimSpace(name))] = i
	}
	typeCol, okType := columns["type"]
	fileCol, okFile := columns["filename"]
	if !okType || !okFile {
		return nil, 0, errors.New("header must contain type and filename columns")
	}
	codeCol, hasCode := columns["code"]

	c := &Catalog{byType: map[string]int{}, byCode: map[string]int{}}
	skipped := 0
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, skipped, err
		}

		entry := Entry{
			Type: strings.ToLower(field(record, typeCol)),
			Path: field(record, fileCol),
		}
		if entry.Type == "" || entry.Path == "" {
			skipped++
			continue
		}
		if hasCode {
			entry.Code = field(record, codeCol)
			if entry.Code != "" && !IsCode(entry.Code) {
				entry.Code = ""
				skipped++
			}
		}
		if baseDir != "" && !filepath.IsAbs(entry.Path) {
			entry.Path = filepath.Join(baseDir, filepath.FromSlash(entry.Path))
		}
		c.add(entry)
	}
	return c, skipped, nil
}

// WriteSample creates a catalog with example entries.
func WriteSample(path string) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create catalog dir: %w", err)
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create sample catalog: %w", err)
	}

	w := csv.NewWriter(f)
	_ = w.Write([]string{"type", "filename", "code"})
	for _, entry := range sampleEntries {
		_ = w.Write([]string{entry.Type, entry.Path, entry.Code})
	}
	w.Flush()
	if err := w.Error(); err != nil {
		_ = f.Close()
		return fmt.Errorf("write sample catalog: %w", err)
	}
	return f.Close()
}

func (c *Catalog) add(entry Entry) {
	if i, ok := c.byType[entry.Type]; ok {
		if old := c.entries[i].Code; old != "" && old != entry.Code {
			delete(c.byCode, old)
		}
		c.entries[i] = entry
	} else {
		c.byType[entry.Type] = len(c.entries)
		c.entries = append(c.entries, entry)
	}
	if entry.Code != "" {
		c.byCode[entry.Code] = c.byType[entry.Type]
	}
}

// Lookup resolves a type name or a 4-digit code.
func (c *Catalog) Lookup(key string) (Entry, bool) {
	key = strings.ToLower(strings.TrimSpace(key))
	if i, ok := c.byType[key]; ok {
		return c.entries[i], true
	}
	if i, ok := c.byCode[key]; ok {
		return c.entries[i], true
	}
	return Entry{}, false
}

// Default returns the calm entry, or the first one when there is no calm.
func (c *Catalog) Default() (Entry, bool) {
	if entry, ok := c.Lookup(DefaultType); ok {
		return entry, true
	}
	if len(c.entries) == 0 {
		return Entry{}, false
	}
	return c.entries[0], true
}

// Types lists sound types in file order.
func (c *Catalog) Types() []string {
	types := make([]string, 0, len(c.entries))
	for _, entry := range c.entries {
		types = append(types, entry.Type)
	}
	return types
}

func (c *Catalog) Len() int { return len(c.entries) }

// IsCode reports whether s is exactly four ASCII digits.
func IsCode(s string) bool {
	if len(s) != 4 {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func field(record []string, i int) string {
	if i >= len(record) {
		return ""
	}
	return strings.TrimSpace(record[i])
}
