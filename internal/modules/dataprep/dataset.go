package dataprep

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"math/rand/v2"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/aristath/riskscore/internal/artifacts"
	"github.com/rs/zerolog"
)

// Source tags where a dataset came from.
type Source string

const (
	SourceFile      Source = "file"
	SourceDownload  Source = "download"
	SourceSynthetic Source = "synthetic"
)

// Record is one row: raw values aligned with the schema, plus the label.
type Record struct {
	Values []string
	Label  int
}

// Table is a raw tabular dataset.
type Table struct {
	Schema  Schema
	Records []Record
}

// Labels returns the label column.
func (t *Table) Labels() []int {
	y := make([]int, len(t.Records))
	for i, r := range t.Records {
		y[i] = r.Label
	}
	return y
}

// ClassCounts returns the number of good and bad rows.
func (t *Table) ClassCounts() (good, bad int) {
	for _, r := range t.Records {
		if r.Label == LabelBad {
			bad++
		} else {
			good++
		}
	}
	return good, bad
}

var missingMarkers = map[string]bool{"": true, "?": true, "NA": true, "na": true, "NaN": true, "null": true}

// Parse reads 20 features plus a label per line, space- or comma-delimited,
// with an optional header row naming the columns. Raw labels {1,2} are
// remapped to {0,1}.
func Parse(r io.Reader, schema Schema) (*Table, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	table := &Table{Schema: schema}
	width := schema.Len() + 1

	// column positions of each schema feature and of the label
	positions := make([]int, schema.Len())
	for i := range positions {
		positions[i] = i
	}
	labelPos := schema.Len()

	lineNo := 0
	first := true
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := splitLine(line)

		if first {
			first = false
			if isHeader(fields) {
				var err error
				positions, labelPos, err = headerPositions(fields, schema)
				if err != nil {
					return nil, err
				}
				width = len(fields)
				continue
			}
		}

		if len(fields) != width {
			if len(fields) == schema.Len() && labelPos == schema.Len() {
				return nil, fmt.Errorf("%w: line %d: label column absent", ErrDataset, lineNo)
			}
			return nil, fmt.Errorf("%w: line %d: expected %d columns, got %d", ErrDataset, lineNo, width, len(fields))
		}

		rec, err := parseRecord(fields, positions, labelPos, schema, lineNo)
		if err != nil {
			return nil, err
		}
		table.Records = append(table.Records, rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDataset, err)
	}
	if len(table.Records) == 0 {
		return nil, fmt.Errorf("%w: no data rows", ErrDataset)
	}
	return table, nil
}

func splitLine(line string) []string {
	if !strings.Contains(line, ",") {
		return strings.Fields(line)
	}
	parts := strings.Split(line, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

// isHeader treats a first row whose last column is not an integer as column names.
func isHeader(fields []string) bool {
	_, err := strconv.Atoi(fields[len(fields)-1])
	return err != nil
}

func headerPositions(header []string, schema Schema) ([]int, int, error) {
	at := make(map[string]int, len(header))
	for i, h := range header {
		at[strings.ToLower(h)] = i
	}

	labelPos, ok := at[LabelColumn]
	if !ok {
		return nil, 0, fmt.Errorf("%w: label column %q absent", ErrDataset, LabelColumn)
	}

	positions := make([]int, schema.Len())
	for i, f := range schema.Features {
		p, ok := at[f.Name]
		if !ok {
			return nil, 0, fmt.Errorf("%w: column %q absent", ErrDataset, f.Name)
		}
		positions[i] = p
	}
	return positions, labelPos, nil
}

func parseRecord(fields []string, positions []int, labelPos int, schema Schema, lineNo int) (Record, error) {
	values := make([]string, schema.Len())
	for i, f := range schema.Features {
		v := fields[positions[i]]
		if missingMarkers[v] {
			return Record{}, fmt.Errorf("%w: line %d: missing value for %s", ErrDataset, lineNo, f.Name)
		}
		if f.Kind == Numeric {
			if _, err := strconv.ParseFloat(v, 64); err != nil {
				return Record{}, fmt.Errorf("%w: line %d: %s is not numeric: %q", ErrDataset, lineNo, f.Name, v)
			}
		}
		values[i] = v
	}

	raw, err := strconv.Atoi(fields[labelPos])
	if err != nil || (raw != 1 && raw != 2) {
		return Record{}, fmt.Errorf("%w: line %d: label must be 1 or 2, got %q", ErrDataset, lineNo, fields[labelPos])
	}
	return Record{Values: values, Label: raw - 1}, nil
}

// ParseFile reads a dataset file.
func ParseFile(path string, schema Schema) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDataset, err)
	}
	defer f.Close()
	return Parse(f, schema)
}

// Synthetic generates a seeded stand-in dataset: uniform categorical draws,
// uniform integer numerics within each feature's range, and a 70/30 good/bad
// label prior.
func Synthetic(schema Schema, n int, seed uint64) *Table {
	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	table := &Table{Schema: schema, Records: make([]Record, n)}

	for i := 0; i < n; i++ {
		values := make([]string, schema.Len())
		for j, f := range schema.Features {
			switch {
			case f.Kind == Categorical && len(f.Vocabulary) > 0:
				values[j] = f.Vocabulary[rng.IntN(len(f.Vocabulary))]
			case f.Kind == Numeric:
				lo, hi := f.Min, f.Max
				if hi < lo {
					lo, hi = hi, lo
				}
				values[j] = strconv.Itoa(lo + rng.IntN(hi-lo+1))
			default:
				values[j] = "unknown"
			}
		}
		label := LabelGood
		if rng.Float64() < 0.3 {
			label = LabelBad
		}
		table.Records[i] = Record{Values: values, Label: label}
	}
	return table
}

// SyntheticRows is the size of the generated stand-in dataset.
const SyntheticRows = 1000

// LoaderConfig configures dataset acquisition.
type LoaderConfig struct {
	Path            string
	URL             string
	DownloadTimeout time.Duration
	AllowSynthetic  bool
	Seed            uint64
}

// Loader resolves the training dataset from disk, a bounded download, or the
// synthetic generator, in that order.
type Loader struct {
	cfg    LoaderConfig
	schema Schema
	client *http.Client
	log    zerolog.Logger
}

// NewLoader creates a dataset loader.
func NewLoader(cfg LoaderConfig, schema Schema, log zerolog.Logger) *Loader {
	if cfg.DownloadTimeout <= 0 {
		cfg.DownloadTimeout = 10 * time.Second
	}
	if cfg.Seed == 0 {
		cfg.Seed = 42
	}
	return &Loader{
		cfg:    cfg,
		schema: schema,
		client: &http.Client{Timeout: cfg.DownloadTimeout},
		log:    log.With().Str("component", "dataset_loader").Logger(),
	}
}

// WithHTTPClient replaces the download client.
func (l *Loader) WithHTTPClient(client *http.Client) *Loader {
	l.client = client
	return l
}

// Load returns the dataset and its source. A file that exists but cannot be
// parsed is a hard error; only a missing file triggers download and fallback.
func (l *Loader) Load(ctx context.Context) (*Table, Source, error) {
	if _, err := os.Stat(l.cfg.Path); err == nil {
		table, err := ParseFile(l.cfg.Path, l.schema)
		if err != nil {
			return nil, "", err
		}
		l.log.Info().Str("path", l.cfg.Path).Int("rows", len(table.Records)).Msg("Dataset loaded from file")
		return table, SourceFile, nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return nil, "", fmt.Errorf("%w: %v", ErrDataset, err)
	}

	if l.cfg.URL != "" {
		table, dlErr := l.download(ctx)
		if dlErr == nil {
			return table, SourceDownload, nil
		}
		l.log.Warn().Err(dlErr).Str("url", l.cfg.URL).Msg("Dataset download failed")
	}

	if !l.cfg.AllowSynthetic {
		return nil, "", fmt.Errorf("%w: no dataset at %s and synthetic data is disabled", ErrDataset, l.cfg.Path)
	}

	l.log.Warn().Int("rows", SyntheticRows).Msg("Using synthetic dataset; scores are not meaningful for production use")
	return Synthetic(l.schema, SyntheticRows, l.cfg.Seed), SourceSynthetic, nil
}

func (l *Loader) download(ctx context.Context) (*Table, error) {
	ctx, cancel := context.WithTimeout(ctx, l.cfg.DownloadTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, l.cfg.URL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := l.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return nil, err
	}

	table, err := Parse(bytes.NewReader(body), l.schema)
	if err != nil {
		return nil, err
	}

	// Cache for the next preparation; failure to cache is not fatal
	if l.cfg.Path != "" {
		if err := artifacts.WriteFileAtomic(l.cfg.Path, body, 0644); err != nil {
			l.log.Warn().Err(err).Str("path", l.cfg.Path).Msg("Failed to cache downloaded dataset")
		}
	}

	l.log.Info().Str("url", l.cfg.URL).Int("rows", len(table.Records)).Msg("Dataset downloaded")
	return table, nil
}
