package export

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// metadataColumn is dropped from CSV output.
const metadataColumn = "extracted_metadata"

// WriteJSON encodes m with indentation.
func WriteJSON(w io.Writer, m *Manifest) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(m); err != nil {
		return fmt.Errorf("encode manifest: %w", err)
	}
	return nil
}

// LoadJSON reads a manifest written by WriteJSON.
func LoadJSON(r io.Reader) (*Manifest, error) {
	var m Manifest
	if err := json.NewDecoder(r).Decode(&m); err != nil {
		return nil, fmt.Errorf("decode manifest: %w", err)
	}
	return &m, nil
}

// LoadJSONFile reads a manifest from path.
func LoadJSONFile(path string) (*Manifest, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return LoadJSON(f)
}

// WriteCSV flattens the files of m, one row each. The header is the sorted
// union of record keys without the metadata column; every row follows it.
func WriteCSV(w io.Writer, m *Manifest) error {
	rows := make([]map[string]string, 0, len(m.Files))
	keys := make(map[string]bool)
	for _, rec := range m.Files {
		row, err := flatten(rec)
		if err != nil {
			return err
		}
		for k := range row {
			keys[k] = true
		}
		rows = append(rows, row)
	}

	header := make([]string, 0, len(keys))
	for k := range keys {
		header = append(header, k)
	}
	sort.Strings(header)

	cw := csv.NewWriter(w)
	if err := cw.Write(header); err != nil {
		return err
	}
	for _, row := range rows {
		line := make([]string, len(header))
		for i, k := range header {
			line[i] = row[k]
		}
		if err := cw.Write(line); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func flatten(v any) (map[string]string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode record: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var fields map[string]any
	if err := dec.Decode(&fields); err != nil {
		return nil, fmt.Errorf("flatten record: %w", err)
	}
	delete(fields, metadataColumn)

	row := make(map[string]string, len(fields))
	for k, val := range fields {
		switch x := val.(type) {
		case nil:
			row[k] = ""
		case string:
			row[k] = x
		case map[string]any, []any:
			continue
		default:
			row[k] = fmt.Sprint(x)
		}
	}
	return row, nil
}

// Save writes manifest_<batch>.json and manifest_<batch>.csv into dir.
func Save(dir string, m *Manifest) (*Paths, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create manifest dir: %w", err)
	}
	base := "manifest_" + SanitizeName(m.BatchID, 64)
	base = strings.ReplaceAll(base, " ", "_")
	paths := &Paths{
		JSON: filepath.Join(dir, base+".json"),
		CSV:  filepath.Join(dir, base+".csv"),
	}
	if err := writeFile(paths.JSON, func(w io.Writer) error { return WriteJSON(w, m) }); err != nil {
		return nil, err
	}
	if err := writeFile(paths.CSV, func(w io.Writer) error { return WriteCSV(w, m) }); err != nil {
		return nil, err
	}
	return paths, nil
}

func writeFile(path string, write func(io.Writer) error) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := write(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
