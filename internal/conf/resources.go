package conf

import (
	"encoding/csv"
	"encoding/hex"
	"fmt"
	"os"
)

// ResourceRow is one row of the resource CSV (spec §6): type, con,
// sha256hex, salt.
type ResourceRow struct {
	Type   string
	Con    string
	Digest [32]byte
	Salt   string
}

var csvHeader = []string{"type", "con", "sha256hex", "salt"}

// LoadResourceCSV reads the resource table. A missing file is created
// with just the header row (matching the original's first-run behavior)
// rather than treated as a startup error.
func LoadResourceCSV(path string) ([]ResourceRow, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		if werr := writeHeaderOnlyCSV(path); werr != nil {
			return nil, werr
		}
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	rows, err := r.ReadAll()
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}

	start := 0
	if len(rows[0]) > 0 && rows[0][0] == csvHeader[0] {
		start = 1 // skip header if present
	}

	var out []ResourceRow
	for i := start; i < len(rows); i++ {
		row := rows[i]
		if len(row) < 4 {
			return nil, fmt.Errorf("resources.csv line %d: expected 4 columns, got %d", i+1, len(row))
		}
		switch row[0] {
		case "tcp", "http", "udp":
		default:
			return nil, fmt.Errorf("resources.csv line %d: unknown type %q", i+1, row[0])
		}
		digestBytes, err := hex.DecodeString(row[2])
		if err != nil || len(digestBytes) != 32 {
			return nil, fmt.Errorf("resources.csv line %d: sha256hex must be 64 hex chars", i+1)
		}
		var digest [32]byte
		copy(digest[:], digestBytes)
		out = append(out, ResourceRow{Type: row[0], Con: row[1], Digest: digest, Salt: row[3]})
	}
	return out, nil
}

func writeHeaderOnlyCSV(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	w := csv.NewWriter(f)
	if err := w.Write(csvHeader); err != nil {
		return err
	}
	w.Flush()
	return w.Error()
}
