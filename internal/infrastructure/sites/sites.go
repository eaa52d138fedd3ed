package sites

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/kirillkom/imagery-acquisition/internal/core/domain"
)

// Load reads a tab-separated site list: one "site_id<TAB>lat<TAB>lon" per line.
func Load(path string) ([]domain.Site, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open site list: %w", err)
	}
	defer f.Close()
	return Parse(f)
}

// Parse skips blank lines and lines starting with '#'.
func Parse(r io.Reader) ([]domain.Site, error) {
	scanner := bufio.NewScanner(r)
	var out []domain.Site
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimRight(scanner.Text(), "\r")
		if strings.TrimSpace(line) == "" || strings.HasPrefix(strings.TrimSpace(line), "#") {
			continue
		}

		fields := strings.Split(line, "\t")
		if len(fields) < 3 {
			return nil, invalidLine(lineNo, fmt.Errorf("expected 3 tab-separated fields, got %d", len(fields)))
		}
		id := strings.TrimSpace(fields[0])
		if id == "" {
			return nil, invalidLine(lineNo, fmt.Errorf("empty site id"))
		}
		lat, err := strconv.ParseFloat(strings.TrimSpace(fields[1]), 64)
		if err != nil || lat < -90 || lat > 90 {
			return nil, invalidLine(lineNo, fmt.Errorf("bad latitude %q", fields[1]))
		}
		lon, err := strconv.ParseFloat(strings.TrimSpace(fields[2]), 64)
		if err != nil || lon < -180 || lon > 180 {
			return nil, invalidLine(lineNo, fmt.Errorf("bad longitude %q", fields[2]))
		}
		out = append(out, domain.Site{ID: id, Latitude: lat, Longitude: lon})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read site list: %w", err)
	}
	return out, nil
}

// WritePlanned records the enumerated units, one per line, before any order is placed.
func WritePlanned(path string, units []domain.WorkUnit) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create planned dir: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create planned file: %w", err)
	}
	w := bufio.NewWriter(f)
	for _, u := range units {
		if _, err := w.WriteString(u.String() + "\n"); err != nil {
			_ = f.Close()
			return fmt.Errorf("write planned unit: %w", err)
		}
	}
	if err := w.Flush(); err != nil {
		_ = f.Close()
		return fmt.Errorf("flush planned file: %w", err)
	}
	return f.Close()
}

func invalidLine(lineNo int, err error) error {
	return domain.WrapError(domain.ErrInvalidInput, fmt.Sprintf("site list line %d", lineNo), err)
}
