// Package codes resolves NAICS and PSC classification codes to their titles
// and scores free text against the NAICS titles.
package codes

import (
	"bytes"
	_ "embed"
	"encoding/csv"
	"fmt"
	"io"
	"strings"
)

//go:embed naics.csv
var naicsCSV []byte

//go:embed psc.csv
var pscCSV []byte

type entry struct {
	Code  string
	Title string
}

// Resolver holds both code tables in file order.
type Resolver struct {
	naics     []entry
	naicsByID map[string]string
	pscByID   map[string]string
}

// NewResolver loads the embedded tables.
func NewResolver() (*Resolver, error) {
	naics, err := readTable(naicsCSV)
	if err != nil {
		return nil, fmt.Errorf("load naics table: %w", err)
	}
	psc, err := readTable(pscCSV)
	if err != nil {
		return nil, fmt.Errorf("load psc table: %w", err)
	}

	r := &Resolver{
		naics:     naics,
		naicsByID: make(map[string]string, len(naics)),
		pscByID:   make(map[string]string, len(psc)),
	}
	for _, e := range naics {
		r.naicsByID[e.Code] = e.Title
	}
	for _, e := range psc {
		r.pscByID[strings.ToUpper(e.Code)] = e.Title
	}
	return r, nil
}

func readTable(data []byte) ([]entry, error) {
	rd := csv.NewReader(bytes.NewReader(data))
	rd.FieldsPerRecord = 2

	if _, err := rd.Read(); err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	var out []entry
	for {
		rec, err := rd.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		code, title := strings.TrimSpace(rec[0]), strings.TrimSpace(rec[1])
		if code == "" || title == "" {
			continue
		}
		out = append(out, entry{Code: code, Title: title})
	}
	return out, nil
}

// NAICSDescription returns the title for an exact NAICS code, or "".
func (r *Resolver) NAICSDescription(code string) string {
	return r.naicsByID[strings.TrimSpace(code)]
}

// PSCDescription returns the title for a PSC code, or "". Codes are matched
// without regard to case.
func (r *Resolver) PSCDescription(code string) string {
	return r.pscByID[strings.ToUpper(strings.TrimSpace(code))]
}

// FindCodeForKeywords picks the six-digit NAICS code whose title best matches
// text. Each shared word scores one point and the whole phrase appearing in
// the title scores five more. The first code with the top positive score
// wins.
func (r *Resolver) FindCodeForKeywords(text string) (string, bool) {
	phrase := strings.ToLower(strings.TrimSpace(text))
	if phrase == "" {
		return "", false
	}
	words := make(map[string]bool)
	for _, w := range strings.Fields(phrase) {
		words[w] = true
	}

	best, bestScore := "", 0
	for _, e := range r.naics {
		if len(e.Code) != 6 {
			continue
		}
		title := strings.ToLower(e.Title)

		score := 0
		seen := make(map[string]bool)
		for _, w := range strings.Fields(title) {
			if words[w] && !seen[w] {
				seen[w] = true
				score++
			}
		}
		if strings.Contains(title, phrase) {
			score += 5
		}
		if score > bestScore {
			best, bestScore = e.Code, score
		}
	}
	return best, bestScore > 0
}
