// Package workload loads the CSV that tells the agent which containers are
// latency-critical and which are best-effort, and how many CPUs each was
// requested with, the way init_wlset/init_wl read wl.csv.
package workload

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// Class mirrors container.Class but is decoded straight off the CSV's TYPE
// column, independent of the container package, to keep this loader free of
// a dependency on runtime container state.
type Class string

const (
	LC Class = "LC"
	BE Class = "BE"
)

// Entry is one row of the workload configuration file.
type Entry struct {
	Key   string // CID or CNAME, depending on KeyByCID
	Class Class
	CPUs  int
}

// Set is the parsed workload configuration, keyed by whichever column the
// agent was configured to use as the lookup key.
type Set struct {
	LC   map[string]int // key -> requested CPU count
	BE   map[string]bool
	keys map[string]Entry
}

// Load parses a workload configuration CSV with header
// CID,CNAME,TYPE,CPUS (column order is not significant; names are).
// keyByCID selects CID as the lookup key instead of CNAME, matching the
// agent's --key-cid flag.
func Load(r io.Reader, keyByCID bool) (*Set, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true
	records, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("workload: parse csv: %w", err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("workload: empty configuration")
	}

	col := make(map[string]int, len(records[0]))
	for i, h := range records[0] {
		col[strings.ToUpper(strings.TrimSpace(h))] = i
	}
	for _, want := range []string{"CID", "CNAME", "TYPE", "CPUS"} {
		if _, ok := col[want]; !ok {
			return nil, fmt.Errorf("workload: missing column %s", want)
		}
	}

	keyCol := col["CNAME"]
	if keyByCID {
		keyCol = col["CID"]
	}

	set := &Set{LC: map[string]int{}, BE: map[string]bool{}, keys: map[string]Entry{}}
	for _, row := range records[1:] {
		if len(row) <= keyCol {
			continue
		}
		key := strings.TrimSpace(row[keyCol])
		if key == "" {
			continue
		}
		cpus, err := strconv.Atoi(strings.TrimSpace(row[col["CPUS"]]))
		if err != nil {
			return nil, fmt.Errorf("workload: row %q: bad CPUS value: %w", key, err)
		}
		class := Class(strings.ToUpper(strings.TrimSpace(row[col["TYPE"]])))

		set.keys[key] = Entry{Key: key, Class: class, CPUs: cpus}
		if class == LC {
			set.LC[key] = cpus
		} else {
			set.BE[key] = true
		}
	}
	return set, nil
}

// LoadFile opens path and loads its workload configuration.
func LoadFile(path string, keyByCID bool) (*Set, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("workload: open %s: %w", path, err)
	}
	defer f.Close()
	return Load(f, keyByCID)
}

// IsLC reports whether key names a latency-critical workload.
func (s *Set) IsLC(key string) bool {
	_, ok := s.LC[key]
	return ok
}

// IsBE reports whether key names a best-effort workload.
func (s *Set) IsBE(key string) bool {
	return s.BE[key]
}

// CPUs returns the requested CPU count for an LC workload, or 0 if key is
// not a known LC workload.
func (s *Set) CPUs(key string) int {
	return s.LC[key]
}
