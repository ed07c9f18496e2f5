package main

import (
	"crypto/rand"
	"encoding/binary"
	"encoding/json"
	"os"
)

// AnswerSpec describes how a submitted answer is evaluated: either a
// case-insensitive literal ("exact") or a regular expression ("regex").
type AnswerSpec struct {
	Type  string `json:"type"`
	Value string `json:"value"`
	Flags string `json:"flags,omitempty"`
}

// Subquestion is one step of a nested big question. It carries its own
// countdown, views, and answer; the base score comes from the parent.
type Subquestion struct {
	ViewA        string      `json:"viewA"`
	ViewB        string      `json:"viewB"`
	TimeLimitSec int         `json:"timeLimitSec"`
	Answer       *AnswerSpec `json:"answer"`
}

// Challenge is a single entry of the catalog. Exactly one of Answer or
// Subquestions is authoritative; records carrying both are rejected at load.
type Challenge struct {
	Title        string        `json:"title"`
	Level        string        `json:"level"`
	BaseScore    int           `json:"baseScore"`
	TimeLimitSec int           `json:"timeLimitSec"`
	ViewA        string        `json:"viewA"`
	ViewB        string        `json:"viewB"`
	Answer       *AnswerSpec   `json:"answer,omitempty"`
	Subquestions []Subquestion `json:"subquestions,omitempty"`
}

// Nested reports whether this challenge uses the big-question variant.
func (c *Challenge) Nested() bool {
	return len(c.Subquestions) > 0
}

// Catalog is the read-only challenge list, loaded once at startup.
type Catalog struct {
	challenges []Challenge
}

// LoadCatalog reads the challenge file at path. Any failure to read or parse
// degrades to an empty catalog with a logged diagnostic; individual records
// that fail validation are skipped the same way.
func LoadCatalog(cfg *Config, path string) *Catalog {
	data, err := os.ReadFile(path)
	if err != nil {
		logf(cfg, "DATA: Unable to read challenge file %q: %v", path, err)
		return &Catalog{}
	}

	var raw []Challenge
	if err := json.Unmarshal(data, &raw); err != nil {
		logf(cfg, "DATA: Unable to parse challenge file %q: %v", path, err)
		return &Catalog{}
	}

	kept := make([]Challenge, 0, len(raw))
	for i, c := range raw {
		if reason := validateChallenge(&c); reason != "" {
			logf(cfg, "DATA: Skipping challenge %d (%q): %s", i, c.Title, reason)
			continue
		}
		kept = append(kept, c)
	}

	logf(cfg, "DATA: Loaded %d challenges from %q", len(kept), path)

	return &Catalog{challenges: kept}
}

func validateChallenge(c *Challenge) string {
	switch {
	case c.Answer != nil && len(c.Subquestions) > 0:
		return "carries both a flat answer and subquestions"
	case c.Answer == nil && len(c.Subquestions) == 0:
		return "carries neither a flat answer nor subquestions"
	case c.TimeLimitSec <= 0:
		return "nonpositive time limit"
	case c.BaseScore < 0:
		return "negative base score"
	}

	if c.Answer != nil && (c.ViewA == "" || c.ViewB == "") {
		return "missing role view"
	}

	for i := range c.Subquestions {
		sub := &c.Subquestions[i]
		if sub.Answer == nil {
			return "subquestion missing answer"
		}
		if sub.TimeLimitSec <= 0 {
			return "subquestion nonpositive time limit"
		}
		if sub.ViewA == "" || sub.ViewB == "" {
			return "subquestion missing role view"
		}
	}

	return ""
}

// Len returns the total number of loaded challenges.
func (cat *Catalog) Len() int {
	return len(cat.challenges)
}

// Get returns the challenge at idx.
func (cat *Catalog) Get(idx int) *Challenge {
	return &cat.challenges[idx]
}

// Filter returns the indices of challenges whose level is in levels,
// excluding any index present in used.
func (cat *Catalog) Filter(levels []string, used map[int]bool) []int {
	accepted := make(map[string]bool, len(levels))
	for _, l := range levels {
		accepted[l] = true
	}

	idxs := make([]int, 0, len(cat.challenges))
	for i := range cat.challenges {
		if used[i] {
			continue
		}
		if accepted[cat.challenges[i].Level] {
			idxs = append(idxs, i)
		}
	}

	return idxs
}

// Pick selects uniformly at random among the unused challenges matching
// levels. The third return is false when no challenge is eligible.
func (cat *Catalog) Pick(levels []string, used map[int]bool) (int, *Challenge, bool) {
	idxs := cat.Filter(levels, used)
	if len(idxs) == 0 {
		return 0, nil, false
	}

	idx := idxs[randIndex(len(idxs))]

	return idx, &cat.challenges[idx], true
}

// randIndex returns a uniform random int in [0, n) using crypto/rand,
// with rejection sampling to avoid modulo bias.
func randIndex(n int) int {
	if n <= 1 {
		return 0
	}

	max := ^uint32(0) - (^uint32(0) % uint32(n))
	var buf [4]byte

	for {
		if _, err := rand.Read(buf[:]); err != nil {
			panic("crypto/rand failure: " + err.Error())
		}
		v := binary.BigEndian.Uint32(buf[:])
		if v < max {
			return int(v % uint32(n))
		}
	}
}
