package secrets

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"

	gitleaksConfig "github.com/zricethezav/gitleaks/v8/config"
	"github.com/zricethezav/gitleaks/v8/detect"
	gitleaksRegexp "github.com/zricethezav/gitleaks/v8/regexp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/costgate/internal/config"
)

// Finding is one detected secret. Match is never logged.
type Finding struct {
	RuleID string
	Line   int
	Match  string
}

// Scrubber replaces detected secrets with [REDACTED:<rule>] markers.
// A disabled Scrubber returns text unchanged.
type Scrubber struct {
	// detector keeps per-scan state, so scans are serialized.
	mu       sync.Mutex
	detector *detect.Detector
	logger   *zap.Logger
}

// New builds a scrubber from configuration. The Gitleaks rule set is
// compiled once here.
func New(cfg config.SecretsConfig, logger *zap.Logger) (*Scrubber, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Scrubber{logger: logger}
	if !cfg.Enabled {
		return s, nil
	}

	d, err := detect.NewDetectorDefaultConfig()
	if err != nil {
		return nil, fmt.Errorf("creating secret detector: %w", err)
	}
	if cfg.AllowlistPath != "" {
		path, err := config.ExpandPath(cfg.AllowlistPath)
		if err != nil {
			return nil, err
		}
		allow, err := LoadAllowlist(path)
		if err != nil {
			return nil, err
		}
		applyAllowlist(&d.Config, allow)
	}
	s.detector = d
	return s, nil
}

// Noop returns a scrubber that never redacts.
func Noop() *Scrubber {
	return &Scrubber{logger: zap.NewNop()}
}

// Enabled reports whether detection runs.
func (s *Scrubber) Enabled() bool {
	return s != nil && s.detector != nil
}

// Scrub returns text with every detected secret replaced.
func (s *Scrubber) Scrub(text string) string {
	out, _ := s.ScrubWithFindings(text)
	return out
}

// ScrubWithFindings is Scrub plus the findings that were redacted.
func (s *Scrubber) ScrubWithFindings(text string) (string, []Finding) {
	if !s.Enabled() || strings.TrimSpace(text) == "" {
		return text, nil
	}

	s.mu.Lock()
	raw := s.detector.DetectString(text)
	s.mu.Unlock()
	if len(raw) == 0 {
		return text, nil
	}

	findings := make([]Finding, 0, len(raw))
	for _, f := range raw {
		match := f.Secret
		if match == "" {
			match = f.Match
		}
		if match == "" {
			continue
		}
		findings = append(findings, Finding{RuleID: f.RuleID, Line: f.StartLine, Match: match})
	}

	out := replaceFindings(text, findings)

	rules := make([]string, 0, len(findings))
	for _, f := range findings {
		rules = append(rules, f.RuleID)
	}
	s.logger.Info("redacted secrets", zap.Int("count", len(findings)), zap.Strings("rules", rules))
	return out, findings
}

// replaceFindings substitutes longer matches first so a secret that
// contains another is not split by the shorter replacement.
func replaceFindings(text string, findings []Finding) string {
	sorted := make([]Finding, len(findings))
	copy(sorted, findings)
	sort.SliceStable(sorted, func(i, j int) bool {
		return len(sorted[i].Match) > len(sorted[j].Match)
	})
	for _, f := range sorted {
		text = strings.ReplaceAll(text, f.Match, "[REDACTED:"+f.RuleID+"]")
	}
	return text
}

// applyAllowlist adds a global allowlist entry to the detector config.
// Patterns were validated by LoadAllowlist.
func applyAllowlist(cfg *gitleaksConfig.Config, allow *Allowlist) {
	entry := &gitleaksConfig.Allowlist{Description: "costgate allowlist"}
	for _, pattern := range allow.Regexes {
		entry.Regexes = append(entry.Regexes, (*gitleaksRegexp.Regexp)(regexp.MustCompile(pattern)))
	}
	entry.StopWords = append(entry.StopWords, allow.StopWords...)
	cfg.Allowlists = append(cfg.Allowlists, entry)
}
