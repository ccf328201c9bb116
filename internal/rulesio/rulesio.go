// Package rulesio reads and writes the portable rule-set document, the
// JSON format behind export/import. Documents carry a manifest id, a
// content digest over the canonical rules array, and the default
// behavior, so a rule set can be moved between machines and verified on
// arrival.
package rulesio

import (
	_ "embed"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"golang.org/x/crypto/blake2b"

	"fnmoded/internal/behavior"
	"fnmoded/internal/keymode"
	"fnmoded/internal/store"
)

// SchemaVersion is the document version this package writes and accepts.
const SchemaVersion = 1

//go:embed ruleset.schema.json
var schemaJSON string

var ruleSetSchema = jsonschema.MustCompileString("ruleset-v1.schema.json", schemaJSON)

// Package errors.
var (
	ErrSchemaVersion  = errors.New("rulesio: unsupported schema version")
	ErrDigestMismatch = errors.New("rulesio: digest does not match rules")
	ErrDuplicateRule  = errors.New("rulesio: duplicate app id")
)

// Rule is one exported rule. Behaviors are always concrete; inherited
// means no rule and is never written.
type Rule struct {
	AppID    string              `json:"app_id"`
	Name     string              `json:"name,omitempty"`
	Path     string              `json:"path,omitempty"`
	Behavior keymode.AppBehavior `json:"behavior"`
}

// Document is the rule-set interchange format.
type Document struct {
	SchemaVersion   int                 `json:"schema_version"`
	ExportedAt      time.Time           `json:"exported_at"`
	ManifestID      string              `json:"manifest_id"`
	Digest          string              `json:"digest"`
	DefaultBehavior keymode.AppBehavior `json:"default_behavior"`
	Rules           []Rule              `json:"rules"`
}

// Mode selects how an import treats existing rules.
type Mode int

const (
	// Merge upserts the document's rules over the existing set.
	Merge Mode = iota
	// Replace swaps the whole rule set and applies the document's default.
	Replace
)

// String returns the mode's wire name.
func (m Mode) String() string {
	if m == Replace {
		return "replace"
	}
	return "merge"
}

// ParseMode parses an import mode name.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "merge", "":
		return Merge, nil
	case "replace":
		return Replace, nil
	default:
		return Merge, fmt.Errorf("unknown import mode: %q", s)
	}
}

// Result summarizes what an import changed.
type Result struct {
	RulesImported  int  `json:"rules_imported"`
	Replaced       bool `json:"replaced"`
	DefaultApplied bool `json:"default_applied"`
}

// Export builds a document from the manager's current rules and default.
func Export(mgr *behavior.Manager) (*Document, error) {
	stored, err := mgr.Rules()
	if err != nil {
		return nil, fmt.Errorf("list rules: %w", err)
	}

	rules := make([]Rule, 0, len(stored))
	for _, r := range stored {
		rules = append(rules, Rule{
			AppID:    r.AppID,
			Name:     r.AppName,
			Path:     r.AppPath,
			Behavior: r.Behavior,
		})
	}
	sortRules(rules)

	digest, err := rulesDigest(rules)
	if err != nil {
		return nil, err
	}

	return &Document{
		SchemaVersion:   SchemaVersion,
		ExportedAt:      time.Now().UTC(),
		ManifestID:      uuid.New().String(),
		Digest:          digest,
		DefaultBehavior: mgr.DefaultBehavior(),
		Rules:           rules,
	}, nil
}

// ExportJSON renders the manager's rule set as an indented document.
func ExportJSON(mgr *behavior.Manager) ([]byte, error) {
	doc, err := Export(mgr)
	if err != nil {
		return nil, err
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode rule set: %w", err)
	}
	return append(data, '\n'), nil
}

// Parse validates raw JSON against the embedded schema, decodes it and
// verifies the content digest. Hand-edited rules fail the digest check.
func Parse(data []byte) (*Document, error) {
	var instance any
	if err := json.Unmarshal(data, &instance); err != nil {
		return nil, fmt.Errorf("parse rule set: %w", err)
	}
	if err := ruleSetSchema.Validate(instance); err != nil {
		return nil, fmt.Errorf("rule set does not match schema: %w", err)
	}

	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode rule set: %w", err)
	}
	if doc.SchemaVersion != SchemaVersion {
		return nil, fmt.Errorf("%w: %d", ErrSchemaVersion, doc.SchemaVersion)
	}

	seen := make(map[string]struct{}, len(doc.Rules))
	for _, r := range doc.Rules {
		if _, dup := seen[r.AppID]; dup {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateRule, r.AppID)
		}
		seen[r.AppID] = struct{}{}
	}

	digest, err := rulesDigest(doc.Rules)
	if err != nil {
		return nil, err
	}
	if digest != doc.Digest {
		return nil, ErrDigestMismatch
	}

	return &doc, nil
}

// Import applies a parsed document to the manager.
//
// Merge upserts each rule and leaves the default alone. Replace swaps
// the entire rule set in one transaction and applies the document's
// default behavior.
func Import(mgr *behavior.Manager, doc *Document, mode Mode) (*Result, error) {
	res := &Result{RulesImported: len(doc.Rules)}

	if mode == Replace {
		rules := make([]store.Rule, 0, len(doc.Rules))
		for _, r := range doc.Rules {
			rules = append(rules, store.Rule{
				AppID:    r.AppID,
				AppName:  r.Name,
				AppPath:  r.Path,
				Behavior: r.Behavior,
			})
		}
		if err := mgr.ReplaceRules(rules, doc.DefaultBehavior); err != nil {
			return nil, fmt.Errorf("replace rules: %w", err)
		}
		res.Replaced = true
		res.DefaultApplied = doc.DefaultBehavior.Concrete()
		return res, nil
	}

	for _, r := range doc.Rules {
		if err := mgr.SetBehaviorFor(r.AppID, r.Name, r.Path, r.Behavior); err != nil {
			return nil, fmt.Errorf("import rule %s: %w", r.AppID, err)
		}
	}
	return res, nil
}

// sortRules orders rules by app id, the canonical order for digests.
func sortRules(rules []Rule) {
	sort.Slice(rules, func(i, j int) bool { return rules[i].AppID < rules[j].AppID })
}

// rulesDigest hashes the canonical (app-id sorted) rules array. The
// digest pins behaviors and ids, so reordering a document by hand stays
// valid while editing a rule does not.
func rulesDigest(rules []Rule) (string, error) {
	canonical := make([]Rule, len(rules))
	copy(canonical, rules)
	sortRules(canonical)

	data, err := json.Marshal(canonical)
	if err != nil {
		return "", fmt.Errorf("canonicalize rules: %w", err)
	}
	sum := blake2b.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}
