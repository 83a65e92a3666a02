package core

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"curator/internal/clients/metadata"
	"curator/internal/library"
	"curator/internal/utils"

	"gopkg.in/yaml.v3"
)

type RuleKind string

const (
	RuleExtension RuleKind = "extension"
	RulePath      RuleKind = "path"
	RuleMetadata  RuleKind = "metadata"
	RuleDefault   RuleKind = "default"
)

var defaultCategories = map[metadata.MediaType]string{
	metadata.MediaTypeMovie: "欧美电影",
	metadata.MediaTypeTV:    "欧美剧",
}

// Condition requires one metadata field to hold any of Values.
type Condition struct {
	Field  string   `json:"field"`
	Values []string `json:"values"`
}

// ClassificationRule is one entry of the category document. Which fields are
// meaningful depends on Kind.
type ClassificationRule struct {
	Kind     RuleKind `json:"kind"`
	Category string   `json:"category"`
	// MediaType limits extension and path rules to one media type when set.
	MediaType  metadata.MediaType `json:"media_type,omitempty"`
	Extensions []string           `json:"extensions,omitempty"`
	Pattern    *regexp.Regexp     `json:"-"`
	Conditions []Condition        `json:"conditions,omitempty"`
}

// RuleSet is the parsed category document. It is read only once built.
type RuleSet struct {
	heuristics []ClassificationRule
	categories map[metadata.MediaType][]ClassificationRule
	defaults   map[metadata.MediaType]string
}

// Decision is the outcome of evaluating a RuleSet for one item.
type Decision struct {
	Category string   `json:"category"`
	Kind     RuleKind `json:"kind"`
}

// ParseRuleSet parses a category document. Both the movie and tv sections
// must be present.
func ParseRuleSet(doc []byte) (*RuleSet, error) {
	var root yaml.Node
	if err := yaml.Unmarshal(doc, &root); err != nil {
		return nil, fmt.Errorf("%w: category document: %v", ErrInvalidConfig, err)
	}
	if len(root.Content) == 0 || root.Content[0].Kind != yaml.MappingNode {
		return nil, fmt.Errorf("%w: category document must be a mapping", ErrInvalidConfig)
	}

	rs := &RuleSet{
		categories: make(map[metadata.MediaType][]ClassificationRule),
		defaults:   make(map[metadata.MediaType]string),
	}
	top := root.Content[0]
	for i := 0; i+1 < len(top.Content); i += 2 {
		key, value := top.Content[i].Value, top.Content[i+1]
		switch key {
		case "movie", "tv":
			mt := metadata.MediaType(key)
			rules, err := parseCategories(mt, value)
			if err != nil {
				return nil, err
			}
			rs.categories[mt] = rules
		case "rules":
			rules, err := parseHeuristics(value)
			if err != nil {
				return nil, err
			}
			rs.heuristics = rules
		default:
			return nil, fmt.Errorf("%w: unknown section %q in category document", ErrInvalidConfig, key)
		}
	}

	for _, mt := range []metadata.MediaType{metadata.MediaTypeMovie, metadata.MediaTypeTV} {
		rules, ok := rs.categories[mt]
		if !ok {
			return nil, fmt.Errorf("%w: category document lacks the %s section", ErrInvalidConfig, mt)
		}
		rs.defaults[mt] = defaultCategories[mt]
		for j := len(rules) - 1; j >= 0; j-- {
			if len(rules[j].Conditions) == 0 {
				rs.defaults[mt] = rules[j].Category
				break
			}
		}
	}
	return rs, nil
}

func parseCategories(mt metadata.MediaType, node *yaml.Node) ([]ClassificationRule, error) {
	if node.Tag == "!!null" {
		return nil, nil
	}
	if node.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("%w: section %s must map category names to conditions", ErrInvalidConfig, mt)
	}
	var rules []ClassificationRule
	for i := 0; i+1 < len(node.Content); i += 2 {
		name := strings.TrimSpace(node.Content[i].Value)
		if name == "" {
			return nil, fmt.Errorf("%w: empty category name in %s section", ErrInvalidConfig, mt)
		}
		rule := ClassificationRule{Kind: RuleMetadata, Category: name, MediaType: mt}
		body := node.Content[i+1]
		switch {
		case body.Tag == "!!null":
		case body.Kind == yaml.MappingNode:
			for j := 0; j+1 < len(body.Content); j += 2 {
				field := body.Content[j].Value
				values, err := scalarList(body.Content[j+1])
				if err != nil {
					return nil, fmt.Errorf("%w: %s/%s/%s: %v", ErrInvalidConfig, mt, name, field, err)
				}
				if len(values) == 0 {
					continue
				}
				if field == "genre_ids" {
					for _, v := range values {
						if _, err := strconv.Atoi(v); err != nil {
							return nil, fmt.Errorf("%w: %s/%s: genre id %q is not a number", ErrInvalidConfig, mt, name, v)
						}
					}
				}
				rule.Conditions = append(rule.Conditions, Condition{Field: field, Values: values})
			}
		default:
			return nil, fmt.Errorf("%w: %s/%s must hold a mapping of conditions", ErrInvalidConfig, mt, name)
		}
		rules = append(rules, rule)
	}
	return rules, nil
}

type heuristicEntry struct {
	Kind       string    `yaml:"kind"`
	Category   string    `yaml:"category"`
	MediaType  string    `yaml:"media_type"`
	Extensions yaml.Node `yaml:"extensions"`
	Pattern    string    `yaml:"pattern"`
}

func parseHeuristics(node *yaml.Node) ([]ClassificationRule, error) {
	if node.Tag == "!!null" {
		return nil, nil
	}
	var entries []heuristicEntry
	if err := node.Decode(&entries); err != nil {
		return nil, fmt.Errorf("%w: rules: %v", ErrInvalidConfig, err)
	}

	var rules []ClassificationRule
	for i, e := range entries {
		if strings.TrimSpace(e.Category) == "" {
			return nil, fmt.Errorf("%w: rules[%d] has no category", ErrInvalidConfig, i)
		}
		rule := ClassificationRule{
			Kind:      RuleKind(e.Kind),
			Category:  strings.TrimSpace(e.Category),
			MediaType: metadata.MediaType(e.MediaType),
		}
		switch rule.MediaType {
		case "", metadata.MediaTypeMovie, metadata.MediaTypeTV:
		default:
			return nil, fmt.Errorf("%w: rules[%d] has unknown media_type %q", ErrInvalidConfig, i, e.MediaType)
		}

		switch rule.Kind {
		case RuleExtension:
			values, err := scalarList(&e.Extensions)
			if err != nil || len(values) == 0 {
				return nil, fmt.Errorf("%w: rules[%d] needs a list of extensions", ErrInvalidConfig, i)
			}
			for _, v := range values {
				rule.Extensions = append(rule.Extensions, utils.NormalizeExtension("x."+strings.TrimPrefix(v, ".")))
			}
		case RulePath:
			re, err := regexp.Compile(e.Pattern)
			if err != nil || e.Pattern == "" {
				return nil, fmt.Errorf("%w: rules[%d] has an invalid pattern %q", ErrInvalidConfig, i, e.Pattern)
			}
			rule.Pattern = re
		default:
			return nil, fmt.Errorf("%w: rules[%d] has unknown kind %q", ErrInvalidConfig, i, e.Kind)
		}
		rules = append(rules, rule)
	}
	return rules, nil
}

// scalarList accepts a comma separated scalar or a sequence of scalars.
func scalarList(node *yaml.Node) ([]string, error) {
	var raw []string
	switch node.Kind {
	case 0:
		return nil, nil
	case yaml.ScalarNode:
		if node.Tag == "!!null" {
			return nil, nil
		}
		raw = strings.Split(node.Value, ",")
	case yaml.SequenceNode:
		for _, item := range node.Content {
			if item.Kind != yaml.ScalarNode {
				return nil, fmt.Errorf("list items must be scalars")
			}
			raw = append(raw, item.Value)
		}
	default:
		return nil, fmt.Errorf("expected a value or a list")
	}

	var out []string
	for _, v := range raw {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out, nil
}

// Categories lists the metadata categories of mt in document order.
func (rs *RuleSet) Categories(mt metadata.MediaType) []ClassificationRule {
	return append([]ClassificationRule(nil), rs.categories[mt]...)
}

// CategoryNames returns every folder name a rule can produce.
func (rs *RuleSet) CategoryNames() []string {
	seen := make(map[string]bool)
	var names []string
	add := func(name string) {
		if !seen[name] {
			seen[name] = true
			names = append(names, name)
		}
	}
	for _, r := range rs.heuristics {
		add(r.Category)
	}
	for _, mt := range []metadata.MediaType{metadata.MediaTypeMovie, metadata.MediaTypeTV} {
		for _, r := range rs.categories[mt] {
			add(r.Category)
		}
		add(rs.defaults[mt])
	}
	return names
}

// Default is the fallback category of mt.
func (rs *RuleSet) Default(mt metadata.MediaType) string {
	if mt != metadata.MediaTypeTV {
		mt = metadata.MediaTypeMovie
	}
	return rs.defaults[mt]
}

// Decide picks the category of item. Extension rules win over path rules,
// which win over the metadata categories; meta may be nil when no lookup
// result exists, in which case only the heuristics and the default apply.
func (rs *RuleSet) Decide(item library.FileEntry, mt metadata.MediaType, meta *metadata.Result) Decision {
	if mt != metadata.MediaTypeTV {
		mt = metadata.MediaTypeMovie
	}

	ext := item.Extension
	if ext == "" && !item.IsDir() {
		ext = utils.NormalizeExtension(item.Name)
	}
	for _, kind := range []RuleKind{RuleExtension, RulePath} {
		for _, r := range rs.heuristics {
			if r.Kind != kind || (r.MediaType != "" && r.MediaType != mt) {
				continue
			}
			if r.matchesItem(item, ext) {
				return Decision{Category: r.Category, Kind: kind}
			}
		}
	}

	if meta != nil {
		for _, r := range rs.categories[mt] {
			if r.matchesMetadata(meta) {
				return Decision{Category: r.Category, Kind: RuleMetadata}
			}
		}
	}
	return Decision{Category: rs.defaults[mt], Kind: RuleDefault}
}

func (r ClassificationRule) matchesItem(item library.FileEntry, ext string) bool {
	switch r.Kind {
	case RuleExtension:
		for _, e := range r.Extensions {
			if e == ext {
				return true
			}
		}
	case RulePath:
		return r.Pattern.MatchString(item.Name) || r.Pattern.MatchString(item.Path)
	}
	return false
}

// matchesMetadata holds when every condition has at least one matching value.
func (r ClassificationRule) matchesMetadata(meta *metadata.Result) bool {
	for _, c := range r.Conditions {
		if !conditionHolds(c, meta) {
			return false
		}
	}
	return true
}

func conditionHolds(c Condition, meta *metadata.Result) bool {
	switch c.Field {
	case "genre_ids":
		for _, v := range c.Values {
			id, _ := strconv.Atoi(v)
			for _, g := range meta.GenreIDs {
				if g == id {
					return true
				}
			}
		}
		return false
	case "original_language":
		return anyEqualFold(c.Values, []string{meta.OriginalLanguage})
	case "origin_country":
		return anyEqualFold(c.Values, meta.OriginCountry)
	case "production_countries":
		return anyEqualFold(c.Values, meta.ProductionCountries)
	}

	raw, ok := meta.Fields[c.Field]
	if !ok {
		return false
	}
	return anyEqualFold(c.Values, flattenField(raw))
}

func anyEqualFold(want, have []string) bool {
	for _, w := range want {
		for _, h := range have {
			if h != "" && strings.EqualFold(w, h) {
				return true
			}
		}
	}
	return false
}

func flattenField(v any) []string {
	switch t := v.(type) {
	case nil:
		return nil
	case []any:
		var out []string
		for _, item := range t {
			out = append(out, flattenField(item)...)
		}
		return out
	case map[string]any:
		// TMDB nests named objects such as {"iso_3166_1": "US", "name": ...}
		var out []string
		for _, key := range []string{"iso_3166_1", "iso_639_1", "id", "name"} {
			if inner, ok := t[key]; ok {
				out = append(out, flattenField(inner)...)
			}
		}
		return out
	case float64:
		return []string{strconv.FormatFloat(t, 'f', -1, 64)}
	default:
		return []string{fmt.Sprint(t)}
	}
}
