package cli

import (
	"fmt"
	"strings"

	"github.com/rpattn/rowmap/internal/domain"
	"github.com/rpattn/rowmap/internal/fingerprint"
	"github.com/rpattn/rowmap/internal/mapper"
	"github.com/rpattn/rowmap/internal/mapping"
	"github.com/rpattn/rowmap/pkg/pathexpr"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// ruleFile is the YAML document read by the map command.
//
//	entityType: contact
//	headerHash: 541f...   # optional, checked against the file's headers
//	rules:
//	  First Name: firstName
//	  E-mail: emails[0].address
//	defaults:
//	  status: lead
//	transforms:
//	  emails[0].address: lowercase
type ruleFile struct {
	EntityType          string              `yaml:"entityType"`
	Kind                domain.MappingKind  `yaml:"kind"`
	HeaderHash          string              `yaml:"headerHash"`
	HeaderHashAlgorithm string              `yaml:"headerHashAlgorithm"`
	Rules               domain.RuleTable    `yaml:"rules"`
	Defaults            domain.DefaultTable `yaml:"defaults"`
	Transforms          map[string]string   `yaml:"transforms"`
}

type mapOptions struct {
	RulesFile string
	File      string
	HeaderRow int
	KeepGoing bool
}

type mapOutput struct {
	EntityType string           `json:"entityType,omitempty"`
	HeaderHash string           `json:"headerHash"`
	Entities   []map[string]any `json:"entities"`
	Errors     []rowFailure     `json:"errors,omitempty"`
}

type rowFailure struct {
	RowNumber int    `json:"rowNumber"`
	Message   string `json:"message"`
}

func newMapCommand(a *app) *cobra.Command {
	opts := mapOptions{}
	cmd := &cobra.Command{
		Use:   "map",
		Short: "Map the rows of a CSV or XLSX file into JSON entities",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.runMap(cmd, opts)
		},
	}
	cmd.Flags().StringVar(&opts.RulesFile, "rules", "", "YAML rule file")
	cmd.Flags().StringVar(&opts.File, "file", "", "CSV or XLSX file to map, - for CSV on stdin")
	cmd.Flags().IntVar(&opts.HeaderRow, "header-row", -1, "Zero based header row index (default: first non-empty row)")
	cmd.Flags().BoolVar(&opts.KeepGoing, "keep-going", false, "Report failing rows instead of stopping at the first one")
	_ = cmd.MarkFlagRequired("file")
	_ = a.v.BindPFlag("map.rules", cmd.Flags().Lookup("rules"))
	return cmd
}

func (a *app) runMap(cmd *cobra.Command, opts mapOptions) error {
	rulesPath := a.resolveString(cmd, opts.RulesFile, "map.rules", "rules")
	spec, err := loadRuleFile(rulesPath)
	if err != nil {
		return err
	}
	transforms, err := mapper.BuildTransformTable(spec.Transforms)
	if err != nil {
		return invalidArgument(err.Error(), nil)
	}

	headerRow := a.resolveInt(cmd, opts.HeaderRow, "map.header_row", "header-row")
	table, err := loadTable(opts.File, headerRow, cmd.InOrStdin())
	if err != nil {
		return err
	}

	fp, err := fingerprint.Compute(table.Headers, spec.HeaderHashAlgorithm)
	if err != nil {
		return err
	}
	if spec.HeaderHash != "" && !strings.EqualFold(strings.TrimSpace(spec.HeaderHash), fp.Hash) {
		return invalidArgument(fmt.Sprintf(
			"header hash mismatch: rule file expects %s, %s has %s", spec.HeaderHash, opts.File, fp.Hash), nil)
	}

	m := domain.NewMapping(domain.MappingDraft{
		EntityType:          spec.EntityType,
		SourceType:          table.SourceType,
		Kind:                spec.Kind,
		Rules:               spec.Rules,
		Defaults:            spec.Defaults,
		RawHeaders:          table.Headers,
		NormalizedHeaders:   fp.NormalizedHeaders,
		HeaderHash:          fp.Hash,
		HeaderHashAlgorithm: fp.Algorithm,
	})

	engine := mapping.NewEngine()
	out := mapOutput{EntityType: spec.EntityType, HeaderHash: fp.Hash, Entities: []map[string]any{}}
	for i, row := range table.RowMaps() {
		entity, err := engine.Apply(m, row)
		if err != nil {
			return err
		}
		if err := mapper.ApplyTransforms(entity, transforms); err != nil {
			if !opts.KeepGoing {
				return invalidArgument(fmt.Sprintf("row %d: %v", i+1, err), err)
			}
			out.Errors = append(out.Errors, rowFailure{RowNumber: i + 1, Message: err.Error()})
			continue
		}
		out.Entities = append(out.Entities, entity)
	}

	a.logger.Info().
		Str("file", opts.File).
		Str("header_hash", fp.Hash).
		Int("rows", len(table.Rows)).
		Int("entities", len(out.Entities)).
		Int("failed", len(out.Errors)).
		Msg("rows mapped")
	return writeOutput(cmd, out)
}

func loadRuleFile(path string) (ruleFile, error) {
	if path == "" || path == "-" {
		return ruleFile{}, invalidArgument("a rule file path is required (--rules)", nil)
	}
	payload, err := readInput(path, nil)
	if err != nil {
		return ruleFile{}, invalidArgument("failed to read rule file "+path, err)
	}
	var spec ruleFile
	if err := yaml.Unmarshal(payload, &spec); err != nil {
		return ruleFile{}, invalidArgument("invalid rule file "+path, err)
	}
	if len(spec.Rules) == 0 && len(spec.Defaults) == 0 {
		return ruleFile{}, invalidArgument("rule file "+path+" defines no rules", nil)
	}
	for i, rule := range spec.Rules {
		if strings.TrimSpace(rule.Source) == "" {
			return ruleFile{}, invalidArgument(fmt.Sprintf("rule %d: source is required", i), nil)
		}
		if err := pathexpr.Validate(rule.Destination); err != nil {
			return ruleFile{}, invalidArgument(fmt.Sprintf("rule %d: invalid destination %q", i, rule.Destination), err)
		}
	}
	for _, path := range spec.Defaults.Paths() {
		if err := pathexpr.Validate(path); err != nil {
			return ruleFile{}, invalidArgument(fmt.Sprintf("invalid default path %q", path), err)
		}
	}
	return spec, nil
}
