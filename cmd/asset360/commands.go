package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rpattn/asset360/internal/blame"
	"github.com/rpattn/asset360/internal/config"
	"github.com/rpattn/asset360/internal/ctxlog"
	"github.com/rpattn/asset360/internal/delta"
	"github.com/rpattn/asset360/internal/history"
	"github.com/rpattn/asset360/internal/instance"
	"github.com/rpattn/asset360/internal/schema"
	"github.com/rpattn/asset360/internal/schema/validator"
)

// errIssues signals that validation found problems; they were already
// printed.
var errIssues = errors.New("document has validation issues")

type options struct {
	configDir    string
	schemaPaths  []string
	logLevel     string
	defaultClass string
}

func newRootCmd() *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:           "asset360",
		Short:         "Blame and history tooling for schema-typed asset records",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(opts.configDir)
			if err != nil {
				return err
			}
			if len(opts.schemaPaths) == 0 {
				opts.schemaPaths = cfg.Schema.Paths
			}
			opts.defaultClass = cfg.Schema.DefaultClass
			level := cfg.Log.Level
			if opts.logLevel != "" {
				level = opts.logLevel
			}
			logger := ctxlog.New(cmd.ErrOrStderr(), level, cfg.Log.Format)
			cmd.SetContext(ctxlog.WithLogger(cmd.Context(), logger))
			return nil
		},
	}
	root.PersistentFlags().StringVar(&opts.configDir, "config", ".", "directory holding config.yaml")
	root.PersistentFlags().StringSliceVarP(&opts.schemaPaths, "schema", "s", nil, "schema YAML file (repeatable)")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "log level override (debug, info, warn, error)")

	root.AddCommand(
		newBlameCmd(opts),
		newHistoryCmd(opts),
		newValidateCmd(opts),
		newExportCmd(opts),
		newDiffCmd(opts),
	)
	return root
}

func newBlameCmd(opts *options) *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "blame STAGES.json",
		Short: "Apply a stage chain onto its base and show who last changed each node",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := loadService(opts)
			if err != nil {
				return err
			}
			out, err := blameFile(cmd.Context(), svc, args[0])
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			switch format {
			case "text":
				fmt.Fprintln(w, out.Text)
				printRejections(w, out)
			case "entries":
				fmt.Fprintln(w, blame.FormatStageEntries(out.Entries))
				printRejections(w, out)
			case "json":
				return writeBlameJSON(w, out)
			default:
				return fmt.Errorf("unknown format %q", format)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", "text", "output format: text, entries or json")
	return cmd
}

func newHistoryCmd(opts *options) *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "history SNAPSHOTS.json",
		Short: "Recompute the deltas of a chain of value snapshots",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := loadService(opts)
			if err != nil {
				return err
			}
			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("failed to read stages: %w", err)
			}
			stages, err := svc.HistoryPayloads(cmd.Context(), data)
			if err != nil {
				return err
			}
			encoded, err := blame.EncodeStages(stages)
			if err != nil {
				return err
			}
			if output == "" || output == "-" {
				_, err = fmt.Fprintln(cmd.OutOrStdout(), string(encoded))
				return err
			}
			if err := os.WriteFile(output, encoded, 0o644); err != nil {
				return fmt.Errorf("failed to write %s: %w", output, err)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "write the recomputed chain to a file instead of stdout")
	return cmd
}

func newValidateCmd(opts *options) *cobra.Command {
	var className string
	cmd := &cobra.Command{
		Use:   "validate [DOCUMENT]",
		Short: "Check the loaded schemas and optionally a JSON or YAML document against a class",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sv, err := loadSchemas(opts.schemaPaths)
			if err != nil {
				return err
			}
			if err := validator.ValidateClasses(sv); err != nil {
				return fmt.Errorf("schema is invalid: %w", err)
			}
			w := cmd.OutOrStdout()
			if len(args) == 0 {
				fmt.Fprintf(w, "schema ok: %d classes\n", len(sv.ClassNames()))
				return nil
			}
			if className == "" {
				className = opts.defaultClass
			}
			if className == "" {
				return errors.New("--class is required when validating a document")
			}
			cv, ok := sv.GetClassView(className)
			if !ok {
				return fmt.Errorf("%w: %s", instance.ErrUnresolvedClass, className)
			}
			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("failed to read document: %w", err)
			}
			var issues []string
			switch strings.ToLower(filepath.Ext(args[0])) {
			case ".yaml", ".yml":
				_, issues, err = instance.LoadYAML(data, sv, cv)
			default:
				_, issues, err = instance.Load(data, sv, cv)
			}
			if err != nil {
				return err
			}
			if len(issues) > 0 {
				for _, issue := range issues {
					fmt.Fprintln(w, issue)
				}
				return errIssues
			}
			fmt.Fprintf(w, "%s: valid %s\n", args[0], cv.Name())
			return nil
		},
	}
	cmd.Flags().StringVarP(&className, "class", "c", "", "class name, CURIE or URI to validate the document against")
	return cmd
}

func newExportCmd(opts *options) *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "export STAGES.json",
		Short: "Write the blame of a stage chain as an XLSX workbook",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if output == "" {
				return errors.New("--output is required")
			}
			svc, err := loadService(opts)
			if err != nil {
				return err
			}
			out, err := blameFile(cmd.Context(), svc, args[0])
			if err != nil {
				return err
			}
			f, err := os.Create(output)
			if err != nil {
				return fmt.Errorf("failed to create %s: %w", output, err)
			}
			if err := history.ExportXLSX(f, out); err != nil {
				_ = f.Close()
				return err
			}
			if err := f.Close(); err != nil {
				return fmt.Errorf("failed to close %s: %w", output, err)
			}
			ctxlog.FromContext(cmd.Context()).Info("workbook written", "path", output, "nodes", len(out.Entries))
			return nil
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "workbook path")
	return cmd
}

func newDiffCmd(opts *options) *cobra.Command {
	var from, to int
	cmd := &cobra.Command{
		Use:   "diff STAGES.json",
		Short: "Show a line diff between the snapshot values of two stages",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := loadService(opts)
			if err != nil {
				return err
			}
			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("failed to read stages: %w", err)
			}
			stages, err := svc.DecodeStages(data)
			if err != nil {
				return err
			}
			if to < 0 {
				to = len(stages) - 1
			}
			diff, err := history.StageDiff(stages, from, to)
			if err != nil {
				return err
			}
			_, err = io.WriteString(cmd.OutOrStdout(), diff)
			return err
		},
	}
	cmd.Flags().IntVar(&from, "from", 0, "index of the base stage")
	cmd.Flags().IntVar(&to, "to", -1, "index of the target stage (default: last)")
	return cmd
}

func loadSchemas(paths []string) (*schema.SchemaView, error) {
	if len(paths) == 0 {
		return nil, errors.New("no schema given; pass --schema or set schema.paths in config.yaml")
	}
	sv := schema.NewSchemaView()
	for _, path := range paths {
		if err := sv.AddSchemaFromPath(path); err != nil {
			return nil, err
		}
	}
	return sv, nil
}

func loadService(opts *options) (*history.Service, error) {
	sv, err := loadSchemas(opts.schemaPaths)
	if err != nil {
		return nil, err
	}
	return history.NewService(sv, nil), nil
}

func blameFile(ctx context.Context, svc *history.Service, path string) (history.BlameReport, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return history.BlameReport{}, fmt.Errorf("failed to read stages: %w", err)
	}
	out, err := svc.BlamePayloads(ctx, data)
	if err != nil {
		return history.BlameReport{}, err
	}
	for _, warning := range out.Warnings {
		ctxlog.FromContext(ctx).Warn("stage value issue", "issue", warning)
	}
	return out, nil
}

func printRejections(w io.Writer, out history.BlameReport) {
	rejected := history.RejectedByStage(out)
	for _, stage := range out.Stages[1:] {
		paths, ok := rejected[stage.Meta.ChangeID]
		if !ok {
			continue
		}
		delete(rejected, stage.Meta.ChangeID)
		for _, p := range paths {
			fmt.Fprintf(w, "rejected: change_id=%d path=%s\n", stage.Meta.ChangeID, p)
		}
	}
}

func writeBlameJSON(w io.Writer, out history.BlameReport) error {
	entries := make([]map[string]any, len(out.Entries))
	for i, entry := range out.Entries {
		entries[i] = map[string]any{
			"path": delta.PathToGeneric(entry.Path),
			"meta": entry.Meta.ToDict(),
		}
	}
	payload := map[string]any{
		"value":    out.Result.Value.ToJSON(),
		"blame":    entries,
		"rejected": rejectedJSON(out),
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(payload)
}

func rejectedJSON(out history.BlameReport) []map[string]any {
	items := []map[string]any{}
	for i, paths := range out.Result.Rejected {
		if len(paths) == 0 {
			continue
		}
		generic := make([]any, len(paths))
		for j, p := range paths {
			generic[j] = delta.PathToGeneric(p)
		}
		items = append(items, map[string]any{
			"change_id": out.Stages[i+1].Meta.ChangeID,
			"paths":     generic,
		})
	}
	return items
}
