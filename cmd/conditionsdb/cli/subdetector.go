package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"conditionsdb/internal/catalog"
	"conditionsdb/internal/conditions"
)

func newSubdetectorCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "subdetector",
		Aliases: []string{"sd"},
		Short:   "Manage subdetectors",
	}
	cmd.AddCommand(
		newSubdetectorListCmd(a),
		newSubdetectorAllCmd(a),
		newSubdetectorShowCmd(a),
		newSubdetectorAddCmd(a),
	)
	return cmd
}

func newSubdetectorListCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List subdetector names",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withService(cmd, func(ctx context.Context, svc *catalog.Service) error {
				names, err := svc.ListSubdetectors(ctx)
				if err != nil {
					return err
				}
				return a.emit(cmd, names, func(p *printer) {
					var rows [][]string
					for i, n := range names {
						rows = append(rows, []string{strconv.Itoa(i + 1), n})
					}
					p.table([]string{"#", "NAME"}, rows)
				})
			})
		},
	}
}

func newSubdetectorAllCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "all",
		Short: "Show every subdetector record",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withService(cmd, func(ctx context.Context, svc *catalog.Service) error {
				sds, err := svc.GetAllSubdetectors(ctx)
				if err != nil {
					return err
				}
				return a.emit(cmd, sds, func(p *printer) {
					var rows [][]string
					for _, sd := range sds {
						rows = append(rows, []string{
							sd.Name, sd.Description, strings.Join(sd.Conditions, ","), formatTime(sd.CreatedAt),
						})
					}
					p.table([]string{"NAME", "DESCRIPTION", "CONDITIONS", "CREATED"}, rows)
				})
			})
		},
	}
}

func newSubdetectorShowCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "show <name>",
		Short: "Show one subdetector",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withService(cmd, func(ctx context.Context, svc *catalog.Service) error {
				sd, err := svc.ShowSubdetector(ctx, args[0])
				if err != nil {
					return err
				}
				return a.emit(cmd, sd, func(p *printer) { printSubdetector(p, sd) })
			})
		},
	}
}

func newSubdetectorAddCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "add <file>",
		Short: "Add a subdetector and its initial conditions from a JSON document",
		Long: `Add a subdetector from a JSON document of the form:

  {
    "name": "DET1",
    "description": "optional",
    "metadata": {"key": "value"},
    "conditions": [
      {"name": "temp", "payload": {"t": 21.5}, "validFrom": "2024-01-01", "validUntil": "2024-06-01"}
    ]
  }

validFrom defaults to the time of the call; validUntil is optional.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			in, err := readSubdetectorFile(args[0])
			if err != nil {
				return err
			}
			return a.withService(cmd, func(ctx context.Context, svc *catalog.Service) error {
				sd, err := svc.AddSubdetector(ctx, in)
				if err != nil {
					return err
				}
				return a.emit(cmd, sd, func(p *printer) { printSubdetector(p, sd) })
			})
		},
	}
}

func printSubdetector(p *printer, sd *conditions.Subdetector) {
	p.kv([][2]string{
		{"Name", sd.Name},
		{"Description", sd.Description},
		{"Metadata", formatMetadata(sd.Metadata)},
		{"Conditions", strings.Join(sd.Conditions, ", ")},
		{"Created", formatTime(sd.CreatedAt)},
	})
}

type subdetectorDocument struct {
	Name        string              `json:"name"`
	Description string              `json:"description"`
	Metadata    map[string]string   `json:"metadata"`
	Conditions  []conditionDocument `json:"conditions"`
}

type conditionDocument struct {
	Name       string          `json:"name"`
	Payload    json.RawMessage `json:"payload"`
	ValidFrom  string          `json:"validFrom"`
	ValidUntil string          `json:"validUntil"`
}

func readSubdetectorFile(path string) (conditions.NewSubdetector, error) {
	f, err := os.Open(path) //nolint:gosec // G304: path is a user-supplied input file
	if err != nil {
		return conditions.NewSubdetector{}, fmt.Errorf("open subdetector file: %w", err)
	}
	defer f.Close()

	var doc subdetectorDocument
	dec := json.NewDecoder(f)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&doc); err != nil {
		return conditions.NewSubdetector{}, conditions.Wrap(conditions.CodeInvalidPayload,
			"decode subdetector file "+path, err)
	}

	in := conditions.NewSubdetector{
		Name:        doc.Name,
		Description: doc.Description,
		Metadata:    doc.Metadata,
	}
	for _, c := range doc.Conditions {
		ci := conditions.ConditionInput{Name: c.Name, Payload: c.Payload}
		if c.ValidFrom != "" {
			t, err := parseDate(c.ValidFrom)
			if err != nil {
				return conditions.NewSubdetector{}, fmt.Errorf("condition %s: validFrom: %w", c.Name, err)
			}
			ci.ValidFrom = &t
		}
		if c.ValidUntil != "" {
			t, err := parseDate(c.ValidUntil)
			if err != nil {
				return conditions.NewSubdetector{}, fmt.Errorf("condition %s: validUntil: %w", c.Name, err)
			}
			ci.ValidUntil = &t
		}
		in.Conditions = append(in.Conditions, ci)
	}
	return in, nil
}
