package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/urfave/cli/v2"

	"github.com/logmapper/internal/mapping"
)

// OverrideCommand returns the override command
func OverrideCommand() *cli.Command {
	return &cli.Command{
		Name:      "override",
		Usage:     "Manually override the UDM field of one mapping row",
		ArgsUsage: "<row-index>",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "suggested",
				Usage: "pick one of the row's predicted UDM fields",
			},
			&cli.StringFlag{
				Name:  "searched",
				Usage: "use a UDM field found via search",
			},
		},
		Action: runOverride,
	}
}

func runOverride(c *cli.Context) error {
	if c.NArg() != 1 {
		return fmt.Errorf("expected exactly one row index argument")
	}
	var rowIndex int
	if _, err := fmt.Sscanf(c.Args().First(), "%d", &rowIndex); err != nil {
		return fmt.Errorf("row index must be an integer: %q", c.Args().First())
	}

	suggested := c.String("suggested")
	searched := c.String("searched")
	if suggested != "" && searched != "" {
		return fmt.Errorf("--suggested and --searched are mutually exclusive")
	}
	if suggested == "" && searched == "" {
		return fmt.Errorf("one of --suggested or --searched is required")
	}

	app, err := buildApp(c)
	if err != nil {
		return err
	}

	var src mapping.OverrideSource
	if searched != "" {
		src = mapping.SearchedField(searched)
	} else {
		// a suggested field must be one of the row's own predictions
		rows := app.manager.Rows()
		if rowIndex < 0 || rowIndex >= len(rows) {
			return &mapping.IndexOutOfRangeError{Index: rowIndex, Len: len(rows)}
		}
		found := false
		for _, p := range rows[rowIndex].PredictedKeys() {
			if p.UDMField == suggested {
				found = true
				break
			}
		}
		if !found {
			return fmt.Errorf("%q is not among row %d's predicted keys; use --searched for a free-form field", suggested, rowIndex)
		}
		src = mapping.SuggestedField(suggested)
	}

	if err := app.manager.Override(rowIndex, src); err != nil {
		return err
	}
	printMappingTable(app)
	return nil
}

// ExportCommand returns the export command
func ExportCommand() *cli.Command {
	return &cli.Command{
		Name:  "export",
		Usage: "Export the current mapping table as CSV",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "out",
				Aliases: []string{"o"},
				Usage:   "output file",
				Value:   mapping.DefaultExportName,
			},
		},
		Action: runExport,
	}
}

func runExport(c *cli.Context) error {
	app, err := buildApp(c)
	if err != nil {
		return err
	}

	out := c.String("out")
	f, err := os.Create(out)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", out, err)
	}
	defer f.Close()

	if err := app.manager.ExportCSV(f); err != nil {
		return err
	}
	fmt.Printf("Exported %d row(s) to %s\n", len(app.manager.Rows()), out)
	return nil
}

// StatusCommand returns the status command
func StatusCommand() *cli.Command {
	return &cli.Command{
		Name:   "status",
		Usage:  "Show the session phase, thread, and credential state",
		Action: runStatus,
	}
}

func runStatus(c *cli.Context) error {
	app, err := buildApp(c)
	if err != nil {
		return err
	}

	fmt.Printf("Phase:     %s\n", app.manager.Phase())
	if thread := app.manager.ThreadID(); thread != "" {
		fmt.Printf("Thread:    %s\n", thread)
	} else {
		fmt.Println("Thread:    (none)")
	}
	if creds, ok := app.gate.Credentials(); ok {
		if exp, ok := creds.ExpiresAt(); ok {
			fmt.Printf("Token:     expires %s\n", exp.Local().Format("2006-01-02 15:04:05"))
		} else {
			fmt.Println("Token:     present")
		}
	} else {
		fmt.Println("Token:     not logged in")
	}
	fmt.Printf("Rows:      %d\n", len(app.manager.Rows()))
	thoughts := 0
	for _, at := range app.manager.Thoughts() {
		thoughts += len(at.Steps)
	}
	fmt.Printf("Thoughts:  %d\n", thoughts)
	if last := app.manager.LastError(); last != "" {
		fmt.Printf("Last err:  %s\n", last)
	}
	return nil
}

// ResetCommand returns the reset command
func ResetCommand() *cli.Command {
	return &cli.Command{
		Name:  "reset",
		Usage: "Discard the active session, keeping the stored credential",
		Action: func(c *cli.Context) error {
			app, err := buildApp(c)
			if err != nil {
				return err
			}
			if err := app.manager.Reset(); err != nil {
				return err
			}
			fmt.Println("Session cleared.")
			return nil
		},
	}
}

// printMappingTable renders the manager's current rows in display column
// order, one tier-annotated line per row.
func printMappingTable(app *appContext) {
	rows := app.manager.Rows()
	if len(rows) == 0 {
		return
	}
	cols := mapping.DeriveColumns(rows)

	w := tabwriter.NewWriter(os.Stdout, 2, 4, 2, ' ', 0)
	fmt.Fprint(w, "#")
	for _, col := range cols {
		fmt.Fprintf(w, "\t%s", col.Display)
	}
	fmt.Fprintln(w, "\tTier")
	for i, row := range rows {
		fmt.Fprintf(w, "%d", i)
		for _, col := range cols {
			fmt.Fprintf(w, "\t%s", row.Cell(col.Key))
		}
		tier := ""
		if score, ok := row.Confidence(); ok {
			tier = mapping.ClassifyConfidence(score).String()
		}
		fmt.Fprintf(w, "\t%s\n", tier)
	}
	w.Flush()
}
