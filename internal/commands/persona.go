package commands

import (
	"fmt"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/tildaslashalef/murmur/internal/app"
	"github.com/tildaslashalef/murmur/internal/utils"
)

// PersonaCommand returns the CLI command for managing personas
func PersonaCommand() *cli.Command {
	return &cli.Command{
		Name:  "persona",
		Usage: "Manage chat personas",
		Subcommands: []*cli.Command{
			{
				Name:      "new",
				Usage:     "Create a persona",
				ArgsUsage: "<name> <system-prompt>",
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "default",
						Usage: "Make this the default persona",
					},
				},
				Action: newPersonaAction,
			},
			{
				Name:   "list",
				Usage:  "List personas",
				Action: listPersonasAction,
			},
			{
				Name:      "set-default",
				Usage:     "Set the default persona",
				ArgsUsage: "<persona-id>",
				Action:    setDefaultPersonaAction,
			},
			{
				Name:      "delete",
				Usage:     "Delete a persona",
				ArgsUsage: "<persona-id>",
				Action:    deletePersonaAction,
			},
		},
	}
}

func newPersonaAction(c *cli.Context) error {
	application, err := app.FromContext(c)
	if err != nil {
		return err
	}

	if c.NArg() < 2 {
		return fmt.Errorf("usage: murmur persona new <name> <system-prompt>")
	}
	name := c.Args().First()
	prompt := strings.Join(c.Args().Tail(), " ")

	p, err := application.Personas.Create(c.Context, name, prompt)
	if err != nil {
		return err
	}
	if c.Bool("default") {
		if err := application.Personas.SetDefault(c.Context, p.ID); err != nil {
			return err
		}
	}

	utils.PrintSuccess("Persona created")
	utils.PrintKeyValueWithColor("ID", p.ID, utils.Theme.Accent)
	return nil
}

func listPersonasAction(c *cli.Context) error {
	application, err := app.FromContext(c)
	if err != nil {
		return err
	}

	personas, err := application.Personas.List(c.Context)
	if err != nil {
		return err
	}

	rows := make([][]string, 0, len(personas))
	for _, p := range personas {
		def := ""
		if p.IsDefault {
			def = "✓"
		}
		rows = append(rows, []string{
			p.ID,
			p.Name,
			utils.Truncate(p.SystemPrompt, 56),
			def,
		})
	}

	opts := utils.DefaultTableOptions()
	opts.Title = "Personas"
	utils.PrintTable([]string{"ID", "Name", "System Prompt", "Default"}, rows, opts)
	return nil
}

func setDefaultPersonaAction(c *cli.Context) error {
	application, err := app.FromContext(c)
	if err != nil {
		return err
	}

	id := c.Args().First()
	if id == "" {
		return fmt.Errorf("a persona id is required")
	}
	if err := application.Personas.SetDefault(c.Context, id); err != nil {
		return err
	}
	utils.PrintSuccess("Default persona updated")
	return nil
}

func deletePersonaAction(c *cli.Context) error {
	application, err := app.FromContext(c)
	if err != nil {
		return err
	}

	id := c.Args().First()
	if id == "" {
		return fmt.Errorf("a persona id is required")
	}
	if err := application.Personas.Delete(c.Context, id); err != nil {
		return err
	}
	utils.PrintSuccess("Persona deleted")
	return nil
}
