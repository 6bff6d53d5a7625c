package commands

import (
	"fmt"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/tildaslashalef/murmur/internal/app"
	"github.com/tildaslashalef/murmur/internal/utils"
)

// MemoryCommand returns the CLI command for long-term memory
func MemoryCommand() *cli.Command {
	return &cli.Command{
		Name:  "memory",
		Usage: "Inspect and manage long-term memory",
		Subcommands: []*cli.Command{
			{
				Name:      "remember",
				Usage:     "Store a fragment directly",
				ArgsUsage: "<content>",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "chat",
						Usage: "Chat ID to associate the fragment with",
					},
				},
				Action: rememberAction,
			},
			{
				Name:      "recall",
				Usage:     "Search memory for similar fragments",
				ArgsUsage: "<query>",
				Flags: []cli.Flag{
					&cli.IntFlag{
						Name:  "limit",
						Usage: "Maximum fragments to return",
					},
				},
				Action: recallAction,
			},
			{
				Name:      "forget",
				Usage:     "Delete a fragment",
				ArgsUsage: "<fragment-id>",
				Action:    forgetAction,
			},
			{
				Name:   "stats",
				Usage:  "Show how much is remembered",
				Action: memoryStatsAction,
			},
		},
	}
}

func rememberAction(c *cli.Context) error {
	application, err := app.FromContext(c)
	if err != nil {
		return err
	}

	content := strings.Join(c.Args().Slice(), " ")
	fragment, err := application.Memory.Remember(c.Context, c.String("chat"), content)
	if err != nil {
		return err
	}

	utils.PrintSuccess("Fragment remembered")
	utils.PrintKeyValueWithColor("ID", fragment.ID, utils.Theme.Accent)
	return nil
}

func recallAction(c *cli.Context) error {
	application, err := app.FromContext(c)
	if err != nil {
		return err
	}

	query := strings.Join(c.Args().Slice(), " ")
	if strings.TrimSpace(query) == "" {
		return fmt.Errorf("a query is required")
	}

	scored, err := application.Memory.Recall(c.Context, query, c.Int("limit"))
	if err != nil {
		return err
	}

	rows := make([][]string, 0, len(scored))
	for _, sf := range scored {
		rows = append(rows, []string{
			sf.Fragment.ID,
			fmt.Sprintf("%.2f", sf.Similarity),
			utils.Truncate(sf.Fragment.Content, 64),
		})
	}

	opts := utils.DefaultTableOptions()
	opts.Title = "Recalled Fragments"
	utils.PrintTable([]string{"ID", "Similarity", "Content"}, rows, opts)
	return nil
}

func forgetAction(c *cli.Context) error {
	application, err := app.FromContext(c)
	if err != nil {
		return err
	}

	id := c.Args().First()
	if id == "" {
		return fmt.Errorf("a fragment id is required")
	}
	if err := application.Memory.Forget(c.Context, id); err != nil {
		return err
	}
	utils.PrintSuccess("Fragment forgotten")
	return nil
}

func memoryStatsAction(c *cli.Context) error {
	application, err := app.FromContext(c)
	if err != nil {
		return err
	}

	count, err := application.Memory.Stats(c.Context)
	if err != nil {
		return err
	}
	utils.PrintKeyValueWithColor("Fragments stored", fmt.Sprintf("%d", count), utils.Theme.Info)
	return nil
}
