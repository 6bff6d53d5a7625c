package commands

import (
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/tildaslashalef/murmur/internal/app"
	"github.com/tildaslashalef/murmur/internal/config"
	"github.com/tildaslashalef/murmur/internal/loggy"
	"github.com/tildaslashalef/murmur/internal/utils"
)

// SyncCommand returns the CLI command for managing the sync layer
func SyncCommand() *cli.Command {
	return &cli.Command{
		Name:  "sync",
		Usage: "Sync local data with the Murmur server",
		Subcommands: []*cli.Command{
			{
				Name:        "now",
				Usage:       "Reconcile all pending writes",
				Description: "Delivers every journaled write to the server, retrying failed groups from scratch",
				Action:      syncNowAction,
			},
			{
				Name:   "status",
				Usage:  "Show sync health",
				Action: syncStatusAction,
			},
			{
				Name:  "link",
				Usage: "Link to a Murmur server",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "token",
						Usage:    "Personal access token from the web interface",
						Required: true,
					},
					&cli.StringFlag{
						Name:  "server",
						Usage: "Server URL",
					},
					&cli.StringFlag{
						Name:  "name",
						Usage: "A name for this device (e.g. 'Work Laptop')",
					},
				},
				Action: linkAction,
			},
			{
				Name:   "unlink",
				Usage:  "Unlink from the server and disable sync",
				Action: unlinkAction,
			},
			{
				Name:  "config",
				Usage: "Show or change sync settings",
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "enabled",
						Usage: "Enable or disable syncing",
					},
				},
				Action: syncConfigAction,
			},
		},
	}
}

// syncNowAction reconciles every group with journaled writes
func syncNowAction(c *cli.Context) error {
	application, err := app.FromContext(c)
	if err != nil {
		return err
	}
	if application.Sync == nil {
		return fmt.Errorf("sync is not configured. Use 'murmur sync link --token <token>' to configure")
	}

	stopEngine := startEngine(c.Context, application)
	defer stopEngine()

	loggy.Info("Starting manual sync")
	if err := application.Sync.SyncNow(c.Context); err != nil {
		utils.PrintError("Some writes could not be delivered: " + err.Error())
		utils.PrintInfo("They stay journaled; run 'murmur sync now' again to retry")
		return err
	}

	utils.PrintSuccess("All pending writes delivered")
	return nil
}

func syncStatusAction(c *cli.Context) error {
	application, err := app.FromContext(c)
	if err != nil {
		return err
	}
	if application.Sync == nil {
		fmt.Println("Sync is not configured")
		return nil
	}

	stopEngine := startEngine(c.Context, application)
	defer stopEngine()

	health, err := application.Sync.Health(c.Context)
	if err != nil {
		return fmt.Errorf("reading sync health: %w", err)
	}

	utils.PrintHeading("Sync Status")
	online := "offline"
	color := utils.Theme.Warning
	if health.Online {
		online = "online"
		color = utils.Theme.Success
	}
	utils.PrintKeyValueWithColor("Connectivity", online, color)
	utils.PrintKeyValue("Server", application.Config.Server.URL)
	utils.PrintKeyValue("Device", application.Config.Server.DeviceName)
	utils.PrintKeyValue("Pending groups", fmt.Sprintf("%d", health.PendingGroups))
	utils.PrintKeyValue("Queued events", fmt.Sprintf("%d", health.QueuedEvents))

	if len(health.Subscriptions) > 0 {
		rows := make([][]string, 0, len(health.Subscriptions))
		for _, handle := range health.Subscriptions {
			rows = append(rows, []string{handle.Topic, string(handle.State), utils.Truncate(handle.LastError, 48)})
		}
		opts := utils.DefaultTableOptions()
		opts.Title = "Subscriptions"
		utils.PrintTable([]string{"Topic", "State", "Error"}, rows, opts)
	}
	return nil
}

// linkAction stores the server connection and enables sync
func linkAction(c *cli.Context) error {
	application, err := app.FromContext(c)
	if err != nil {
		return err
	}

	token := c.String("token")
	if token == "" {
		return fmt.Errorf("token is required")
	}

	if server := c.String("server"); server != "" {
		application.Config.Server.URL = server
	}
	if application.Config.Server.URL == "" {
		return fmt.Errorf("a server URL is required; pass --server or set MURMUR_SERVER_URL")
	}

	deviceName := c.String("name")
	if deviceName == "" {
		deviceName = utils.GenerateDeviceName()
	}

	application.Config.Server.Token = token
	application.Config.Server.DeviceName = deviceName
	application.Config.Server.Enabled = true

	if err := config.SaveSyncSettings(c.Context, application.Config, application.Settings); err != nil {
		return fmt.Errorf("saving sync settings: %w", err)
	}

	utils.PrintSuccess("Linked to " + application.Config.Server.URL + " as " + deviceName)
	return nil
}

// unlinkAction removes the server connection and disables sync
func unlinkAction(c *cli.Context) error {
	application, err := app.FromContext(c)
	if err != nil {
		return err
	}

	application.Config.Server.Token = ""
	application.Config.Server.Enabled = false

	if err := config.SaveSyncSettings(c.Context, application.Config, application.Settings); err != nil {
		return fmt.Errorf("saving sync settings: %w", err)
	}

	utils.PrintSuccess("Unlinked from the Murmur server")
	return nil
}

func syncConfigAction(c *cli.Context) error {
	application, err := app.FromContext(c)
	if err != nil {
		return err
	}

	if c.IsSet("enabled") {
		application.Config.Server.Enabled = c.Bool("enabled")
		if err := config.SaveSyncSettings(c.Context, application.Config, application.Settings); err != nil {
			return fmt.Errorf("saving sync settings: %w", err)
		}
		utils.PrintKeyValueWithColor("Sync enabled", fmt.Sprintf("%v", application.Config.Server.Enabled), utils.Theme.Info)
		return nil
	}

	utils.PrintHeading("Current Sync Configuration")
	utils.PrintKeyValueWithColor("Server URL", application.Config.Server.URL, utils.Theme.Info)
	utils.PrintKeyValueWithColor("Device Name", application.Config.Server.DeviceName, utils.Theme.Info)
	utils.PrintKeyValueWithColor("Sync enabled", fmt.Sprintf("%v", application.Config.Server.Enabled), utils.Theme.Info)
	return nil
}
