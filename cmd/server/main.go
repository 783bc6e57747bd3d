package main

import (
	"fmt"
	"os"

	"github.com/alecthomas/kong"
)

var version = "dev"

// Globals are the flags shared by every command.
type Globals struct {
	Config string `help:"Config file path." type:"path" default:"configs/config.yaml" env:"CONFIG_PATH"`
}

var CLI struct {
	Globals

	Version kong.VersionFlag `help:"Print the version and exit."`

	Serve  ServeCmd  `cmd:"" help:"Run the booking API, notification worker and background jobs." default:"1"`
	Export ExportCmd `cmd:"" help:"Write a month's schedule workbook to disk."`
	Backup BackupCmd `cmd:"" help:"Take a database backup now and prune old ones."`

	Notifications struct {
		Requeue RequeueCmd `cmd:"" help:"Move failed notifications back to pending."`
		Failed  FailedCmd  `cmd:"" help:"List notifications that exhausted their retries."`
	} `cmd:"" help:"Inspect the notification outbox."`

	Sheets struct {
		Sync SheetsSyncCmd `cmd:"" help:"Rewrite the bookings tab of the mirror spreadsheet."`
	} `cmd:"" help:"Manage the Google Sheets mirror."`
}

func main() {
	ctx := kong.Parse(&CLI,
		kong.Name("fieldbook"),
		kong.Description("Field survey booking service"),
		kong.UsageOnError(),
		kong.Vars{"version": version},
	)

	if err := ctx.Run(&CLI.Globals); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
