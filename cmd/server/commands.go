package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"fieldbook/internal/database"
	"fieldbook/internal/dates"
	"fieldbook/internal/export"
	"fieldbook/internal/store"
)

type ExportCmd struct {
	Year  int    `help:"Calendar year. Defaults to the current one."`
	Month int    `help:"Month 1-12. Defaults to the current one."`
	Dir   string `help:"Output directory. Defaults to exports.path." type:"path"`
}

func (c *ExportCmd) Run(g *Globals) error {
	a, err := openApp(g, "export")
	if err != nil {
		return err
	}
	defer a.Close()

	now := time.Now().In(a.loc)
	year, month := now.Year(), now.Month()
	if c.Year != 0 {
		year = c.Year
	}
	if c.Month != 0 {
		if c.Month < 1 || c.Month > 12 {
			return fmt.Errorf("month must be between 1 and 12, got %d", c.Month)
		}
		month = time.Month(c.Month)
	}
	dir := c.Dir
	if dir == "" {
		dir = a.cfg.Exports.Path
	}

	exp := export.New(store.New(a.db, nil, &a.logger), a.loc, &a.logger)
	path, err := exp.SaveFile(context.Background(), dir, year, month)
	if err != nil {
		return err
	}
	fmt.Println(path)
	return nil
}

type BackupCmd struct{}

func (c *BackupCmd) Run(g *Globals) error {
	a, err := openApp(g, "backup")
	if err != nil {
		return err
	}
	defer a.Close()

	svc := database.NewBackupService(a.db, a.cfg.Database.Path, a.cfg.Backup, &a.logger)
	path, err := svc.PerformBackup(context.Background())
	if err != nil {
		return err
	}
	removed := svc.CleanupOldBackups()
	fmt.Printf("%s (pruned %d)\n", path, removed)
	return nil
}

type RequeueCmd struct{}

func (c *RequeueCmd) Run(g *Globals) error {
	a, err := openApp(g, "notifications")
	if err != nil {
		return err
	}
	defer a.Close()

	n, err := a.db.RequeueFailedNotifications(context.Background())
	if err != nil {
		return err
	}
	a.logger.Info().Int64("count", n).Msg("failed notifications requeued")
	fmt.Printf("%d notification(s) requeued\n", n)
	return nil
}

type FailedCmd struct{}

func (c *FailedCmd) Run(g *Globals) error {
	a, err := openApp(g, "notifications")
	if err != nil {
		return err
	}
	defer a.Close()

	failed, err := a.db.GetFailedNotifications(context.Background())
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tEVENT\tBOOKING\tRETRIES\tCREATED\tLAST ERROR")
	for _, n := range failed {
		lastErr := ""
		if n.LastError != nil {
			lastErr = *n.LastError
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%d\t%s\t%s\n", n.ID, n.Event, n.BookingID, n.RetryCount, n.CreatedAt.In(a.loc).Format(time.DateTime), lastErr)
	}
	return tw.Flush()
}

type SheetsSyncCmd struct {
	From string `help:"First date, YYYY-MM-DD. Defaults to the start of last month."`
	To   string `help:"Last date, YYYY-MM-DD. Defaults to three months ahead."`
}

func (c *SheetsSyncCmd) Run(g *Globals) error {
	a, err := openApp(g, "sheets")
	if err != nil {
		return err
	}
	defer a.Close()

	if !a.cfg.Notifications.Sheets.Enabled {
		return fmt.Errorf("notifications.sheets is not enabled")
	}

	today := dates.Today(time.Now().In(a.loc))
	start := dates.MonthStart(today).AddDate(0, -1, 0)
	end := dates.MonthEnd(today.AddDate(0, 3, 0))
	if c.From != "" {
		if start, err = dates.Parse(c.From, a.loc); err != nil {
			return fmt.Errorf("--from: %w", err)
		}
	}
	if c.To != "" {
		if end, err = dates.Parse(c.To, a.loc); err != nil {
			return fmt.Errorf("--to: %w", err)
		}
	}

	ctx := context.Background()
	sheets, err := a.sheets(ctx)
	if err != nil {
		return err
	}
	rows, err := a.db.GetBookingHistory(ctx, start, end)
	if err != nil {
		return err
	}
	if err := sheets.ReplaceBookings(ctx, rows); err != nil {
		return err
	}
	a.logger.Info().Int("rows", len(rows)).Str("from", dates.Format(start)).Str("to", dates.Format(end)).Msg("sheets mirror rewritten")
	fmt.Printf("%d booking(s) written\n", len(rows))
	return nil
}
