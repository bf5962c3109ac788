package cmdutil

import (
	"context"
	"fmt"
	"github.com/briandowns/spinner"
	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/manifoldco/promptui"
	"lifeboat/client/internal/api"
	"lifeboat/internal/eventbus"
	"lifeboat/internal/types"
	"os"
	"strings"
	"time"
)

const dateFormat = "2006-01-02 15:04"

var (
	loadingSpinner = spinner.New(spinner.CharSets[14], time.Millisecond*100)
)

func PrintE(message string) {
	println()
	color.Red(message)
}

func Print(message string) {
	_, _ = fmt.Fprintln(os.Stdout, message)
}

func PrintS(message string) {
	println()
	color.Green(message)
}

func StartLoading(message string) {
	loadingSpinner.Prefix = message
	loadingSpinner.Start()
}

func StopLoading() {
	loadingSpinner.Stop()
}

func Table(header table.Row, rows []table.Row) {
	writer := table.NewWriter()
	writer.AppendHeader(header)
	for _, row := range rows {
		writer.AppendRow(row)
		writer.AppendSeparator()
	}
	Print("")
	Print(writer.Render())
}

func ParseID(value, what string) (uuid.UUID, error) {
	id, err := uuid.Parse(value)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid %s id: %q", what, value)
	}
	return id, nil
}

// Confirm asks a y/N question; anything but yes is a no.
func Confirm(label string) bool {
	p := promptui.Prompt{
		Label:     label,
		IsConfirm: true,
	}
	result, err := p.Run()
	if err != nil {
		return false
	}
	return strings.EqualFold(result, "y") || strings.EqualFold(result, "yes")
}

func Date(t *time.Time) string {
	if t == nil || t.IsZero() {
		return "-"
	}
	return t.Local().Format(dateFormat)
}

func Size(n int64) string {
	if n <= 0 {
		return "-"
	}
	return humanize.IBytes(uint64(n))
}

func Status(s string) string {
	switch s {
	case "completed":
		return color.GreenString(s)
	case "failed", "cancelled":
		return color.RedString(s)
	case "rolled_back":
		return color.YellowString(s)
	case "running", "downloading", "applying", "rolling_back":
		return color.CyanString(s)
	default:
		return s
	}
}

// Follow prints progress events for an operation until it finishes.
func Follow(ctx context.Context, svc api.Service, kind types.OperationKind, id uuid.UUID) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	events, err := svc.WatchProgress(ctx, kind, id)
	if err != nil {
		return err
	}

	StartLoading("Working... ")
	defer StopLoading()
	for ev := range events {
		switch ev.Type {
		case eventbus.Error:
			return fmt.Errorf("%s %s failed: %s", kind, id, ev.Message)
		case eventbus.Complete:
			loadingSpinner.Suffix = ""
			return nil
		default:
			loadingSpinner.Suffix = " " + describe(ev)
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return fmt.Errorf("progress stream for %s %s closed before it finished", kind, id)
}

func describe(ev eventbus.Event) string {
	var p types.Progress
	if len(ev.Data) == 0 || json.Unmarshal(ev.Data, &p) != nil {
		return ev.Message
	}
	return fmt.Sprintf("[%3d%%] %s", p.Progress, ev.Message)
}

// ServiceFunc builds the API service on first use so commands that need no
// server, such as config init, run without a saved config.
type ServiceFunc func() (api.Service, error)
