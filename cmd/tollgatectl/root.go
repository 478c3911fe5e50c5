package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"maps"
	"os"
	"slices"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	app "github.com/kode4food/tollgate"
	"github.com/kode4food/tollgate/internal/client"
	"github.com/kode4food/tollgate/pkg/api"
)

type cli struct {
	server  string
	timeout time.Duration
	json    bool
	out     io.Writer
}

const (
	defaultServer = "http://localhost:8080"
	serverEnv     = "TOLLGATE_URL"
)

var (
	successStyle = color.New(color.FgGreen)
	errorStyle   = color.New(color.FgRed)
	warningStyle = color.New(color.FgYellow)
	infoStyle    = color.New(color.FgCyan)
)

func newRootCmd(out io.Writer) *cobra.Command {
	c := &cli{out: out}

	root := &cobra.Command{
		Use:           "tollgatectl",
		Short:         "Control a tollgate server",
		Long:          "Start, inspect, and settle durable executions on a tollgate server",
		Version:       app.Version,
		SilenceUsage:  true,
	}

	server := os.Getenv(serverEnv)
	if server == "" {
		server = defaultServer
	}
	flags := root.PersistentFlags()
	flags.StringVarP(&c.server, "server", "s", server,
		"tollgate server URL (env "+serverEnv+")")
	flags.DurationVar(&c.timeout, "timeout", client.DefaultTimeout,
		"request timeout")
	flags.BoolVar(&c.json, "json", false, "print raw JSON responses")

	root.AddCommand(
		c.healthCmd(),
		c.programsCmd(),
		c.startCmd(),
		c.statusCmd(),
		c.eventsCmd(),
		c.resumeCmd(),
		c.cancelCmd(),
		c.callbackCmd(),
		c.resolveCmd(),
		c.rejectCmd(),
	)
	return root
}

func (c *cli) client() *client.Client {
	return client.NewClient(c.server, c.timeout)
}

func (c *cli) context(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

func (c *cli) printJSON(v any) error {
	enc := json.NewEncoder(c.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func (c *cli) printExecution(st *api.ExecutionState) error {
	if c.json {
		return c.printJSON(st)
	}
	_, _ = fmt.Fprintf(c.out, "%-12s %s\n", "EXECUTION", st.ID)
	_, _ = fmt.Fprintf(c.out, "%-12s %s\n", "PROGRAM", st.Program)
	_, _ = fmt.Fprintf(c.out, "%-12s %s\n", "STATUS", statusText(st.Status))
	if st.Error != "" {
		_, _ = fmt.Fprintf(c.out, "%-12s %s (%s)\n", "ERROR",
			errorStyle.Sprint(st.Error), st.ErrorType)
	}
	if !st.ResumeAt.IsZero() {
		_, _ = fmt.Fprintf(c.out, "%-12s %s\n", "RESUME AT",
			st.ResumeAt.Format(time.RFC3339))
	}
	if st.Result != nil {
		_, _ = fmt.Fprintf(c.out, "%-12s %s\n", "RESULT", st.Result.Data)
	}
	for _, name := range slices.Sorted(maps.Keys(st.Steps)) {
		step := st.Steps[name]
		_, _ = fmt.Fprintf(c.out, "%-12s %s %s (attempts %d)\n", "STEP",
			name, step.Status, step.Attempts)
	}
	for _, label := range slices.Sorted(maps.Keys(st.Callbacks)) {
		ref := st.Callbacks[label]
		_, _ = fmt.Fprintf(c.out, "%-12s %s %s (expires %s)\n", "CALLBACK",
			label, ref.Token, ref.TimeoutAt.Format(time.RFC3339))
	}
	return nil
}

func (c *cli) printSettled(res *api.SettledResponse) error {
	if c.json {
		return c.printJSON(res)
	}
	rec := res.Callback
	if res.AlreadySettled {
		_, _ = fmt.Fprintf(c.out, "%s callback %s was already %s\n",
			warningStyle.Sprint("•"), rec.Token, rec.Status)
		return nil
	}
	_, _ = fmt.Fprintf(c.out, "%s callback %s %s\n",
		successStyle.Sprint("✓"), rec.Token, rec.Status)
	return nil
}

func statusText[T ~string](status T) string {
	switch s := string(status); s {
	case string(api.ExecutionSucceeded), string(api.CallbackResolved):
		return successStyle.Sprint("✓ " + s)
	case string(api.ExecutionFailed), string(api.ExecutionTimedOut),
		string(api.CallbackExpired):
		return errorStyle.Sprint("✗ " + s)
	case string(api.ExecutionSuspended), string(api.CallbackAwaiting):
		return warningStyle.Sprint("⚠ " + s)
	default:
		return infoStyle.Sprint("• " + s)
	}
}
