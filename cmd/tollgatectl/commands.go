package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/kode4food/tollgate/pkg/api"
)

var (
	ErrInvalidInput  = errors.New("input is not valid JSON")
	ErrNoDecision    = errors.New("one of --approve, --deny, or --data is required")
	ErrManyDecisions = errors.New("--approve, --deny, and --data are exclusive")
)

func (c *cli) healthCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check server health",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			res, err := c.client().Health(c.context(cmd))
			if err != nil {
				return err
			}
			if c.json {
				return c.printJSON(res)
			}
			_, _ = fmt.Fprintf(c.out, "%s %s %s\n",
				res.Service, res.Version, statusText(res.Status))
			return nil
		},
	}
}

func (c *cli) programsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "programs",
		Short: "List registered programs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			res, err := c.client().Programs(c.context(cmd))
			if err != nil {
				return err
			}
			if c.json {
				return c.printJSON(res)
			}
			for _, name := range res {
				_, _ = fmt.Fprintln(c.out, name)
			}
			return nil
		},
	}
}

func (c *cli) startCmd() *cobra.Command {
	var id, input, inputFile string

	cmd := &cobra.Command{
		Use:   "start <program>",
		Short: "Start an execution",
		Long:  "Start an execution of a registered program with an optional JSON input",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := readInput(input, inputFile)
			if err != nil {
				return err
			}
			st, err := c.client().Start(c.context(cmd),
				api.ProgramName(args[0]), api.ExecutionID(id), data,
			)
			if err != nil {
				return err
			}
			return c.printExecution(st)
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "execution id (generated when blank)")
	cmd.Flags().StringVarP(&input, "input", "i", "", "JSON input")
	cmd.Flags().StringVarP(&inputFile, "input-file", "f", "",
		"file holding the JSON input")
	return cmd
}

func (c *cli) statusCmd() *cobra.Command {
	var wait bool
	var interval time.Duration

	cmd := &cobra.Command{
		Use:   "status <execution-id>",
		Short: "Show an execution",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := c.context(cmd)
			cl := c.client()
			id := api.ExecutionID(args[0])
			for {
				st, err := cl.Get(ctx, id)
				if err != nil {
					return err
				}
				if !wait || st.IsTerminal() {
					return c.printExecution(st)
				}
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-time.After(interval):
				}
			}
		},
	}
	cmd.Flags().BoolVarP(&wait, "wait", "w", false,
		"poll until the execution finishes")
	cmd.Flags().DurationVar(&interval, "interval", time.Second,
		"poll interval used with --wait")
	return cmd
}

func (c *cli) eventsCmd() *cobra.Command {
	var from int64

	cmd := &cobra.Command{
		Use:   "events <execution-id>",
		Short: "List the journal events of an execution",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			evs, err := c.client().Events(c.context(cmd),
				api.ExecutionID(args[0]), from,
			)
			if err != nil {
				return err
			}
			if c.json {
				return c.printJSON(evs)
			}
			for _, ev := range evs {
				ts := time.UnixMilli(ev.Timestamp).Format(time.RFC3339Nano)
				_, _ = fmt.Fprintf(c.out, "%6d %-30s %-22s %s\n",
					ev.Sequence, ts, ev.Type, ev.Data)
			}
			return nil
		},
	}
	cmd.Flags().Int64Var(&from, "from", 0, "first sequence to list")
	return cmd
}

func (c *cli) resumeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "resume <execution-id>",
		Short: "Invoke an execution again",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := c.client().Resume(c.context(cmd),
				api.ExecutionID(args[0]),
			)
			if err != nil {
				return err
			}
			return c.printExecution(st)
		},
	}
}

func (c *cli) cancelCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <execution-id>",
		Short: "Cancel an execution",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := c.client().Cancel(c.context(cmd),
				api.ExecutionID(args[0]),
			)
			if err != nil {
				return err
			}
			return c.printExecution(st)
		},
	}
}

func (c *cli) callbackCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "callback <token>",
		Short: "Show a callback",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rec, err := c.client().Callback(c.context(cmd),
				api.Token(args[0]),
			)
			if err != nil {
				return err
			}
			if c.json {
				return c.printJSON(rec)
			}
			_, _ = fmt.Fprintf(c.out, "%-12s %s\n", "TOKEN", rec.Token)
			_, _ = fmt.Fprintf(c.out, "%-12s %s\n", "EXECUTION",
				rec.ExecutionID)
			_, _ = fmt.Fprintf(c.out, "%-12s %s\n", "LABEL", rec.Label)
			_, _ = fmt.Fprintf(c.out, "%-12s %s\n", "STATUS",
				statusText(rec.Status))
			_, _ = fmt.Fprintf(c.out, "%-12s %s\n", "EXPIRES",
				rec.TimeoutAt.Format(time.RFC3339))
			if rec.Payload != nil {
				_, _ = fmt.Fprintf(c.out, "%-12s %s\n", "PAYLOAD",
					rec.Payload.Data)
			}
			if rec.Error != "" {
				_, _ = fmt.Fprintf(c.out, "%-12s %s\n", "ERROR", rec.Error)
			}
			return nil
		},
	}
}

func (c *cli) resolveCmd() *cobra.Command {
	var approve, deny bool
	var data, schema string

	cmd := &cobra.Command{
		Use:   "resolve <token>",
		Short: "Resolve a callback",
		Long:  "Resolve a callback with an approval decision or an arbitrary JSON payload",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			payload, err := decision(approve, deny, data, schema)
			if err != nil {
				return err
			}
			res, err := c.client().Resolve(c.context(cmd),
				api.Token(args[0]), payload,
			)
			if err != nil {
				return err
			}
			return c.printSettled(res)
		},
	}
	cmd.Flags().BoolVar(&approve, "approve", false, "resolve as approved")
	cmd.Flags().BoolVar(&deny, "deny", false, "resolve as not approved")
	cmd.Flags().StringVarP(&data, "data", "d", "", "JSON resolution payload")
	cmd.Flags().StringVar(&schema, "schema", string(api.SchemaJSON),
		"schema of the --data payload")
	return cmd
}

func (c *cli) rejectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reject <token> <error>",
		Short: "Reject a callback with an error",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := c.client().Reject(c.context(cmd),
				api.Token(args[0]), args[1],
			)
			if err != nil {
				return err
			}
			return c.printSettled(res)
		},
	}
}

func readInput(input, file string) (json.RawMessage, error) {
	if file != "" {
		data, err := os.ReadFile(file)
		if err != nil {
			return nil, err
		}
		input = string(data)
	}
	if input == "" {
		return nil, nil
	}
	if !json.Valid([]byte(input)) {
		return nil, ErrInvalidInput
	}
	return json.RawMessage(input), nil
}

func decision(
	approve, deny bool, data, schema string,
) (api.Payload, error) {
	count := 0
	for _, set := range []bool{approve, deny, data != ""} {
		if set {
			count++
		}
	}
	switch {
	case count == 0:
		return api.Payload{}, ErrNoDecision
	case count > 1:
		return api.Payload{}, ErrManyDecisions
	case approve:
		return api.NewApproval(true), nil
	case deny:
		return api.NewApproval(false), nil
	}
	if !json.Valid([]byte(data)) {
		return api.Payload{}, ErrInvalidInput
	}
	return api.Payload{Schema: api.Schema(schema), Data: []byte(data)}, nil
}
