package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/tazhate/remindbot/internal/calendar"
	"github.com/tazhate/remindbot/internal/clients/reminders"
	"github.com/tazhate/remindbot/internal/domain"
	"github.com/tazhate/remindbot/internal/humanize"
	"github.com/tazhate/remindbot/internal/service"
)

const (
	requestTimeout = 30 * time.Second
	exportPageSize = 100
	// exportMaxPages bounds export against a server that never stops paging.
	exportMaxPages = 50
)

const displayTime = "2006-01-02 15:04"

// apiError turns a client failure into the localized message, keeping the
// original error for errors.Is.
func apiError(err error, op reminders.Operation, t humanize.Translator) error {
	if msg, ok := reminders.FirstValidationMessage(err); ok {
		return fmt.Errorf("%s: %w", msg, err)
	}
	key := reminders.ErrorKey(err)
	if op != "" {
		key = reminders.MutationMessageKey(err, op)
	}
	return fmt.Errorf("%s: %w", t.T(key, nil), err)
}

func parseReminderID(s string) (uuid.UUID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid reminder id %q", s)
	}
	return id, nil
}

func nextRunText(r *domain.Reminder, now time.Time) string {
	next := service.NextRun(r, now)
	if next == nil {
		return "-"
	}
	return next.In(r.Location()).Format(displayTime)
}

func (a *app) listCmd() *cobra.Command {
	var (
		page   int
		sortBy string
		order  string
	)
	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List reminders",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			sort := domain.SortSettings{SortBy: domain.SortBy(sortBy), Order: domain.SortOrder(order)}
			if err := sort.Validate(); err != nil {
				return err
			}
			c, err := a.client()
			if err != nil {
				return err
			}
			now, err := a.reference()
			if err != nil {
				return err
			}
			t := a.translator()

			ctx, cancel := context.WithTimeout(cmd.Context(), requestTimeout)
			defer cancel()
			res, err := c.List(ctx, domain.ListQuery{Page: page, Sort: sort})
			if err != nil {
				return apiError(err, "", t)
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 3, ' ', 0)
			fmt.Fprintln(w, "ID\tStatus\tNext\tText")
			for _, dto := range res.Reminders {
				r, err := domain.ReminderFromResponse(dto)
				if err != nil {
					return fmt.Errorf("decode reminder %s: %w", dto.ID, err)
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
					r.ID,
					humanize.StatusLabel(string(r.Status), t),
					nextRunText(r, now),
					r.Text,
				)
			}
			if err := w.Flush(); err != nil {
				return err
			}
			if res.HasNext {
				fmt.Fprintf(cmd.OutOrStdout(), "more: --page %d\n", max(page, 1)+1)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&page, "page", 1, "page number")
	cmd.Flags().StringVar(&sortBy, "sort", string(domain.DefaultSort.SortBy), "sort field: CREATED_AT or CHANGED_AT")
	cmd.Flags().StringVar(&order, "order", string(domain.DefaultSort.Order), "sort order: ASC or DESC")
	return cmd
}

func (a *app) getCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get ID",
		Short: "Show one reminder with its schedules",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseReminderID(args[0])
			if err != nil {
				return err
			}
			c, err := a.client()
			if err != nil {
				return err
			}
			now, err := a.reference()
			if err != nil {
				return err
			}
			t := a.translator()

			ctx, cancel := context.WithTimeout(cmd.Context(), requestTimeout)
			defer cancel()
			dto, err := c.Get(ctx, id)
			if err != nil {
				return apiError(err, "", t)
			}
			r, err := domain.ReminderFromResponse(*dto)
			if err != nil {
				return err
			}
			printReminder(cmd.OutOrStdout(), r, now, t)
			return nil
		},
	}
}

func printReminder(out io.Writer, r *domain.Reminder, now time.Time, t humanize.Translator) {
	fmt.Fprintf(out, "ID:        %s\n", r.ID)
	fmt.Fprintf(out, "Text:      %s\n", r.Text)
	fmt.Fprintf(out, "Status:    %s\n", humanize.StatusLabel(string(r.Status), t))
	fmt.Fprintf(out, "Time zone: %s\n", humanize.TimezoneLabel(r.TimeZone, now))
	fmt.Fprintf(out, "Next:      %s\n", nextRunText(r, now))
	if msg := humanize.StatusMessage(string(r.Status), t); msg != "" {
		fmt.Fprintf(out, "\n%s\n", msg)
	}
	if len(r.Schedules) == 0 {
		return
	}
	fmt.Fprintln(out, "\nSchedules:")
	for _, s := range r.Schedules {
		line := "  - " + humanize.Describe(s.Rule, t)
		if s.IsExpired(r.TimeZone, now) {
			line += " (expired)"
		}
		if s.TimeZone != "" && s.TimeZone != r.TimeZone {
			line += " [" + humanize.TimezoneLabel(s.TimeZone, now) + "]"
		}
		fmt.Fprintln(out, line)
	}
}

// statusEvents maps the status commands to the lifecycle event and the state
// the server is asked for.
var statusEvents = map[reminders.Operation]struct {
	event domain.Event
	state domain.State
}{
	reminders.OpPause:    {domain.EventPause, domain.StatePaused},
	reminders.OpActivate: {domain.EventActivate, domain.StateActive},
	reminders.OpDraft:    {domain.EventConvertToDraft, domain.StateDraft},
}

func (a *app) statusCmd(use, short string, op reminders.Operation) *cobra.Command {
	change := statusEvents[op]
	return &cobra.Command{
		Use:   use + " ID",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseReminderID(args[0])
			if err != nil {
				return err
			}
			c, err := a.client()
			if err != nil {
				return err
			}
			t := a.translator()

			ctx, cancel := context.WithTimeout(cmd.Context(), requestTimeout)
			defer cancel()
			current, err := c.Get(ctx, id)
			if err != nil {
				return apiError(err, op, t)
			}
			if _, err := domain.Transition(current.Status, change.event); err != nil {
				return fmt.Errorf("%s: %w", t.T("errors.illegalTransition", nil), err)
			}

			res, err := c.ChangeStatus(ctx, id, change.state)
			if err != nil {
				return apiError(err, op, t)
			}
			status := change.state
			if res != nil && res.Result() != nil {
				status = res.Result().Status
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", id, humanize.StatusLabel(string(status), t))
			return nil
		},
	}
}

func (a *app) deleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "delete ID",
		Aliases: []string{"rm"},
		Short:   "Delete a reminder",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseReminderID(args[0])
			if err != nil {
				return err
			}
			c, err := a.client()
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), requestTimeout)
			defer cancel()
			if err := c.Delete(ctx, id); err != nil {
				return apiError(err, reminders.OpDelete, a.translator())
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: deleted\n", id)
			return nil
		},
	}
}

// fetchAll walks every page of the account's reminders.
func fetchAll(ctx context.Context, c *reminders.Client) ([]*domain.Reminder, error) {
	var out []*domain.Reminder
	for page := 1; page <= exportMaxPages; page++ {
		res, err := c.List(ctx, domain.ListQuery{Page: page, PageSize: exportPageSize})
		if err != nil {
			return nil, err
		}
		for _, dto := range res.Reminders {
			r, err := domain.ReminderFromResponse(dto)
			if err != nil {
				return nil, fmt.Errorf("decode reminder %s: %w", dto.ID, err)
			}
			out = append(out, r)
		}
		if !res.HasNext {
			return out, nil
		}
	}
	return nil, errors.New("too many pages")
}

func (a *app) exportCmd() *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "export-ics",
		Short: "Export active and ended reminders as an iCalendar file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := a.client()
			if err != nil {
				return err
			}
			now, err := a.reference()
			if err != nil {
				return err
			}
			t := a.translator()

			ctx, cancel := context.WithTimeout(cmd.Context(), requestTimeout)
			defer cancel()
			list, err := fetchAll(ctx, c)
			if err != nil {
				return apiError(err, "", t)
			}
			cal := calendar.Export(list, t, now)

			out := cmd.OutOrStdout()
			if output != "" && output != "-" {
				f, err := os.Create(output)
				if err != nil {
					return fmt.Errorf("create %s: %w", output, err)
				}
				defer f.Close()
				out = f
			}
			if err := calendar.Encode(out, cal); err != nil {
				return fmt.Errorf("encode calendar: %w", err)
			}
			if output != "" && output != "-" {
				fmt.Fprintf(cmd.ErrOrStderr(), "wrote %d reminders to %s\n", len(list), output)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "write to file instead of stdout")
	return cmd
}
