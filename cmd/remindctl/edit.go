package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"slices"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/tazhate/remindbot/internal/clients/reminders"
	"github.com/tazhate/remindbot/internal/domain"
	"github.com/tazhate/remindbot/internal/rule"
)

var errInvalidReminder = errors.New("reminder is invalid")

// readSchedules turns rule arguments into unsaved schedules numbered from
// offset. Parse problems are returned as validation errors.
func readSchedules(args []string, offset int, stdin io.Reader) ([]domain.Schedule, rule.ValidationErrors, error) {
	var (
		out  []domain.Schedule
		errs rule.ValidationErrors
	)
	for i, arg := range args {
		w, err := readRule(arg, stdin)
		if err != nil {
			return nil, nil, err
		}
		r, perrs := rule.ParseWire(w)
		if len(perrs) > 0 {
			errs = append(errs, perrs.Prefix(fmt.Sprintf("schedules.%d.rule", offset+i))...)
			continue
		}
		out = append(out, domain.NewSchedule(r, ""))
	}
	return out, errs, nil
}

// fetchReminder loads one reminder and converts it to the domain model.
func fetchReminder(ctx context.Context, c *reminders.Client, id uuid.UUID) (*domain.Reminder, error) {
	dto, err := c.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return domain.ReminderFromResponse(*dto)
}

func (a *app) createCmd() *cobra.Command {
	var (
		text  string
		rules []string
	)
	cmd := &cobra.Command{
		Use:   "create --text TEXT [--rule RULE]...",
		Short: "Create a reminder; without rules it is saved as a draft",
		Long: `Create a reminder in the --tz zone. Each --rule adds one schedule.
` + ruleArgHelp,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			t := a.translator()
			schedules, errs, err := readSchedules(rules, 0, cmd.InOrStdin())
			if err != nil {
				return err
			}
			if len(errs) > 0 {
				printErrors(cmd.OutOrStdout(), errs, t)
				return errInvalidReminder
			}
			now, err := a.reference()
			if err != nil {
				return err
			}
			tz := a.v.GetString("tz")
			if errs := domain.ValidateCreate(text, tz, schedules, now); len(errs) > 0 {
				printErrors(cmd.OutOrStdout(), errs, t)
				return errInvalidReminder
			}
			c, err := a.client()
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), requestTimeout)
			defer cancel()
			id, err := c.Create(ctx, domain.NewCreateRequest(text, tz, schedules))
			if err != nil {
				return apiError(err, reminders.OpCreate, t)
			}
			if id == uuid.Nil {
				return fmt.Errorf("create reminder: %w", reminders.ErrMalformedResponse)
			}
			r, err := fetchReminder(ctx, c, id)
			if err != nil {
				return apiError(err, "", t)
			}
			printReminder(cmd.OutOrStdout(), r, now, t)
			return nil
		},
	}
	cmd.Flags().StringVar(&text, "text", "", "reminder text")
	cmd.Flags().StringArrayVar(&rules, "rule", nil, "schedule rule, may be repeated")
	_ = cmd.MarkFlagRequired("text")
	return cmd
}

func (a *app) editCmd() *cobra.Command {
	var (
		text     string
		rules    []string
		add      []string
		clearAll bool
	)
	cmd := &cobra.Command{
		Use:   "edit ID",
		Short: "Change the text or schedules of a reminder",
		Long: `--rule replaces every schedule, --add appends to the current ones and
--clear removes them all, turning the reminder into a draft.
` + ruleArgHelp,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseReminderID(args[0])
			if err != nil {
				return err
			}
			textChanged := cmd.Flags().Changed("text")
			if !textChanged && len(rules) == 0 && len(add) == 0 && !clearAll {
				return errors.New("nothing to change: pass --text, --rule, --add or --clear")
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
			current, err := fetchReminder(ctx, c, id)
			if err != nil {
				return apiError(err, reminders.OpUpdate, t)
			}
			if !domain.CanEdit(current.Status) {
				return errors.New(t.T("errors.editLocked", nil))
			}

			newText := current.Text
			if textChanged {
				newText = text
			}
			edited := slices.Clone(current.Schedules)
			if clearAll || len(rules) > 0 {
				edited = nil
			}
			fresh, errs, err := readSchedules(slices.Concat(rules, add), len(edited), cmd.InOrStdin())
			if err != nil {
				return err
			}
			if len(errs) > 0 {
				printErrors(cmd.OutOrStdout(), errs, t)
				return errInvalidReminder
			}
			edited = append(edited, fresh...)
			if current.Status == domain.StateEnded {
				edited = domain.FilterExpired(edited, current.TimeZone, now)
			}
			if errs := domain.ValidateUpdate(newText, current.TimeZone, edited, now); len(errs) > 0 {
				printErrors(cmd.OutOrStdout(), errs, t)
				return errInvalidReminder
			}
			if !domain.HasChanges(current, newText, edited) {
				fmt.Fprintln(cmd.OutOrStdout(), t.T("bot.noChanges", nil))
				return nil
			}
			added := 0
			for _, s := range edited {
				if s.IsNew() {
					added++
				}
			}
			if _, err := domain.StateAfterEdit(current.Status, len(edited)-added, added); err != nil {
				return fmt.Errorf("%s: %w", t.T("errors.illegalTransition", nil), err)
			}

			res, err := c.Update(ctx, id, domain.BuildUpdate(current, newText, edited))
			if err != nil {
				return apiError(err, reminders.OpUpdate, t)
			}
			var r *domain.Reminder
			if res != nil && res.UpdatedReminder.ID != uuid.Nil {
				r, err = domain.ReminderFromResponse(res.UpdatedReminder)
			} else {
				r, err = fetchReminder(ctx, c, id)
			}
			if err != nil {
				return apiError(err, "", t)
			}
			printReminder(cmd.OutOrStdout(), r, now, t)
			return nil
		},
	}
	cmd.Flags().StringVar(&text, "text", "", "new reminder text")
	cmd.Flags().StringArrayVar(&rules, "rule", nil, "replace the schedules, may be repeated")
	cmd.Flags().StringArrayVar(&add, "add", nil, "add a schedule, may be repeated")
	cmd.Flags().BoolVar(&clearAll, "clear", false, "remove every schedule")
	cmd.MarkFlagsMutuallyExclusive("rule", "add", "clear")
	return cmd
}
