package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/kiranshivaraju/stager/internal/client"
	"github.com/kiranshivaraju/stager/internal/poller"
	"github.com/kiranshivaraju/stager/pkg/models"
	"github.com/spf13/cobra"
)

// watchOptions configures how long and how often a job is followed.
type watchOptions struct {
	interval time.Duration
	max      time.Duration
}

func (w *watchOptions) bind(cmd *cobra.Command, defaultInterval time.Duration) {
	cmd.Flags().DurationVar(&w.interval, "interval", defaultInterval, "Delay between status checks")
	cmd.Flags().DurationVar(&w.max, "max-wait", 0, "Give up after this long (0 waits forever)")
}

func (w *watchOptions) pollerOptions(out io.Writer) []poller.Option {
	return []poller.Option{
		poller.WithInterval(w.interval),
		poller.WithMaxDuration(w.max),
		poller.WithErrorHandler(func(err error) {
			fmt.Fprintf(out, "warning: %v\n", err)
		}),
	}
}

func newJobsCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "Create, inspect and cancel staging jobs",
	}
	cmd.AddCommand(
		newJobsCreateCmd(opts),
		newJobsGetCmd(opts),
		newJobsListCmd(opts),
		newJobsCancelCmd(opts),
		newJobsWatchCmd(opts),
	)
	return cmd
}

func newJobsCreateCmd(opts *rootOptions) *cobra.Command {
	var (
		file  string
		req   client.CreateJobRequest
		room  string
		style string
		res   string
		watch bool
		wo    watchOptions
	)
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Submit a staging job from a photo file or URL",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if file == "" && req.URL == "" {
				return fmt.Errorf("one of --file or --url is required")
			}
			req.RoomType = models.RoomType(room)
			req.Style = models.StyleID(style)
			req.Resolution = models.Resolution(res)

			c := opts.client()
			var (
				job *models.Job
				err error
			)
			if file != "" {
				f, ferr := os.Open(file)
				if ferr != nil {
					return fmt.Errorf("open photo: %w", ferr)
				}
				defer f.Close()
				job, err = c.CreateJobUpload(cmd.Context(), req, filepath.Base(file), contentTypeOf(file), f)
			} else {
				job, err = c.CreateJob(cmd.Context(), req)
			}
			if errors.Is(err, client.ErrInsufficientCredits) {
				return fmt.Errorf("%w; check the balance with 'stagerctl credits'", err)
			}
			if err != nil {
				return err
			}

			if !watch {
				return printJob(cmd, opts, job)
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "job %s submitted (cost %d)\n", job.ID, job.Cost)
			return watchJob(cmd, opts, c, job.ID, wo)
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "Photo to upload (wins over --url)")
	cmd.Flags().StringVar(&req.URL, "url", "", "Public URL of the photo")
	cmd.Flags().StringVar(&room, "room", "", "Room type shown in the photo")
	cmd.Flags().StringVar(&style, "style", "", "Decoration style id")
	cmd.Flags().StringArrayVar(&req.Items, "item", nil, "Item id to place (repeatable)")
	cmd.Flags().StringVar(&res, "resolution", "", "Output resolution: 1k, 2k or 4k (server default when empty)")
	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "Follow the job until it finishes")
	wo.bind(cmd, poller.DefaultJobInterval)
	_ = cmd.MarkFlagRequired("room")
	_ = cmd.MarkFlagRequired("style")
	return cmd
}

func newJobsGetCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "get <job-id>",
		Short: "Show a job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseJobID(args[0])
			if err != nil {
				return err
			}
			job, err := opts.client().GetJob(cmd.Context(), id)
			if err != nil {
				return err
			}
			return printJob(cmd, opts, job)
		},
	}
}

func newJobsListCmd(opts *rootOptions) *cobra.Command {
	var (
		status string
		watch  bool
		wo     watchOptions
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List jobs, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c := opts.client()
			st := models.JobStatus(status)
			if !watch {
				jobs, err := c.ListJobs(cmd.Context(), st)
				if err != nil {
					return err
				}
				return printJobs(cmd, opts, jobs)
			}

			out := cmd.OutOrStdout()
			p := poller.New(c, clockwork.NewRealClock())
			w := p.WatchList(cmd.Context(), st, func(jobs []*models.Job) {
				for _, j := range jobs {
					fmt.Fprintf(out, "%s\t%s\n", j.ID, j.Status)
				}
			}, wo.pollerOptions(cmd.ErrOrStderr())...)
			return w.Wait()
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "Only jobs with this status")
	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "Keep listing until no job is queued or processing")
	wo.bind(cmd, poller.DefaultListInterval)
	return cmd
}

func newJobsCancelCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <job-id>",
		Short: "Cancel a queued or processing job and refund its cost",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseJobID(args[0])
			if err != nil {
				return err
			}
			job, err := opts.client().CancelJob(cmd.Context(), id)
			if err != nil {
				return err
			}
			return printJob(cmd, opts, job)
		},
	}
}

func newJobsWatchCmd(opts *rootOptions) *cobra.Command {
	var wo watchOptions
	cmd := &cobra.Command{
		Use:   "watch <job-id>",
		Short: "Follow a job until it finishes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseJobID(args[0])
			if err != nil {
				return err
			}
			return watchJob(cmd, opts, opts.client(), id, wo)
		},
	}
	wo.bind(cmd, poller.DefaultJobInterval)
	return cmd
}

// watchJob prints each status change and fails when the job does not end done.
func watchJob(cmd *cobra.Command, opts *rootOptions, c *client.Client, id uuid.UUID, wo watchOptions) error {
	var last *models.Job
	p := poller.New(c, clockwork.NewRealClock())
	w := p.WatchJob(cmd.Context(), id, func(job *models.Job) {
		if last == nil || last.Status != job.Status {
			fmt.Fprintf(cmd.ErrOrStderr(), "%s  %s\n", job.ID, job.Status)
		}
		last = job
	}, wo.pollerOptions(cmd.ErrOrStderr())...)

	if err := w.Wait(); err != nil {
		return err
	}
	if last == nil {
		return cmd.Context().Err()
	}
	if err := printJob(cmd, opts, last); err != nil {
		return err
	}
	if last.Status != models.JobStatusDone {
		return fmt.Errorf("job %s ended %s", last.ID, last.Status)
	}
	return nil
}

func printJob(cmd *cobra.Command, opts *rootOptions, job *models.Job) error {
	return opts.render(cmd.OutOrStdout(), job, func(tw *tabwriter.Writer) {
		fmt.Fprintf(tw, "id\t%s\n", job.ID)
		fmt.Fprintf(tw, "status\t%s\n", job.Status)
		fmt.Fprintf(tw, "room_type\t%s\n", job.RoomType)
		fmt.Fprintf(tw, "style\t%s\n", job.Style)
		fmt.Fprintf(tw, "resolution\t%s\n", job.Resolution)
		if len(job.Items) > 0 {
			fmt.Fprintf(tw, "items\t%s\n", strings.Join(job.Items, ", "))
		}
		fmt.Fprintf(tw, "cost\t%d\n", job.Cost)
		fmt.Fprintf(tw, "input\t%s\n", job.InputImageRef)
		if job.ResultImageRef != nil {
			fmt.Fprintf(tw, "result\t%s\n", *job.ResultImageRef)
		}
		if job.FailureReason != nil {
			fmt.Fprintf(tw, "failure\t%s\n", *job.FailureReason)
		}
		fmt.Fprintf(tw, "created\t%s\n", job.CreatedAt.Format(time.RFC3339))
	})
}

func printJobs(cmd *cobra.Command, opts *rootOptions, jobs []*models.Job) error {
	return opts.render(cmd.OutOrStdout(), jobs, func(tw *tabwriter.Writer) {
		fmt.Fprintln(tw, "ID\tSTATUS\tROOM\tSTYLE\tRES\tCOST\tCREATED")
		for _, j := range jobs {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%d\t%s\n",
				j.ID, j.Status, j.RoomType, j.Style, j.Resolution, j.Cost, j.CreatedAt.Format(time.RFC3339))
		}
	})
}

func parseJobID(s string) (uuid.UUID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid job id %q", s)
	}
	return id, nil
}
