package main

import (
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/kiranshivaraju/stager/pkg/models"
	"github.com/spf13/cobra"
)

func newHealthCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Show server dependency health",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			services, err := opts.client().Health(cmd.Context())
			if err != nil {
				return err
			}
			names := make([]string, 0, len(services))
			for name := range services {
				names = append(names, name)
			}
			sort.Strings(names)
			return opts.render(cmd.OutOrStdout(), services, func(tw *tabwriter.Writer) {
				fmt.Fprintln(tw, "SERVICE\tSTATUS")
				for _, name := range names {
					fmt.Fprintf(tw, "%s\t%s\n", name, services[name])
				}
			})
		},
	}
}

func newStylesCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "styles",
		Short: "List decoration styles",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			styles, err := opts.client().ListStyles(cmd.Context())
			if err != nil {
				return err
			}
			return opts.render(cmd.OutOrStdout(), styles, func(tw *tabwriter.Writer) {
				fmt.Fprintln(tw, "ID\tNAME\tDESCRIPTION")
				for _, s := range styles {
					fmt.Fprintf(tw, "%s\t%s\t%s\n", s.ID, s.Name, s.Description)
				}
			})
		},
	}
}

func newItemsCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "items <room-type>",
		Short: "List furniture and decor items for a room type",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			items, err := opts.client().ListItems(cmd.Context(), models.RoomType(args[0]))
			if err != nil {
				return err
			}
			return opts.render(cmd.OutOrStdout(), items, func(tw *tabwriter.Writer) {
				fmt.Fprintln(tw, "ID\tNAME\tCATEGORY")
				for _, it := range items {
					fmt.Fprintf(tw, "%s\t%s\t%s\n", it.ID, it.Name, it.Category)
				}
			})
		},
	}
}

func newEstimateCmd(opts *rootOptions) *cobra.Command {
	var (
		style      string
		resolution string
		items      int
	)
	cmd := &cobra.Command{
		Use:   "estimate",
		Short: "Estimate the credit cost of a staging job",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			est, err := opts.client().Estimate(cmd.Context(), models.StyleID(style), models.Resolution(resolution), items)
			if err != nil {
				return err
			}
			return opts.render(cmd.OutOrStdout(), est, func(tw *tabwriter.Writer) {
				fmt.Fprintf(tw, "base (%s)\t%d\n", est.Resolution, est.BaseCost)
				fmt.Fprintf(tw, "style (%s)\t%d\n", est.Style, est.StyleSurcharge)
				fmt.Fprintf(tw, "items (%d)\t%d\n", est.ItemCount, est.ItemsCost)
				fmt.Fprintf(tw, "total\t%d\n", est.Cost)
			})
		},
	}
	cmd.Flags().StringVar(&style, "style", "", "Decoration style id")
	cmd.Flags().StringVar(&resolution, "resolution", string(models.DefaultResolution), "Output resolution: 1k, 2k or 4k")
	cmd.Flags().IntVar(&items, "items", 0, "Number of items to place")
	_ = cmd.MarkFlagRequired("style")
	return cmd
}

func newDetectCmd(opts *rootOptions) *cobra.Command {
	var (
		file     string
		imageRef string
	)
	cmd := &cobra.Command{
		Use:   "detect",
		Short: "Detect the room type shown in a photo",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if (file == "") == (imageRef == "") {
				return fmt.Errorf("exactly one of --file or --ref is required")
			}
			c := opts.client()

			var det models.RoomDetection
			if file != "" {
				f, err := os.Open(file)
				if err != nil {
					return fmt.Errorf("open photo: %w", err)
				}
				defer f.Close()
				det, err = c.DetectRoomUpload(cmd.Context(), filepath.Base(file), contentTypeOf(file), f)
				if err != nil {
					return err
				}
			} else {
				var err error
				det, err = c.DetectRoom(cmd.Context(), imageRef)
				if err != nil {
					return err
				}
			}

			return opts.render(cmd.OutOrStdout(), det, func(tw *tabwriter.Writer) {
				fmt.Fprintf(tw, "room_type\t%s\n", det.RoomType)
				fmt.Fprintf(tw, "confidence\t%.2f\n", det.Confidence)
			})
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "Photo to upload")
	cmd.Flags().StringVar(&imageRef, "ref", "", "Reference of an already stored photo")
	return cmd
}

func newCreditsCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "credits",
		Short: "Show the credit balance",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cr, err := opts.client().Credits(cmd.Context())
			if err != nil {
				return err
			}
			return printCredits(cmd, opts, cr)
		},
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "topup <amount>",
		Short: "Add credits to the balance (admin)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var amount int
			if _, err := fmt.Sscanf(args[0], "%d", &amount); err != nil {
				return fmt.Errorf("amount must be an integer, got %q", args[0])
			}
			cr, err := opts.client().TopUp(cmd.Context(), amount)
			if err != nil {
				return err
			}
			return printCredits(cmd, opts, cr)
		},
	})
	return cmd
}

func printCredits(cmd *cobra.Command, opts *rootOptions, cr models.Credits) error {
	return opts.render(cmd.OutOrStdout(), cr, func(tw *tabwriter.Writer) {
		fmt.Fprintf(tw, "current\t%d\n", cr.Current)
		fmt.Fprintf(tw, "total\t%d\n", cr.Total)
		if cr.Low {
			fmt.Fprintln(tw, "warning\tbalance is low")
		}
		for _, res := range models.Resolutions {
			if cost, ok := cr.CostPerResolution[res]; ok {
				fmt.Fprintf(tw, "cost %s\t%d\n", res, cost)
			}
		}
	})
}

func contentTypeOf(name string) string {
	if ct := mime.TypeByExtension(strings.ToLower(filepath.Ext(name))); ct != "" {
		return ct
	}
	return "application/octet-stream"
}
