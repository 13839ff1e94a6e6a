package main

import (
	"fmt"
	"path"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/manash/jewelshoot/internal/gallery"
	"github.com/manash/jewelshoot/internal/security"
)

const timeFormat = "2006-01-02 15:04"

func newGalleryCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "gallery",
		Aliases: []string{"gal"},
		Short:   "Browse and manage kept images",
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:     "list",
			Aliases: []string{"ls"},
			Short:   "List kept images, newest first",
			Args:    cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return app.galleryList(cmd)
			},
		},
		&cobra.Command{
			Use:     "delete <id>",
			Aliases: []string{"rm"},
			Short:   "Delete a kept image and its file",
			Args:    cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return app.galleryDelete(cmd, args[0])
			},
		},
		&cobra.Command{
			Use:   "download <id> [path]",
			Short: "Download a kept image",
			Args:  cobra.RangeArgs(1, 2),
			RunE: func(cmd *cobra.Command, args []string) error {
				return app.galleryDownload(cmd, args)
			},
		},
	)
	return cmd
}

func (a *App) galleryList(cmd *cobra.Command) error {
	ctx := cmd.Context()
	e, err := a.setup(false)
	if err != nil {
		return err
	}
	svc, _, err := a.requireGallery(ctx, e)
	if err != nil {
		return err
	}

	recs, err := svc.List(ctx)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if len(recs) == 0 {
		fmt.Fprintln(out, "Gallery is empty")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tSTYLE\tCREATED\tURL")
	for _, r := range recs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", r.ID, r.Name, r.Style.Label(), r.CreatedAt.Local().Format(timeFormat), r.ImageURL)
	}
	return w.Flush()
}

func (a *App) galleryDelete(cmd *cobra.Command, id string) error {
	ctx := cmd.Context()
	e, err := a.setup(false)
	if err != nil {
		return err
	}
	svc, _, err := a.requireGallery(ctx, e)
	if err != nil {
		return err
	}

	rec, err := svc.Find(ctx, gallery.ID(id))
	if err != nil {
		return err
	}
	if err := svc.Delete(ctx, rec.ID, rec.ImageURL); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Deleted %q\n", rec.Name)
	return nil
}

func (a *App) galleryDownload(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	e, err := a.setup(false)
	if err != nil {
		return err
	}
	svc, _, err := a.requireGallery(ctx, e)
	if err != nil {
		return err
	}

	rec, err := svc.Find(ctx, gallery.ID(args[0]))
	if err != nil {
		return err
	}

	dest := ""
	if len(args) == 2 {
		dest = args[1]
	} else {
		// Record names come from other users, so the derived name is checked.
		ext := path.Ext(strings.SplitN(rec.ImageURL, "?", 2)[0])
		if ext == "" {
			ext = ".png"
		}
		dest = security.SanitizeFilename(rec.Name) + ext
		if err := security.ValidateSavePath(dest); err != nil {
			return err
		}
	}

	if err := a.NewSaver(e.cfg).Download(ctx, rec.ImageURL, dest); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Saved: %s\n", dest)
	return nil
}

func newFeedbackCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "feedback",
		Short: "Read and post feedback messages",
	}

	send := &cobra.Command{
		Use:   "send <message>",
		Short: "Post a feedback message or a reply",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.feedbackSend(cmd, strings.Join(args, " "))
		},
	}
	send.Flags().StringVar(&flagReplyTo, "reply-to", "", "id of the message being answered")
	send.Flags().BoolVar(&flagAdmin, "admin", false, "post as the team")

	cmd.AddCommand(
		&cobra.Command{
			Use:     "list",
			Aliases: []string{"ls"},
			Short:   "List messages grouped into threads",
			Args:    cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return app.feedbackList(cmd)
			},
		},
		send,
	)
	return cmd
}

func (a *App) feedbackList(cmd *cobra.Command) error {
	ctx := cmd.Context()
	e, err := a.setup(false)
	if err != nil {
		return err
	}
	_, fb, err := a.requireGallery(ctx, e)
	if err != nil {
		return err
	}

	msgs, err := fb.List(ctx)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if len(msgs) == 0 {
		fmt.Fprintln(out, "No feedback yet")
		return nil
	}

	replies := make(map[gallery.ID][]gallery.Message)
	for _, m := range msgs {
		if m.ReplyTo != nil {
			parent := gallery.ID(*m.ReplyTo)
			replies[parent] = append(replies[parent], m)
		}
	}
	for _, m := range msgs {
		if m.ReplyTo != nil {
			continue
		}
		fmt.Fprintf(out, "#%s %s %s\n", m.ID, m.CreatedAt.Local().Format(timeFormat), m.Message)
		for _, r := range replies[m.ID] {
			fmt.Fprintf(out, "    %s #%s %s\n", author(r), r.ID, r.Message)
		}
	}
	return nil
}

func author(m gallery.Message) string {
	if m.IsAdmin {
		return "team"
	}
	return "user"
}

func (a *App) feedbackSend(cmd *cobra.Command, message string) error {
	ctx := cmd.Context()
	e, err := a.setup(false)
	if err != nil {
		return err
	}
	_, fb, err := a.requireGallery(ctx, e)
	if err != nil {
		return err
	}

	msg, err := fb.Send(ctx, message, flagAdmin, flagReplyTo)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Posted #%s\n", msg.ID)
	return nil
}
