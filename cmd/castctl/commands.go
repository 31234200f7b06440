package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/danmuck/castctl/internal/app"
	"github.com/danmuck/castctl/internal/client"
	"github.com/danmuck/castctl/internal/media"
	"github.com/danmuck/castctl/internal/receiver"
)

func statusCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Print the receiver status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return opts.withClient(cmd, func(ctx context.Context, c *client.Client) error {
				status, err := c.Status(ctx)
				if err != nil {
					return err
				}
				printReceiverStatus(cmd.OutOrStdout(), status)
				return nil
			})
		},
	}
}

func availabilityCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "availability <app-id>...",
		Short: "Check which applications the receiver can run",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withClient(cmd, func(ctx context.Context, c *client.Client) error {
				availability, err := c.AppAvailability(ctx, args)
				if err != nil {
					return err
				}
				for _, a := range availability {
					fmt.Fprintf(cmd.OutOrStdout(), "%s\tavailable=%t\n", a.AppID, a.Available)
				}
				return nil
			})
		},
	}
}

func launchCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "launch <app-id>",
		Short: "Launch an application and attach to its session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withClient(cmd, func(ctx context.Context, c *client.Client) error {
				session := app.NewSession(args[0])
				if err := c.Launch(ctx, session); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "launched %s session=%s transport=%s\n", session.ID(), session.SessionID(), session.TransportID())
				return nil
			})
		},
	}
}

func playCmd(opts *options) *cobra.Command {
	var (
		contentType string
		title       string
		live        bool
		paused      bool
		appID       string
	)
	cmd := &cobra.Command{
		Use:   "play <url>",
		Short: "Launch the media receiver and load a URL",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m := media.Media{
				ContentID:   args[0],
				ContentType: contentType,
				StreamType:  media.StreamBuffered,
			}
			if live {
				m.StreamType = media.StreamLive
			}
			if title != "" {
				m.Metadata = &media.Metadata{MetadataType: media.MetadataGeneric, Title: title}
			}
			return opts.withClient(cmd, func(ctx context.Context, c *client.Client) error {
				session, err := c.LaunchMedia(ctx, media.NewPlayer(media.WithAppID(appID)))
				if err != nil {
					return err
				}
				resp, err := session.Load(ctx, m, !paused)
				if err != nil {
					return err
				}
				printMediaStatus(cmd.OutOrStdout(), resp.Status)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&contentType, "content-type", "video/mp4", "media content type")
	cmd.Flags().StringVar(&title, "title", "", "title shown by the receiver")
	cmd.Flags().BoolVar(&live, "live", false, "treat the stream as live")
	cmd.Flags().BoolVar(&paused, "paused", false, "load without starting playback")
	cmd.Flags().StringVar(&appID, "app", media.DefaultReceiverAppID, "media receiver application id")
	return cmd
}

func joinCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "join",
		Short: "Join the running media receiver and print its status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return opts.withMedia(cmd, func(ctx context.Context, session *client.MediaSession) (media.Response, error) {
				return session.Status(ctx)
			})
		},
	}
}

func pauseCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "pause",
		Short: "Pause the running media session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return opts.withMedia(cmd, func(ctx context.Context, session *client.MediaSession) (media.Response, error) {
				return session.Pause(ctx)
			})
		},
	}
}

func resumeCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "resume",
		Short: "Resume the running media session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return opts.withMedia(cmd, func(ctx context.Context, session *client.MediaSession) (media.Response, error) {
				return session.Play(ctx)
			})
		},
	}
}

func seekCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "seek <seconds>",
		Short: "Seek the running media session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			seconds, err := strconv.ParseFloat(args[0], 64)
			if err != nil {
				return fmt.Errorf("parse seconds: %w", err)
			}
			return opts.withMedia(cmd, func(ctx context.Context, session *client.MediaSession) (media.Response, error) {
				return session.Seek(ctx, seconds)
			})
		},
	}
}

// withMedia joins the running media receiver and runs fn against it.
func (o *options) withMedia(cmd *cobra.Command, fn func(ctx context.Context, session *client.MediaSession) (media.Response, error)) error {
	return o.withClient(cmd, func(ctx context.Context, c *client.Client) error {
		session, err := c.JoinMedia(ctx, media.NewPlayer())
		if err != nil {
			return err
		}
		resp, err := fn(ctx, session)
		if err != nil {
			return err
		}
		printMediaStatus(cmd.OutOrStdout(), resp.Status)
		return nil
	})
}

func muteCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "mute [true|false]",
		Short: "Mute or unmute the receiver",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			muted := true
			if len(args) == 1 {
				v, err := strconv.ParseBool(args[0])
				if err != nil {
					return fmt.Errorf("parse mute state: %w", err)
				}
				muted = v
			}
			return opts.withClient(cmd, func(ctx context.Context, c *client.Client) error {
				got, err := c.Mute(ctx, muted)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "muted=%t\n", got)
				return nil
			})
		},
	}
}

func volumeCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "volume <level>",
		Short: "Set the receiver volume between 0 and 1",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			level, err := strconv.ParseFloat(args[0], 64)
			if err != nil {
				return fmt.Errorf("parse volume level: %w", err)
			}
			return opts.withClient(cmd, func(ctx context.Context, c *client.Client) error {
				if err := c.SetVolume(ctx, level); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "volume=%.2f\n", level)
				return nil
			})
		},
	}
}

func stopCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "stop [app-id]",
		Short: "Stop the running application",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withClient(cmd, func(ctx context.Context, c *client.Client) error {
				status, err := c.Status(ctx)
				if err != nil {
					return err
				}
				appID := ""
				if len(args) == 1 {
					appID = args[0]
				} else if len(status.Applications) > 0 {
					appID = status.Applications[0].AppID
				}
				if appID == "" {
					return errors.New("no application running")
				}
				if err := c.Join(ctx, app.NewSession(appID)); err != nil {
					return err
				}
				if err := c.StopApp(ctx); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "stopped %s\n", appID)
				return nil
			})
		},
	}
}

func printReceiverStatus(w io.Writer, status receiver.ReceiverStatus) {
	fmt.Fprintf(w, "volume=%.2f muted=%t standby=%t\n", status.VolumeLevel, status.Muted, status.IsStandby)
	if len(status.Applications) == 0 {
		fmt.Fprintln(w, "no applications running")
		return
	}
	for _, info := range status.Applications {
		fmt.Fprintf(w, "%s\t%s\tsession=%s transport=%s\n", info.AppID, info.DisplayName, info.SessionID, info.TransportID)
	}
}

func printMediaStatus(w io.Writer, status media.MediaStatus) {
	if !status.Valid {
		fmt.Fprintln(w, "no media session")
		return
	}
	fmt.Fprintf(w, "media_session=%d state=%s time=%.1f\n", status.MediaSessionID, status.PlayerState, status.CurrentTime)
	if status.Media != nil && status.Media.ContentID != "" {
		fmt.Fprintf(w, "content=%s\n", status.Media.ContentID)
	}
}
