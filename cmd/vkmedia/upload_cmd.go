package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"vkmedia/internal/domain"
	"vkmedia/internal/usecase/upload"
)

const shutdownTimeout = 10 * time.Second

type uploadFlags struct {
	peerID   int64
	chatID   int64
	groupID  int64
	albumID  int64
	docType  string
	fileName string
	async    bool
	asJSON   bool
}

func newUploadCommand(root *rootOptions) *cobra.Command {
	f := &uploadFlags{}
	cmd := &cobra.Command{
		Use:   "upload <kind> <path-or-url>",
		Short: "Upload one file and print its attachment id",
		Long: `Upload one local file or URL.

Kinds: message_photo (photo), message_doc (doc), chat_photo (chat),
group_cover (cover), album_photo (album).`,
		Example: `  vkmedia upload photo ./cat.jpg --peer 2000000001
  vkmedia upload doc https://example.com/report.pdf --peer 42 --doc-type doc
  vkmedia upload album ./a.png --album 278 --group 1
  vkmedia upload cover ./banner.jpg`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, err := domain.ParseMediaKind(args[0])
			if err != nil {
				return err
			}
			docType, err := domain.ParseDocType(f.docType)
			if err != nil {
				return err
			}
			cfg, err := root.load()
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			a, err := newApp(ctx, cfg, "")
			if err != nil {
				return err
			}
			defer closeApp(a)

			req := upload.Request{
				Kind:     kind,
				Source:   args[1],
				PeerID:   f.peerID,
				ChatID:   f.chatID,
				GroupID:  f.groupID,
				AlbumID:  f.albumID,
				DocType:  docType,
				FileName: f.fileName,
			}
			res, err := runUpload(ctx, a.uploader, req, f.async)
			if err != nil {
				return err
			}
			return printResult(cmd.OutOrStdout(), res, f.asJSON)
		},
	}

	flags := cmd.Flags()
	flags.Int64Var(&f.peerID, "peer", 0, "destination peer id (message photo, document)")
	flags.Int64Var(&f.chatID, "chat", 0, "chat id (chat photo)")
	flags.Int64Var(&f.groupID, "group", 0, "community id (cover, album); defaults to api.group_id for covers")
	flags.Int64Var(&f.albumID, "album", 0, "album id (album photo)")
	flags.StringVar(&f.docType, "doc-type", "doc", "document type: doc, audio_message, graffiti")
	flags.StringVar(&f.fileName, "name", "", "override the uploaded file name")
	flags.BoolVar(&f.async, "async", false, "run through the callback API instead of the blocking one")
	flags.BoolVar(&f.asJSON, "json", false, "print the result as JSON")
	return cmd
}

// runUpload performs one upload in the requested form.
func runUpload(ctx context.Context, u *upload.Uploader, req upload.Request, async bool) (domain.Result, error) {
	if !async {
		return u.Upload(ctx, req)
	}
	type outcome struct {
		res domain.Result
		err error
	}
	ch := make(chan outcome, 1)
	u.UploadAsync(ctx, req, func(res domain.Result, err error) {
		ch <- outcome{res, err}
	})
	select {
	case o := <-ch:
		return o.res, o.err
	case <-ctx.Done():
		return domain.Result{}, ctx.Err()
	}
}

func printResult(w io.Writer, res domain.Result, asJSON bool) error {
	if asJSON {
		return json.NewEncoder(w).Encode(res)
	}
	_, err := fmt.Fprintln(w, res.String())
	return err
}

func closeApp(a *app) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := a.Close(ctx); err != nil {
		a.logger.Warn("shutdown incomplete", "error", err)
	}
}
