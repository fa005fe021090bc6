package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"vkmedia/internal/domain"
	"vkmedia/internal/usecase/upload"
)

// manifest is a YAML list of uploads run by the batch command.
type manifest struct {
	Items []manifestItem `yaml:"items"`
}

type manifestItem struct {
	Kind     string `yaml:"kind"`
	Source   string `yaml:"source"`
	PeerID   int64  `yaml:"peer_id"`
	ChatID   int64  `yaml:"chat_id"`
	GroupID  int64  `yaml:"group_id"`
	AlbumID  int64  `yaml:"album_id"`
	DocType  string `yaml:"doc_type"`
	FileName string `yaml:"file_name"`
}

// batchLine is one JSON line of batch output.
type batchLine struct {
	Index      int             `json:"index"`
	Source     string          `json:"source"`
	Kind       string          `json:"kind"`
	Attachment string          `json:"attachment,omitempty"`
	Raw        json.RawMessage `json:"raw,omitempty"`
	Error      string          `json:"error,omitempty"`
	Code       string          `json:"code,omitempty"`
}

func loadManifest(path string) ([]upload.Request, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrManifestInvalid, err)
	}
	return parseManifest(data)
}

// parseManifest decodes and checks every item. All item errors are reported
// together.
func parseManifest(data []byte) ([]upload.Request, error) {
	var m manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrManifestInvalid, err)
	}
	if len(m.Items) == 0 {
		return nil, fmt.Errorf("%w: no items", domain.ErrManifestInvalid)
	}

	reqs := make([]upload.Request, 0, len(m.Items))
	var problems []string
	for i, it := range m.Items {
		kind, err := domain.ParseMediaKind(it.Kind)
		if err != nil {
			problems = append(problems, fmt.Sprintf("item %d: unknown kind %q", i, it.Kind))
			continue
		}
		docType, err := domain.ParseDocType(it.DocType)
		if err != nil {
			problems = append(problems, fmt.Sprintf("item %d: unknown doc_type %q", i, it.DocType))
			continue
		}
		if it.Source == "" {
			problems = append(problems, fmt.Sprintf("item %d: source is required", i))
			continue
		}
		reqs = append(reqs, upload.Request{
			Kind:     kind,
			Source:   it.Source,
			PeerID:   it.PeerID,
			ChatID:   it.ChatID,
			GroupID:  it.GroupID,
			AlbumID:  it.AlbumID,
			DocType:  docType,
			FileName: it.FileName,
		})
	}
	if len(problems) > 0 {
		return nil, fmt.Errorf("%w: %v", domain.ErrManifestInvalid, problems)
	}
	return reqs, nil
}

// runBatch uploads reqs with at most limit sessions in flight and writes one
// JSON line per item in manifest order. A failed item does not stop the
// others; the returned count is the number of failures.
func runBatch(ctx context.Context, u *upload.Uploader, reqs []upload.Request, limit int, async bool, w io.Writer) (int, error) {
	lines := make([]batchLine, len(reqs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(limit, 1))

	var mu sync.Mutex
	failed := 0
	for i, req := range reqs {
		i, req := i, req
		g.Go(func() error {
			res, err := runUpload(gctx, u, req, async)
			line := batchLine{Index: i, Source: req.Source, Kind: string(req.Kind)}
			if err != nil {
				line.Error = err.Error()
				line.Code = string(domain.ErrorCodeOf(err))
				mu.Lock()
				failed++
				mu.Unlock()
			} else {
				line.Attachment = string(res.Attachment)
				line.Raw = res.Raw
			}
			lines[i] = line
			return ctx.Err()
		})
	}
	if err := g.Wait(); err != nil {
		return failed, err
	}

	enc := json.NewEncoder(w)
	for _, l := range lines {
		if err := enc.Encode(l); err != nil {
			return failed, err
		}
	}
	return failed, nil
}

type batchFlags struct {
	concurrency int
	metricsAddr string
	async       bool
}

func newBatchCommand(root *rootOptions) *cobra.Command {
	f := &batchFlags{}
	cmd := &cobra.Command{
		Use:   "batch <manifest.yaml>",
		Short: "Upload every item of a YAML manifest",
		Long: `Upload every item of a YAML manifest and print one JSON line per item.

Manifest format:

  items:
    - kind: photo
      source: ./a.jpg
      peer_id: 2000000001
    - kind: doc
      source: https://example.com/r.pdf
      peer_id: 42
      doc_type: doc`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			reqs, err := loadManifest(args[0])
			if err != nil {
				return err
			}
			cfg, err := root.load()
			if err != nil {
				return err
			}
			if f.concurrency > 0 {
				cfg.Batch.Concurrency = f.concurrency
			}

			ctx := cmd.Context()
			a, err := newApp(ctx, cfg, f.metricsAddr)
			if err != nil {
				return err
			}
			defer closeApp(a)

			a.logger.Info("batch started", "items", len(reqs), "concurrency", cfg.Batch.Concurrency)
			failed, err := runBatch(ctx, a.uploader, reqs, cfg.Batch.Concurrency, f.async, cmd.OutOrStdout())
			if err != nil {
				return err
			}
			a.logger.Info("batch finished", "items", len(reqs), "failed", failed)
			if failed > 0 {
				return fmt.Errorf("%d of %d uploads failed", failed, len(reqs))
			}
			return nil
		},
	}
	flags := cmd.Flags()
	flags.IntVar(&f.concurrency, "concurrency", 0, "uploads in flight (default batch.concurrency)")
	flags.StringVar(&f.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address while the batch runs")
	flags.BoolVar(&f.async, "async", false, "run each item through the callback API")
	return cmd
}
