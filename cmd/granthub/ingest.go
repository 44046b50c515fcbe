package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/granthub/granthub/internal/ingest"
)

var ingestCmd = &cobra.Command{
	Use:   "ingest <source>",
	Short: "Run one source through the ETL pipeline",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		sourceID := args[0]

		reg, err := ingest.LoadRegistry(cfg.Ingest.SourcesFile)
		if err != nil {
			return err
		}
		srcCfg, err := reg.Config(sourceID)
		if err != nil {
			return err
		}

		params := ingest.DefaultTriggerParams(srcCfg)
		params.Retries = cfg.Ingest.Retries
		if err := applyIngestFlags(cmd, &params); err != nil {
			return err
		}

		unlock, err := lockSource(sourceID)
		if err != nil {
			return err
		}
		defer unlock()

		st, closeStore, err := openStore(ctx, cfg)
		if err != nil {
			return err
		}
		defer closeStore()

		p, closeFetch := newPipeline(cfg, st)
		defer closeFetch()

		res, err := ingest.Trigger(ctx, p, reg, sourceID, params)
		if res != nil {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			_ = enc.Encode(res)
		}
		if err != nil {
			return eris.Wrapf(err, "ingest %s (%s)", sourceID, ingest.ErrorKind(err))
		}
		return nil
	},
}

func applyIngestFlags(cmd *cobra.Command, p *ingest.TriggerParams) error {
	f := cmd.Flags()
	var err error
	if f.Changed("pages") {
		p.PageCount, err = f.GetInt("pages")
	}
	if err == nil && f.Changed("start-page") {
		p.StartPage, err = f.GetInt("start-page")
	}
	if err == nil && f.Changed("limit") {
		p.ItemCap, err = f.GetInt("limit")
	}
	if err == nil && f.Changed("per-page") {
		p.PerPage, err = f.GetInt("per-page")
	}
	if err == nil && f.Changed("throttle") {
		p.ThrottleSeconds, err = f.GetFloat64("throttle")
	}
	if err == nil && f.Changed("skip-stale") {
		p.SkipStale, err = f.GetBool("skip-stale")
	}
	if err == nil && f.Changed("retries") {
		p.Retries, err = f.GetInt("retries")
	}
	if err == nil {
		p.DryRun, err = f.GetBool("dry-run")
	}
	if err == nil && f.Changed("param") {
		var kv map[string]string
		if kv, err = f.GetStringToString("param"); err == nil {
			p.Params = kv
		}
	}
	return err
}

// lockSource keeps two processes on this host from running the same source at once.
func lockSource(sourceID string) (func(), error) {
	dir := cfg.Ingest.LockDir
	if dir == "" {
		dir = os.TempDir()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, eris.Wrap(err, "create lock dir")
	}
	path := filepath.Join(dir, fmt.Sprintf("granthub-%s.lock", sourceID))

	fl := flock.New(path)
	locked, err := fl.TryLock()
	if err != nil {
		return nil, eris.Wrapf(err, "lock %s", path)
	}
	if !locked {
		return nil, eris.Errorf("another run of %s holds %s", sourceID, path)
	}
	return func() {
		if err := fl.Unlock(); err != nil {
			zap.L().Warn("release run lock", zap.String("path", path), zap.Error(err))
		}
	}, nil
}

func init() {
	f := ingestCmd.Flags()
	f.Int("pages", 1, "listing pages to walk")
	f.Int("start-page", 1, "first listing page")
	f.Int("limit", 0, "maximum items to process (default from source)")
	f.Int("per-page", 0, "rows per listing page when the source supports it")
	f.Float64("throttle", 0, "pause between listing pages in seconds")
	f.Bool("dry-run", false, "print previews instead of writing")
	f.Bool("skip-stale", false, "drop items whose title only names past years")
	f.Int("retries", 0, "whole-run retries on retryable fetch errors")
	f.StringToString("param", nil, "override a source list parameter, key=value")
	rootCmd.AddCommand(ingestCmd)
}
