package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/taxwise-partners/sp-estimator/internal/checkpoint"
	"github.com/taxwise-partners/sp-estimator/internal/model"
)

var cacheInputs inputFlags

// cacheCmd inspects resume state
var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect or drop the resume state for a set of inputs",
}

var cacheShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show cached scenario outputs",
	RunE:  runCacheShow,
}

var cacheClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Discard cached scenario outputs so the next run starts fresh",
	RunE:  runCacheClear,
}

var cacheListCmd = &cobra.Command{
	Use:   "list",
	Short: "List analyses with stored resume state (durable backends only)",
	Args:  cobra.NoArgs,
	RunE:  runCacheList,
}

func init() {
	cacheInputs.bind(cacheShowCmd)
	cacheInputs.bind(cacheClearCmd)
	cacheCmd.AddCommand(cacheShowCmd)
	cacheCmd.AddCommand(cacheClearCmd)
	cacheCmd.AddCommand(cacheListCmd)
}

func runCacheShow(cmd *cobra.Command, args []string) error {
	in, err := cacheInputs.inputs()
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	cache, err := openCache(ctx, cfg, nil)
	if err != nil {
		return err
	}
	defer cache.Close()

	return showCache(ctx, cmd.OutOrStdout(), cache, in.AnalysisID(), time.Now())
}

// showCache prints the resume state for id.
func showCache(ctx context.Context, out io.Writer, cache checkpoint.Cache, id string, now time.Time) error {
	completed, err := cache.Get(ctx, id)
	if err != nil {
		return fmt.Errorf("read cache: %w", err)
	}
	if len(completed) == 0 {
		fmt.Fprintf(out, "No resume state for %s\n", id)
		return nil
	}

	fmt.Fprintf(out, "Resume state for %s\n", id)
	if loc, ok := cache.(checkpoint.Locator); ok {
		if info, err := loc.Stat(ctx, id); err == nil {
			fmt.Fprintf(out, "Stored at %s (%d bytes)\n", loc.Location(id), info.Size)
		}
	}
	if insp, ok := cache.(checkpoint.Inspector); ok {
		if entry, err := insp.Inspect(ctx, id); err == nil {
			age := now.Sub(time.UnixMilli(entry.Timestamp)).Round(time.Second)
			fmt.Fprintf(out, "Last updated %s ago\n", age)
		}
	}

	keys := make([]string, 0, len(completed))
	for k := range completed {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		o := completed[k]
		fmt.Fprintf(out, "  %-16s agi=%s tax=%s net=%s\n", k,
			model.FormatCurrency(o.AGI), model.FormatCurrency(o.TotalTaxDue), model.FormatCurrency(o.TotalNetGain))
	}
	return nil
}

func runCacheList(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	cache, err := openCache(ctx, cfg, nil)
	if err != nil {
		return err
	}
	defer cache.Close()

	return listCache(ctx, cmd.OutOrStdout(), cache)
}

// listCache prints one line per analysis id with stored resume state.
func listCache(ctx context.Context, out io.Writer, cache checkpoint.Cache) error {
	loc, ok := cache.(checkpoint.Locator)
	if !ok {
		return errors.New("cache backend does not persist entries; set cache.backend to local, gcs or s3")
	}
	ids, err := loc.IDs(ctx)
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		fmt.Fprintln(out, "No resume state stored")
		return nil
	}
	for _, id := range ids {
		fmt.Fprintf(out, "%s\t%s\n", id, loc.Location(id))
	}
	return nil
}

func runCacheClear(cmd *cobra.Command, args []string) error {
	in, err := cacheInputs.inputs()
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	cache, err := openCache(ctx, cfg, nil)
	if err != nil {
		return err
	}
	defer cache.Close()

	if err := cache.Clear(ctx, in.AnalysisID()); err != nil {
		return fmt.Errorf("clear cache: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Cleared resume state for %s\n", in.AnalysisID())
	return nil
}
