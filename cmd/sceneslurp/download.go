package main

import (
	"flag"
	"fmt"
	"os"
)

func runDownload(args []string) int {
	fs := flag.NewFlagSet("download", flag.ExitOnError)
	common := registerCommon(fs)
	search := registerSearch(fs)
	productsPath := fs.String("products", "", "JSON product list written by 'sceneslurp search'")
	format := fs.String("format", "", "Download format, e.g. FR_BUND, STANDARD or FRB (required)")

	fs.Usage = func() {
		fmt.Fprintln(os.Stderr, `Usage: sceneslurp download -format <format> (-products <file> | -dataset <name> ...) [options]

Download products into -dir. Products come from a previous search
(-products) or from a search run with the same flags as 'sceneslurp search'.
Files that already exist are skipped. Outcomes are recorded in the ledger
and, with -archive, finished files are mirrored into a bucket.

Options:`)
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		return ExitInvalidArgs
	}
	if *format == "" {
		fmt.Fprintln(os.Stderr, "Error: -format is required")
		fs.Usage()
		return ExitInvalidArgs
	}
	if (*productsPath == "") == !search.set() {
		fmt.Fprintln(os.Stderr, "Error: exactly one of -products or -dataset is required")
		fs.Usage()
		return ExitInvalidArgs
	}
	setupLogging(common.verbose)

	cfg, err := common.load()
	if err != nil {
		return fail(err)
	}
	if err := cfg.Validate(); err != nil {
		return fail(err)
	}

	ctx, cancel := signalContext()
	defer cancel()

	a, err := newApp(ctx, cfg)
	if err != nil {
		return fail(err)
	}
	defer a.Close()

	products, err := a.products(ctx, search, *productsPath)
	if err != nil {
		return fail(err)
	}
	if len(products) == 0 {
		fmt.Fprintln(os.Stderr, "[sceneslurp] Nothing to download")
		return ExitSuccess
	}

	statuses, err := a.download(ctx, a.catalog, products, *format)
	if err != nil {
		fail(err)
	}
	code := statusCode(statuses)
	if err != nil && code == ExitSuccess {
		return exitCode(err)
	}
	return code
}
