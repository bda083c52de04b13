package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/ligustah/sceneslurp/internal/order"
)

func runOrder(args []string) int {
	if len(args) == 0 {
		printOrderUsage()
		return ExitInvalidArgs
	}

	switch args[0] {
	case "submit":
		return runOrderSubmit(args[1:])
	case "list":
		return runOrderList(args[1:])
	case "status":
		return runOrderStatus(args[1:])
	case "cancel":
		return runOrderCancel(args[1:])
	case "download":
		return runOrderDownload(args[1:])
	case "help", "-h", "--help":
		printOrderUsage()
		return ExitSuccess
	default:
		fmt.Fprintf(os.Stderr, "Unknown order command: %s\n", args[0])
		printOrderUsage()
		return ExitInvalidArgs
	}
}

func printOrderUsage() {
	fmt.Fprintln(os.Stderr, `Usage: sceneslurp order <command> [options]

Commands:
  submit    Submit products for processing, in batches
  list      List outstanding orders on the account
  status    Refresh and print the status of one order
  cancel    Cancel an order that has not started processing
  download  Download the finished items of an order

Order commands need ESPA credentials (order.username/order.password or
SCENESLURP_ESPA_USERNAME/SCENESLURP_ESPA_PASSWORD).`)
}

// orderCommand parses flags and builds the app for an order subcommand.
// It returns a non-negative exit code when the command should stop.
func orderCommand(name, usage string, args []string, register func(fs *flag.FlagSet), check func() error) (context.Context, context.CancelFunc, *app, int) {
	fs := flag.NewFlagSet("order "+name, flag.ExitOnError)
	common := registerCommon(fs)
	if register != nil {
		register(fs)
	}
	fs.Usage = func() {
		fmt.Fprintln(os.Stderr, usage+"\n\nOptions:")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		return nil, nil, nil, ExitInvalidArgs
	}
	if check != nil {
		if err := check(); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			fs.Usage()
			return nil, nil, nil, ExitInvalidArgs
		}
	}
	setupLogging(common.verbose)

	cfg, err := common.load()
	if err != nil {
		return nil, nil, nil, fail(err)
	}
	if err := cfg.ValidateOrder(); err != nil {
		return nil, nil, nil, fail(err)
	}

	ctx, cancel := signalContext()
	a, err := newApp(ctx, cfg)
	if err != nil {
		cancel()
		return nil, nil, nil, fail(err)
	}
	return ctx, cancel, a, -1
}

func runOrderSubmit(args []string) int {
	var names, productsPath, note string
	ctx, cancel, a, code := orderCommand("submit",
		"Usage: sceneslurp order submit (-names <list> | -products <file>) [options]\n\n"+
			"Submit products for processing. Inputs are split into batches of\n"+
			"order.batch_size, one order per batch. Order ids are printed to stdout.",
		args,
		func(fs *flag.FlagSet) {
			fs.StringVar(&names, "names", "", "Comma-separated product display names")
			fs.StringVar(&productsPath, "products", "", "JSON product list written by 'sceneslurp search'")
			fs.StringVar(&note, "note", "", "Order note (default: timestamp and input count)")
		},
		func() error {
			if (names == "") == (productsPath == "") {
				return fmt.Errorf("exactly one of -names or -products is required")
			}
			return nil
		})
	if code >= 0 {
		return code
	}
	defer cancel()
	defer a.Close()

	inputs := splitList(names)
	if productsPath != "" {
		products, err := readProducts(productsPath)
		if err != nil {
			return fail(err)
		}
		for _, p := range products {
			name := p.DisplayName
			if name == "" {
				name = p.EntityID
			}
			inputs = append(inputs, name)
		}
	}
	if len(inputs) == 0 {
		return fail(order.ErrEmptyOrder)
	}

	m := a.orders()
	results := m.SubmitBatches(ctx, inputs, note)

	failed := 0
	for i, r := range results {
		if r.Err != nil {
			failed++
			fmt.Fprintf(os.Stderr, "[sceneslurp] Batch %d (%d inputs) failed: %v\n", i+1, len(r.Inputs), r.Err)
			continue
		}
		a.recordOrder(ctx, m, r.OrderID)
		fmt.Println(r.OrderID)
	}
	fmt.Fprintf(os.Stderr, "[sceneslurp] Submitted %d of %d batches\n", len(results)-failed, len(results))

	switch {
	case failed == 0:
		return ExitSuccess
	case failed == len(results):
		return exitCode(results[0].Err)
	default:
		return ExitPartialFailure
	}
}

func runOrderList(args []string) int {
	ctx, cancel, a, code := orderCommand("list",
		"Usage: sceneslurp order list [options]\n\nList outstanding orders on the account.",
		args, nil, nil)
	if code >= 0 {
		return code
	}
	defer cancel()
	defer a.Close()

	m := a.orders()
	orders, err := m.ListOutstanding(ctx)
	if err != nil {
		return fail(err)
	}
	for _, o := range orders {
		a.recordOrder(ctx, m, o.ID)
		fmt.Printf("%s\t%s\t%d\t%s\n", o.ID, o.Status, len(o.Inputs), o.Note)
	}
	return ExitSuccess
}

func runOrderStatus(args []string) int {
	var id string
	ctx, cancel, a, code := orderCommand("status",
		"Usage: sceneslurp order status -id <order-id> [options]\n\nRefresh and print the status of one order.",
		args,
		func(fs *flag.FlagSet) { fs.StringVar(&id, "id", "", "Order id (required)") },
		requireID(&id))
	if code >= 0 {
		return code
	}
	defer cancel()
	defer a.Close()

	m := a.orders()
	status, err := m.PollStatus(ctx, id)
	if err != nil {
		return fail(err)
	}
	a.recordOrder(ctx, m, id)
	fmt.Println(status)
	return ExitSuccess
}

func runOrderCancel(args []string) int {
	var id string
	ctx, cancel, a, code := orderCommand("cancel",
		"Usage: sceneslurp order cancel -id <order-id> [options]\n\n"+
			"Cancel an order. Only orders that have not started processing can be cancelled.",
		args,
		func(fs *flag.FlagSet) { fs.StringVar(&id, "id", "", "Order id (required)") },
		requireID(&id))
	if code >= 0 {
		return code
	}
	defer cancel()
	defer a.Close()

	m := a.orders()
	ok, err := m.Cancel(ctx, id)
	if err != nil {
		return fail(err)
	}
	a.recordOrder(ctx, m, id)
	if !ok {
		fmt.Fprintf(os.Stderr, "[sceneslurp] Order %s can no longer be cancelled\n", id)
		return ExitGeneralError
	}
	fmt.Fprintf(os.Stderr, "[sceneslurp] Order %s cancelled\n", id)
	return ExitSuccess
}

func runOrderDownload(args []string) int {
	var id string
	ctx, cancel, a, code := orderCommand("download",
		"Usage: sceneslurp order download -id <order-id> [options]\n\n"+
			"Download every finished item of an order into -dir. Items still\n"+
			"processing are listed and left for a later run.",
		args,
		func(fs *flag.FlagSet) { fs.StringVar(&id, "id", "", "Order id (required)") },
		requireID(&id))
	if code >= 0 {
		return code
	}
	defer cancel()
	defer a.Close()

	resolver, err := a.orders().Resolver(ctx, id)
	if err != nil {
		return fail(err)
	}
	if pending := resolver.Pending(); len(pending) > 0 {
		fmt.Fprintf(os.Stderr, "[sceneslurp] %d items not ready: %s\n", len(pending), strings.Join(pending, ", "))
	}
	products := resolver.Products()
	if len(products) == 0 {
		fmt.Fprintln(os.Stderr, "[sceneslurp] Nothing to download")
		return ExitSuccess
	}

	statuses, err := a.download(ctx, resolver, products, "")
	if err != nil {
		fail(err)
	}
	code = statusCode(statuses)
	if err != nil && code == ExitSuccess {
		return exitCode(err)
	}
	return code
}

func requireID(id *string) func() error {
	return func() error {
		if *id == "" {
			return fmt.Errorf("-id is required")
		}
		return nil
	}
}
