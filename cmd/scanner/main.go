// Command scanner is the gangway device client. It validates a ticket
// online when the server is reachable and otherwise records the scan in a
// local SQLite queue that "sync" later replays through the batch endpoint.
//
//	scanner scan --code CODE --trip TRIP_ID [--offline]
//	scanner sync
//	scanner status
//	scanner retry
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/pflag"

	"github.com/pkordes/ferry-boarding/internal/qrtoken"
	"github.com/pkordes/ferry-boarding/internal/scanqueue"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout, os.Stderr); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "scanner: %v\n", err)
		os.Exit(1)
	}
}

type options struct {
	queuePath string
	server    string
	deviceID  string
	token     string
	tokenKey  string
	code      string
	trip      string
	offline   bool
	batchSize int
	timeout   time.Duration
	verbose   bool
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	var opts options
	flagSet := pflag.NewFlagSet("scanner", pflag.ContinueOnError)
	flagSet.SetOutput(stderr)
	flagSet.StringVar(&opts.queuePath, "queue", "scanner-queue.db", "path to the offline queue database")
	flagSet.StringVar(&opts.server, "server", os.Getenv("SCANNER_SERVER"), "boarding API base URL")
	flagSet.StringVar(&opts.deviceID, "device", os.Getenv("SCANNER_DEVICE_ID"), "this device's id")
	flagSet.StringVar(&opts.token, "token", os.Getenv("SCANNER_TOKEN"), "device bearer token")
	flagSet.StringVar(&opts.tokenKey, "token-key", os.Getenv("SCANNER_TOKEN_KEY"), "hex ticket key for rejecting forged codes locally")
	flagSet.StringVar(&opts.code, "code", "", "scanned QR payload (scan)")
	flagSet.StringVar(&opts.trip, "trip", "", "trip being boarded (scan)")
	flagSet.BoolVar(&opts.offline, "offline", false, "queue the scan without contacting the server (scan)")
	flagSet.IntVar(&opts.batchSize, "batch-size", 100, "scans per batch request (sync)")
	flagSet.DurationVar(&opts.timeout, "timeout", 10*time.Second, "per-request timeout")
	flagSet.BoolVarP(&opts.verbose, "verbose", "v", false, "log to stderr")
	flagSet.Usage = func() {
		fmt.Fprintln(stderr, "usage: scanner <scan|sync|status|retry> [flags]")
		flagSet.PrintDefaults()
	}

	if err := flagSet.Parse(args); err != nil {
		return err
	}
	if flagSet.NArg() != 1 {
		flagSet.Usage()
		return errors.New("exactly one command is required")
	}

	level := slog.LevelWarn
	if opts.verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: level}))

	queue, err := scanqueue.Open(scanqueue.Config{Path: opts.queuePath, Logger: logger})
	if err != nil {
		return err
	}
	defer queue.Close()

	switch cmd := flagSet.Arg(0); cmd {
	case "scan":
		return scan(ctx, opts, queue, stdout)
	case "sync":
		return sync(ctx, opts, queue, logger, stdout)
	case "status":
		return status(ctx, queue, stdout)
	case "retry":
		n, err := queue.Retry(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(stdout, "%d scans moved back to pending\n", n)
		return nil
	default:
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func scan(ctx context.Context, opts options, queue *scanqueue.Queue, stdout io.Writer) error {
	if opts.code == "" || opts.trip == "" {
		return errors.New("scan needs --code and --trip")
	}
	tripID, err := uuid.Parse(opts.trip)
	if err != nil {
		return fmt.Errorf("--trip: %w", err)
	}
	scannedAt := time.Now().UTC()

	if opts.tokenKey != "" {
		key, err := qrtoken.ParseKey(opts.tokenKey)
		if err != nil {
			return fmt.Errorf("--token-key: %w", err)
		}
		issuer, err := qrtoken.NewIssuer(key)
		if err != nil {
			return err
		}
		if err := issuer.Verify(opts.code); err != nil {
			fmt.Fprintf(stdout, "REJECTED  not a valid ticket (%v)\n", err)
			return nil
		}
	}

	if !opts.offline && opts.server != "" {
		if opts.deviceID == "" {
			return errors.New("--device is required to scan online")
		}
		client := scanqueue.NewClient(opts.server, opts.token, &http.Client{Timeout: opts.timeout})
		res, err := client.Scan(ctx, scanqueue.ScanRequest{
			DeviceID:   opts.deviceID,
			TripID:     tripID,
			TicketCode: opts.code,
			Timestamp:  scannedAt,
		})
		if err == nil && res.Settled() {
			printResult(stdout, res)
			return nil
		}
		var statusErr *scanqueue.HTTPStatusError
		if errors.As(err, &statusErr) && statusErr.Definitive() {
			return err
		}
		// Unreachable, 5xx, or an unevaluated scan: keep it for sync.
	}

	entry, err := queue.Enqueue(ctx, opts.code, tripID, scannedAt)
	if err != nil {
		return err
	}
	fmt.Fprintf(stdout, "QUEUED    %s (will be validated on sync)\n", entry.ID)
	return nil
}

func sync(ctx context.Context, opts options, queue *scanqueue.Queue, logger *slog.Logger, stdout io.Writer) error {
	if opts.server == "" || opts.deviceID == "" {
		return errors.New("sync needs --server and --device")
	}
	// Entries a crashed sync left claimed go back to pending. Only sync
	// claims entries, so no other command may touch them.
	if _, err := queue.Recover(ctx); err != nil {
		return err
	}
	client := scanqueue.NewClient(opts.server, opts.token, &http.Client{Timeout: opts.timeout})
	report, err := scanqueue.NewSyncer(queue, client, opts.deviceID, opts.batchSize, logger).Sync(ctx)
	fmt.Fprintf(stdout, "sent %d, acknowledged %d, reverted %d, failed %d\n",
		report.Sent, report.Acknowledged, report.Reverted, report.Failed)
	for outcome, n := range report.Outcomes {
		fmt.Fprintf(stdout, "  %-18s %d\n", outcome, n)
	}
	return err
}

func status(ctx context.Context, queue *scanqueue.Queue, stdout io.Writer) error {
	counts, err := queue.Counts(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(stdout, "pending %d, syncing %d, error %d\n",
		counts[scanqueue.StatusPending], counts[scanqueue.StatusSyncing], counts[scanqueue.StatusError])

	failed, err := queue.List(ctx, scanqueue.StatusError, 20)
	if err != nil {
		return err
	}
	for _, e := range failed {
		fmt.Fprintf(stdout, "  %s  %s  attempts=%d  %s\n", e.ID, e.TicketCode, e.Attempts, e.LastError)
	}
	return nil
}

func printResult(w io.Writer, res scanqueue.Result) {
	switch res.Result {
	case scanqueue.OutcomeAccepted:
		if t := res.Ticket; t != nil {
			fmt.Fprintf(w, "ACCEPTED  %s (%s)  %s\n", t.PassengerName, t.PassengerType, t.BookingReference)
			return
		}
		fmt.Fprintln(w, "ACCEPTED")
	case scanqueue.OutcomeAlreadyUsed:
		if res.PreviousUsedAt != nil {
			fmt.Fprintf(w, "ALREADY BOARDED at %s\n", res.PreviousUsedAt.Local().Format("15:04:05"))
			return
		}
		fmt.Fprintln(w, "ALREADY BOARDED")
	default:
		fmt.Fprintf(w, "REJECTED  %s: %s\n", res.Result, res.Message)
	}
}
