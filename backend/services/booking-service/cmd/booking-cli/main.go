// Command booking-cli logs in with a QR code and prints a smart search from the terminal.
package main

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"railbook/backend/libs/logging"
	"railbook/backend/services/booking-service/internal/booking"
	"railbook/backend/services/booking-service/internal/inventory"
	"railbook/backend/services/booking-service/internal/models"
	"railbook/backend/services/booking-service/internal/poller"
	"railbook/backend/services/booking-service/internal/service"
	"railbook/backend/services/booking-service/internal/session"
	"railbook/backend/services/booking-service/internal/stations"
	"railbook/backend/services/booking-service/internal/upstream"
)

type options struct {
	from         string
	to           string
	date         string
	types        string
	sortBy       string
	qrOut        string
	stationCache string
	baseURL      string
	timeout      time.Duration
	pollInterval time.Duration
	loginTimeout time.Duration
}

func main() {
	var opts options
	flags := pflag.NewFlagSet("booking-cli", pflag.ExitOnError)
	flags.StringVarP(&opts.from, "from", "f", "", "departure station name")
	flags.StringVarP(&opts.to, "to", "t", "", "arrival station name")
	flags.StringVarP(&opts.date, "date", "d", "明天", "travel date (YYYY-MM-DD, YYYYMMDD, 今天, 明天, 后天)")
	flags.StringVar(&opts.types, "types", "", "train type letters, comma separated (G,D)")
	flags.StringVar(&opts.sortBy, "sort", inventory.SortTime, "sort by time or duration")
	flags.StringVar(&opts.qrOut, "qr-out", "login_qr.png", "where to write the QR image")
	flags.StringVar(&opts.stationCache, "stations-cache", "data/stations.json", "station table cache file")
	flags.StringVar(&opts.baseURL, "base-url", upstream.DefaultBaseURL, "upstream base URL")
	flags.DurationVar(&opts.timeout, "timeout", 5*time.Second, "upstream call timeout")
	flags.DurationVar(&opts.pollInterval, "poll-interval", 2*time.Second, "login poll interval")
	flags.DurationVar(&opts.loginTimeout, "login-timeout", 3*time.Minute, "give up waiting for the scan after this long")
	_ = flags.Parse(os.Args[1:])

	if opts.from == "" || opts.to == "" {
		fmt.Fprintln(os.Stderr, "usage: booking-cli --from 北京 --to 上海 [--date 明天]")
		flags.PrintDefaults()
		os.Exit(2)
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger, err := logging.NewLogger("booking-cli")
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	if err := run(ctx, opts, logger); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, opts options, logger *zap.Logger) error {
	clientOpts := upstream.Options{BaseURL: opts.baseURL, Timeout: opts.timeout, Logger: logger}
	downloader, err := upstream.NewClient(clientOpts)
	if err != nil {
		return err
	}
	table, err := stations.Load(ctx, opts.stationCache, downloader, logger)
	if err != nil {
		return err
	}

	scheduler := poller.NewScheduler(opts.pollInterval, opts.timeout, logger)
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = scheduler.Shutdown(shutdownCtx)
	}()

	registry := session.NewRegistry(nil, func() (session.Transport, error) {
		c, err := upstream.NewClient(clientOpts)
		if err != nil {
			return nil, err
		}
		return c, nil
	}, 0, logger)
	engine := inventory.NewEngine(table, logger)
	svc := service.NewBookingService(service.Deps{
		Registry:     registry,
		Scheduler:    scheduler,
		Stations:     table,
		Engine:       engine,
		Orchestrator: booking.New(engine, booking.Options{Logger: logger}),
		Logger:       logger,
	})

	sid := uuid.NewString()
	challenge, err := svc.BeginLogin(ctx, sid)
	if err != nil {
		return fmt.Errorf("request QR code: %w", err)
	}
	if err := writeQR(opts.qrOut, challenge.QRImage); err != nil {
		return err
	}
	fmt.Printf("QR code written to %s, scan it with the 12306 app\n", opts.qrOut)

	if err := waitForLogin(ctx, svc, sid, challenge.UUID, opts); err != nil {
		return err
	}

	res, err := svc.SmartSearch(ctx, sid, service.SmartSearchInput{
		From:   opts.from,
		To:     opts.to,
		Date:   opts.date,
		Types:  opts.types,
		SortBy: opts.sortBy,
	})
	if err != nil {
		return fmt.Errorf("search: %w", err)
	}
	printOffers(res)
	return nil
}

func writeQR(path, image string) error {
	if i := strings.Index(image, ","); i >= 0 && strings.HasPrefix(image, "data:") {
		image = image[i+1:]
	}
	png, err := base64.StdEncoding.DecodeString(image)
	if err != nil {
		return fmt.Errorf("decode QR image: %w", err)
	}
	return os.WriteFile(path, png, 0o644)
}

func waitForLogin(ctx context.Context, svc *service.BookingService, sid, challengeID string, opts options) error {
	deadline := time.Now().Add(opts.loginTimeout)
	last := ""
	for {
		st, err := svc.LoginStatus(ctx, sid, challengeID)
		if err != nil {
			return err
		}
		if st.Status != last {
			fmt.Println(st.Message)
			last = st.Status
		}
		if st.LoggedIn {
			fmt.Printf("logged in as %s\n", st.Username)
			return nil
		}
		if st.Status == "expired" || st.Status == "failed" {
			return fmt.Errorf("login %s: %s", st.Status, st.Message)
		}
		if time.Now().After(deadline) {
			return errors.New("login timed out")
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(opts.pollInterval):
		}
	}
}

func printOffers(res inventory.SmartResult) {
	fmt.Printf("%s: %d trains\n", res.Date, len(res.Offers))
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TRAIN\tDEPART\tARRIVE\tDURATION\tBUSINESS\tFIRST\tSECOND\tSOFT SLEEPER\tHARD SLEEPER\tHARD SEAT\tSTANDING")
	for _, o := range res.Offers {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			o.TrainCode, o.StartTime, o.ArriveTime, o.Duration,
			o.Seat(models.SeatBusiness), o.Seat(models.SeatFirst), o.Seat(models.SeatSecond),
			o.Seat(models.SeatSoftSleeper), o.Seat(models.SeatHardSleeper),
			o.Seat(models.SeatHardSeat), o.Seat(models.SeatStanding))
	}
	_ = w.Flush()
}
