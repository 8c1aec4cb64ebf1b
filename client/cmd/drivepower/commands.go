package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"drivepower/client/internal/app"
	"drivepower/client/internal/auth"
	"drivepower/client/internal/chat"
	"drivepower/client/internal/modal"
	"drivepower/client/internal/models"
)

var errUsage = errors.New("usage")

type cli struct {
	app    *app.App
	logger *zap.Logger
	out    io.Writer
	in     io.Reader
	reader *bufio.Reader
}

func (c *cli) run(ctx context.Context, cmd string, args []string) error {
	switch cmd {
	case "login":
		return c.login(ctx, args, false)
	case "login-manager":
		return c.login(ctx, args, true)
	case "register":
		return c.register(ctx, args)
	case "register-manager":
		return c.registerManager(ctx, args)
	case "logout":
		c.app.Auth.Logout(ctx)
		fmt.Fprintln(c.out, "signed out")
		return nil
	case "whoami":
		return c.whoami()
	case "stations":
		return c.stations(ctx, args)
	case "bookings":
		return c.bookings(ctx, args)
	case "book":
		return c.book(ctx, args)
	case "cancel":
		return c.cancel(ctx, args)
	case "rooms":
		return c.rooms(ctx)
	case "new-room":
		return c.newRoom(ctx, args)
	case "messages":
		return c.messages(ctx, args)
	case "send":
		return c.send(ctx, args)
	case "tail":
		return c.tail(ctx, args)
	}
	return errUsage
}

// form runs submit with name marked as the open dialog. The dialog stays open when
// submit fails so the caller can retry.
func (c *cli) form(name modal.Name, submit func() error) error {
	if err := c.app.Modals.OnOpen(name); err != nil {
		return err
	}
	if err := submit(); err != nil {
		return err
	}
	c.app.Modals.OnClose()
	return nil
}

func (c *cli) prompt(label, value string) string {
	if value != "" {
		return value
	}
	if c.reader == nil {
		c.reader = bufio.NewReader(c.in)
	}
	fmt.Fprintf(c.out, "%s: ", label)
	line, _ := c.reader.ReadString('\n')
	return strings.TrimSpace(line)
}

func (c *cli) password(value string) string {
	if value == "" {
		value = os.Getenv("DRIVEPOWER_PASSWORD")
	}
	return c.prompt("Password", value)
}

func (c *cli) login(ctx context.Context, args []string, manager bool) error {
	fs := flag.NewFlagSet("login", flag.ContinueOnError)
	email := fs.String("email", "", "account email")
	uniqueID := fs.String("unique-id", "", "manager unique id")
	password := fs.String("password", "", "account password (or DRIVEPOWER_PASSWORD)")
	remember := fs.Bool("remember", false, "ask for a long-lived session")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if manager {
		return c.form(modal.ManagerLogin, func() error {
			req := auth.ManagerLoginRequest{Email: *email, UniqueID: *uniqueID}
			if req.UniqueID == "" {
				req.Email = c.prompt("Email", req.Email)
			}
			req.Password = c.password(*password)
			if err := c.app.Auth.LoginManager(ctx, req); err != nil {
				return err
			}
			return c.whoami()
		})
	}
	return c.form(modal.Login, func() error {
		req := auth.LoginRequest{Email: c.prompt("Email", *email), Remember: *remember}
		req.Password = c.password(*password)
		if err := c.app.Auth.Login(ctx, req); err != nil {
			return err
		}
		return c.whoami()
	})
}

func (c *cli) register(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("register", flag.ContinueOnError)
	name := fs.String("name", "", "full name")
	email := fs.String("email", "", "account email")
	phone := fs.String("phone", "", "phone number")
	password := fs.String("password", "", "account password (or DRIVEPOWER_PASSWORD)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	return c.form(modal.Register, func() error {
		req := auth.RegisterRequest{
			FullName: c.prompt("Full name", *name),
			Email:    c.prompt("Email", *email),
			Phone:    *phone,
		}
		req.Password = c.password(*password)
		if err := c.app.Auth.Register(ctx, req); err != nil {
			return err
		}
		if !c.app.Auth.IsAuthenticated() {
			fmt.Fprintln(c.out, "account created, sign in to continue")
			return nil
		}
		return c.whoami()
	})
}

func (c *cli) registerManager(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("register-manager", flag.ContinueOnError)
	name := fs.String("name", "", "full name")
	email := fs.String("email", "", "account email")
	phone := fs.String("phone", "", "phone number")
	company := fs.String("company", "", "company name")
	password := fs.String("password", "", "account password (or DRIVEPOWER_PASSWORD)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	return c.form(modal.ManagerRegister, func() error {
		req := auth.ManagerRegisterRequest{
			FullName:    c.prompt("Full name", *name),
			Email:       c.prompt("Email", *email),
			Phone:       *phone,
			CompanyName: *company,
		}
		req.Password = c.password(*password)
		result, err := c.app.Auth.RegisterManager(ctx, req)
		if err != nil {
			return err
		}
		if result.Pending {
			fmt.Fprintf(c.out, "registration pending approval (unique id %s)\n", result.UniqueID)
			if result.Message != "" {
				fmt.Fprintln(c.out, result.Message)
			}
			return nil
		}
		return c.whoami()
	})
}

func (c *cli) whoami() error {
	if !c.app.Auth.IsAuthenticated() {
		fmt.Fprintln(c.out, "not signed in")
		return nil
	}
	s := c.app.Auth.Session()
	fmt.Fprintf(c.out, "%s <%s> role=%s id=%s expires=%s\n", s.DisplayName, s.Email, s.Role, s.UserID, s.ExpiresAt.Format(time.RFC3339))
	return nil
}

func (c *cli) stations(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("stations", flag.ContinueOnError)
	managerID := fs.String("manager", "", "list stations of a manager (\"me\" for yourself)")
	id := fs.String("id", "", "show one station")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if *id != "" {
		if err := c.app.Stations.FetchStationByID(ctx, *id); err != nil {
			return err
		}
		st, _ := c.app.Stations.Current()
		printStations(c.out, []models.Station{st})
		return nil
	}

	var err error
	switch *managerID {
	case "":
		err = c.app.Stations.FetchStations(ctx)
	case "me":
		err = c.app.Stations.FetchManagerStations(ctx, "")
	default:
		err = c.app.Stations.FetchManagerStations(ctx, *managerID)
	}
	if err != nil {
		return err
	}
	printStations(c.out, c.app.Stations.Stations())
	return nil
}

func (c *cli) bookings(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("bookings", flag.ContinueOnError)
	stationID := fs.String("station", "", "list bookings of a station instead of your own")
	if err := fs.Parse(args); err != nil {
		return err
	}
	var err error
	if *stationID != "" {
		err = c.app.Bookings.FetchStationBookings(ctx, *stationID)
	} else {
		err = c.app.Bookings.FetchUserBookings(ctx, "")
	}
	if err != nil {
		return err
	}
	printBookings(c.out, c.app.Bookings.Bookings())
	return nil
}

func (c *cli) book(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("book", flag.ContinueOnError)
	stationID := fs.String("station", "", "station id")
	date := fs.String("date", "", "date (YYYY-MM-DD)")
	start := fs.String("start", "", "start time (HH:MM)")
	duration := fs.Int("duration", 60, "duration in minutes")
	if err := fs.Parse(args); err != nil {
		return err
	}
	b, err := c.app.Bookings.CreateBooking(ctx, models.CreateBookingRequest{
		StationID: *stationID,
		Date:      *date,
		StartTime: *start,
		Duration:  *duration,
	})
	if err != nil {
		return err
	}
	printBookings(c.out, []models.Booking{b})
	return nil
}

func (c *cli) cancel(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return errUsage
	}
	b, err := c.app.Bookings.CancelBooking(ctx, args[0])
	if err != nil {
		return err
	}
	printBookings(c.out, []models.Booking{b})
	return nil
}

func (c *cli) rooms(ctx context.Context) error {
	if err := c.app.Chat.FetchRooms(ctx); err != nil {
		return err
	}
	printRooms(c.out, c.app.Chat.Rooms())
	return nil
}

func (c *cli) newRoom(ctx context.Context, args []string) error {
	if len(args) < 1 {
		return errUsage
	}
	room, err := c.app.Chat.CreateRoom(ctx, strings.Join(args, " "))
	if err != nil {
		return err
	}
	printRooms(c.out, []models.ChatRoom{room})
	return nil
}

func (c *cli) messages(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return errUsage
	}
	if err := c.app.Chat.FetchRooms(ctx); err != nil {
		return err
	}
	if err := c.app.Chat.FetchMessages(ctx, args[0]); err != nil {
		return err
	}
	for _, msg := range c.app.Chat.Messages(args[0]) {
		printMessage(c.out, msg)
	}
	return nil
}

func (c *cli) send(ctx context.Context, args []string) error {
	if len(args) < 2 {
		return errUsage
	}
	msg, err := c.app.Chat.SendMessage(ctx, args[0], strings.Join(args[1:], " "))
	if err != nil {
		return err
	}
	if msg != nil {
		printMessage(c.out, *msg)
	}
	return nil
}

func (c *cli) tail(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("tail", flag.ContinueOnError)
	metricsAddr := fs.String("metrics-addr", "", "serve /metrics on this address")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return errUsage
	}
	roomID := fs.Arg(0)

	if *metricsAddr != "" {
		srv := &http.Server{Addr: *metricsAddr, Handler: metricsMux(), ReadHeaderTimeout: 5 * time.Second}
		go func() {
			c.logger.Info("metrics listening", zap.String("addr", *metricsAddr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				c.logger.Warn("metrics server stopped", zap.Error(err))
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	if err := c.app.StartScheduler(); err != nil {
		return err
	}
	if err := c.app.Chat.FetchRooms(ctx); err != nil {
		return err
	}
	if err := c.app.Chat.FetchMessages(ctx, roomID); err != nil {
		return err
	}
	if err := c.app.Chat.Connect(ctx); err != nil {
		return err
	}
	defer c.app.Chat.Disconnect()
	if err := c.app.Chat.JoinRoom(ctx, roomID); err != nil {
		return err
	}

	printed := 0
	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()
	for {
		for _, msg := range c.app.Chat.Messages(roomID)[printed:] {
			printMessage(c.out, msg)
			printed++
		}
		select {
		case <-ctx.Done():
			leaveCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			_ = c.app.Chat.LeaveRoom(leaveCtx, roomID)
			cancel()
			return nil
		case <-ticker.C:
		}
		if c.app.Chat.Status() != chat.StatusConnected {
			return fmt.Errorf("chat connection lost: %s", c.app.Chat.Err())
		}
	}
}

func metricsMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return mux
}

func printStations(out io.Writer, list []models.Station) {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tSTATUS\tPOWER\tPRICE\tADDRESS")
	for _, st := range list {
		fmt.Fprintf(w, "%s\t%s\t%s\t%.0f kW\t%.2f/kWh\t%s\n", st.ID, st.Name, st.Status, st.PowerKW, st.PricePerKWh, st.Address)
	}
	_ = w.Flush()
}

func printBookings(out io.Writer, list []models.Booking) {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSTATION\tDATE\tSTART\tMINUTES\tSTATUS\tTOTAL")
	for _, b := range list {
		station := b.StationName
		if station == "" {
			station = b.StationID
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\t%.2f\n", b.ID, station, b.Date, b.StartTime, b.Duration, b.Status, b.TotalPrice)
	}
	_ = w.Flush()
}

func printRooms(out io.Writer, list []models.ChatRoom) {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSUBJECT\tSTATUS\tUNREAD\tLAST")
	for _, r := range list {
		last := ""
		if r.LastMessage != nil {
			last = r.LastMessage.Content
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n", r.ID, r.Subject, r.Status, r.UnreadCount, last)
	}
	_ = w.Flush()
}

func printMessage(out io.Writer, msg models.ChatMessage) {
	fmt.Fprintf(out, "[%s] %s: %s\n", msg.SentAt.Local().Format("15:04"), msg.SenderID, msg.Content)
}
