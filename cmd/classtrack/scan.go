package main

import (
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/classtrack/classtrack/pkg/alert"
	"github.com/classtrack/classtrack/pkg/camera"
	"github.com/classtrack/classtrack/pkg/gallery"
	"github.com/classtrack/classtrack/pkg/logging"
	"github.com/classtrack/classtrack/pkg/match"
	"github.com/classtrack/classtrack/pkg/recognition"
	"github.com/classtrack/classtrack/pkg/scanner"
	"github.com/classtrack/classtrack/pkg/session"
	"github.com/classtrack/classtrack/pkg/storage"
)

var (
	scanSubject string
	scanSpool   string
)

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Run an attendance scanning session",
	Long: `Start a session for a subject and process camera frames until
interrupted. Recognized identities are marked present once per session;
unrecognized faces raise security alerts subject to the configured
cooldown.

Frames are read from a spool directory kept filled by an external frame
grabber, for example:

  ffmpeg -f v4l2 -i /dev/video0 -vf fps=5 spool/frame_%06d.jpg`,
	RunE: runScan,
}

func init() {
	rootCmd.AddCommand(scanCmd)

	scanCmd.Flags().StringVar(&scanSubject, "subject", "", "Subject of the session (required)")
	scanCmd.Flags().StringVar(&scanSpool, "spool", "", "Frame spool directory (required)")
	_ = scanCmd.MarkFlagRequired("subject")
	_ = scanCmd.MarkFlagRequired("spool")
}

func runScan(cmd *cobra.Command, args []string) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return err
	}

	// A missing or corrupt gallery is fatal at startup; the scanner
	// never runs against a partially loaded gallery.
	store, err := gallery.NewStore(cfg.GalleryPath(), cfg.Recognition.EmbeddingDim, cfg.Storage.EncryptionEnabled)
	if err != nil {
		return err
	}
	if err := store.Load(); err != nil {
		return fmt.Errorf("cannot start scanning: %w", err)
	}

	db, err := storage.Open(cfg.Storage.AttendanceDB)
	if err != nil {
		return err
	}
	defer db.Close()

	engine := recognition.NewEngine()
	if err := engine.LoadModels(cfg.Recognition.ModelPath); err != nil {
		return err
	}
	defer engine.Close()

	var matcher match.Matcher
	switch cfg.Recognition.Index {
	case "hnsw":
		matcher = match.NewHNSWMatcher(store, cfg.Recognition.MatchThreshold)
	default:
		matcher = match.NewBruteMatcher(store, cfg.Recognition.MatchThreshold)
	}

	tracker := session.NewTracker(db)
	alerts := alert.NewManager(time.Duration(cfg.Alerts.CooldownSeconds*float64(time.Second)), db)
	scan := scanner.New(engine, engine, matcher, tracker, alerts)

	info, err := scan.StartSession(scanSubject)
	if err != nil {
		return err
	}
	fmt.Printf("Session %s started for %q. Press Ctrl+C to end.\n", info.ID, scanSubject)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pollInterval := time.Second / time.Duration(cfg.Camera.FPS)
	source := camera.NewSpoolSource(scanSpool, pollInterval)
	defer source.Close()

	done := make(chan error, 1)
	go func() { done <- scan.Run(ctx, source) }()

	names := displayNames(store)
	for ev := range scan.Events() {
		printEvent(ev, names)
	}

	scan.EndSession()
	if err := <-done; err != nil {
		return err
	}

	if final, ok := tracker.Current(); ok {
		fmt.Printf("Session ended: %d identities marked present.\n", final.Marked)
	}
	return nil
}

func displayNames(store *gallery.Store) map[string]string {
	names := make(map[string]string)
	for _, ident := range store.Snapshot().Identities {
		names[ident.ID] = ident.DisplayName
	}
	return names
}

func printEvent(ev scanner.Event, names map[string]string) {
	stamp := ev.Timestamp.Format("15:04:05")
	switch ev.Kind {
	case scanner.EventAttendanceMarked:
		fmt.Printf("[%s] PRESENT  %s (%s) distance=%.3f\n", stamp, names[ev.IdentityID], ev.IdentityID, ev.Distance)
	case scanner.EventAlreadyPresent:
		logging.Debugf("Seen again: %s at %s", ev.IdentityID, stamp)
	case scanner.EventSecurityAlert:
		fmt.Printf("[%s] ALERT    unknown face at (%d,%d) %dx%d\n",
			stamp, ev.Region.X, ev.Region.Y, ev.Region.Width, ev.Region.Height)
	}
}
