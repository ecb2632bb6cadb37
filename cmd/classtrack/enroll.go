package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/classtrack/classtrack/pkg/camera"
	"github.com/classtrack/classtrack/pkg/gallery"
	"github.com/classtrack/classtrack/pkg/logging"
	"github.com/classtrack/classtrack/pkg/recognition"
)

var (
	enrollName    string
	enrollSamples int
	enrollSpool   string
)

var enrollCmd = &cobra.Command{
	Use:   "enroll <identity-id>",
	Short: "Enroll or retrain an identity from camera captures",
	Long: `Capture face samples from the frame spool and atomically replace the
identity's reference embeddings in the gallery. Frames containing no
face or more than one face are skipped; vary the head angle between
samples for better matching.`,
	Args: cobra.ExactArgs(1),
	RunE: runEnroll,
}

func init() {
	rootCmd.AddCommand(enrollCmd)

	enrollCmd.Flags().StringVar(&enrollName, "name", "", "Display name for the identity (required)")
	enrollCmd.Flags().IntVar(&enrollSamples, "samples", 5, "Number of face samples to capture")
	enrollCmd.Flags().StringVar(&enrollSpool, "spool", "", "Frame spool directory (required)")
	_ = enrollCmd.MarkFlagRequired("name")
	_ = enrollCmd.MarkFlagRequired("spool")
}

func runEnroll(cmd *cobra.Command, args []string) error {
	identityID := args[0]

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return err
	}
	if enrollSamples < 1 {
		return errors.New("samples must be at least 1")
	}

	store, err := gallery.NewStore(cfg.GalleryPath(), cfg.Recognition.EmbeddingDim, cfg.Storage.EncryptionEnabled)
	if err != nil {
		return err
	}
	// First enrollment may run before any gallery file exists.
	if err := store.Init(); err != nil {
		return err
	}

	engine := recognition.NewEngine()
	if err := engine.LoadModels(cfg.Recognition.ModelPath); err != nil {
		return err
	}
	defer engine.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	source := camera.NewSpoolSource(enrollSpool, time.Second/time.Duration(cfg.Camera.FPS))
	defer source.Close()

	fmt.Printf("Capturing %d face samples for %q...\n", enrollSamples, identityID)
	bar := progressbar.Default(int64(enrollSamples))

	embeddings, err := captureSamples(ctx, source, engine, enrollSamples, bar)
	if err != nil {
		return err
	}

	if err := store.ReplaceIdentity(identityID, enrollName, embeddings); err != nil {
		return err
	}

	fmt.Printf("\nEnrolled %s (%s) with %d embeddings.\n", enrollName, identityID, len(embeddings))
	return nil
}

func captureSamples(ctx context.Context, source camera.Source, engine *recognition.DlibEngine,
	count int, bar *progressbar.ProgressBar) ([][]float32, error) {
	var embeddings [][]float32

	for len(embeddings) < count {
		frame, err := source.Next(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return nil, errors.New("enrollment cancelled")
			}
			return nil, err
		}

		emb, err := engine.EmbedSingle(frame)
		if err != nil {
			if errors.Is(err, recognition.ErrNoFaceDetected) || errors.Is(err, recognition.ErrMultipleFaces) {
				logging.Debugf("Skipping sample: %v", err)
				continue
			}
			return nil, err
		}

		embeddings = append(embeddings, emb)
		_ = bar.Add(1)
	}

	return embeddings, nil
}
