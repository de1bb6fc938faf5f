package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/smazurov/camnode/internal/cameras"
	"github.com/smazurov/camnode/internal/codec"
	"github.com/smazurov/camnode/internal/logging"
	"github.com/spf13/cobra"
)

// CreateSnapCmd creates the snap command.
func CreateSnapCmd() *cobra.Command {
	var flags simFlags
	var format string
	var outputDir string
	var count int
	var timeout time.Duration
	var logJSON bool

	cmd := &cobra.Command{
		Use:   "snap [index]",
		Short: "Capture still images from one camera",
		Long: `Connects to the camera at the given discovery index, starts continuous acquisition ` +
			`and writes the next frames as image files. The camera is released on exit.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			index := 0
			if len(args) == 1 {
				n, err := strconv.Atoi(args[0])
				if err != nil {
					return fmt.Errorf("invalid camera index %q", args[0])
				}
				index = n
			}
			f, err := codec.ParseFormat(format)
			if err != nil {
				return err
			}

			loggingConfig := logging.Config{Level: "warn", Format: "text"}
			if logJSON {
				loggingConfig.Format = "json"
			}
			logging.Initialize(loggingConfig)

			files, err := snapFiles(c.Context(), flags, index, f, outputDir, count, timeout)
			for _, path := range files {
				fmt.Fprintln(c.OutOrStdout(), path)
			}
			return err
		},
	}

	flags.register(cmd)
	cmd.Flags().StringVarP(&format, "format", "f", "jpeg", "Image format (jpeg, png, tiff, bmp)")
	cmd.Flags().StringVarP(&outputDir, "output", "o", ".", "Directory for the image files")
	cmd.Flags().IntVarP(&count, "count", "n", 1, "Number of frames to capture")
	cmd.Flags().DurationVar(&timeout, "timeout", 2*time.Second, "Wait per frame")
	cmd.Flags().BoolVar(&logJSON, "log-json", false, "Use JSON log format")
	return cmd
}

// snapFiles captures count frames from the camera at index and returns the
// written paths.
func snapFiles(ctx context.Context, flags simFlags, index int, format codec.Format, dir string, count int, timeout time.Duration) ([]string, error) {
	if count < 1 {
		return nil, fmt.Errorf("count must be at least 1")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create output directory: %w", err)
	}

	mgr := cameras.NewManager(cameras.Options{
		Driver: flags.driver(),
		Logger: logging.GetLogger("session"),
	})
	defer mgr.Shutdown()

	sess, err := mgr.Connect(ctx, index)
	if err != nil {
		return nil, err
	}
	if err := mgr.Start(sess.ID()); err != nil {
		return nil, err
	}

	var files []string
	for i := 0; i < count; i++ {
		res, err := mgr.Snap(ctx, sess.ID(), format, timeout)
		if err != nil {
			return files, fmt.Errorf("snap %d: %w", i+1, err)
		}
		name := fmt.Sprintf("%s_%06d.%s", sess.Info().Serial, res.Seq, format.Extension())
		path := filepath.Join(dir, name)
		if err := os.WriteFile(path, res.Data, 0o644); err != nil {
			return files, fmt.Errorf("write %s: %w", path, err)
		}
		files = append(files, path)
	}
	return files, nil
}
