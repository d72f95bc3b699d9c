package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/ayusman/cardsnap/internal/store"
)

var (
	flagLimit     int
	flagExportOut string
)

var capturesCmd = &cobra.Command{
	Use:   "captures",
	Short: "List archived captures",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(func(st *store.Store) error {
			captures, err := st.Captures().List(flagLimit)
			if err != nil {
				return err
			}
			return printCaptures(cmd.OutOrStdout(), captures)
		})
	},
}

var exportCmd = &cobra.Command{
	Use:   "export <id>",
	Short: "Write an archived capture's images to disk",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(func(st *store.Store) error {
			c, err := st.Captures().GetByID(args[0])
			if errors.Is(err, store.ErrNotFound) {
				return fmt.Errorf("capture %s not found", args[0])
			}
			if err != nil {
				return err
			}

			written, err := exportCapture(flagExportOut, c)
			if err != nil {
				return err
			}
			for _, path := range written {
				fmt.Fprintln(cmd.OutOrStdout(), path)
			}
			return nil
		})
	},
}

var deleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Remove a capture from the archive",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(func(st *store.Store) error {
			err := st.Captures().Delete(args[0])
			if errors.Is(err, store.ErrNotFound) {
				return fmt.Errorf("capture %s not found", args[0])
			}
			return err
		})
	},
}

func init() {
	capturesCmd.Flags().IntVarP(&flagLimit, "limit", "n", 20, "Maximum number of captures to list (0 for all)")
	exportCmd.Flags().StringVarP(&flagExportOut, "out", "o", ".", "Directory to write the images into")

	capturesCmd.AddCommand(exportCmd, deleteCmd)
	rootCmd.AddCommand(capturesCmd)
}

func withStore(fn func(st *store.Store) error) error {
	st, err := store.New(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer st.Close()
	return fn(st)
}

func printCaptures(out io.Writer, captures []*store.Capture) error {
	if len(captures) == 0 {
		_, err := fmt.Fprintln(out, "No captures yet.")
		return err
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tCAPTURED\tSIZE\tSHARPNESS\tFACE\tATTEMPTS")
	for _, c := range captures {
		face := "no"
		if c.HasFace() {
			face = "yes"
		}
		fmt.Fprintf(w, "%s\t%s\t%dx%d\t%.1f\t%s\t%d\n",
			c.ID,
			c.CapturedAt.Local().Format("2006-01-02 15:04:05"),
			c.CardWidth, c.CardHeight,
			c.Sharpness,
			face,
			c.Attempts)
	}
	return w.Flush()
}

// exportCapture writes c's JPEGs into dir/<id>/ and returns the paths written.
func exportCapture(dir string, c *store.Capture) ([]string, error) {
	target := filepath.Join(dir, c.ID)
	if err := os.MkdirAll(target, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create export directory: %w", err)
	}

	files := []struct {
		name string
		data []byte
	}{
		{"card.jpg", c.CardJPEG},
		{"face.jpg", c.FaceJPEG},
	}

	var written []string
	for _, f := range files {
		if len(f.data) == 0 {
			continue
		}
		path := filepath.Join(target, f.name)
		if err := os.WriteFile(path, f.data, 0o644); err != nil {
			return written, fmt.Errorf("failed to write %s: %w", f.name, err)
		}
		written = append(written, path)
	}
	return written, nil
}
