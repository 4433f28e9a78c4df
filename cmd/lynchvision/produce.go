package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/spf13/cobra"

	"lynchvision/internal/director"
	"lynchvision/internal/imaging"
	"lynchvision/internal/render"
	"lynchvision/internal/session"
	"lynchvision/internal/studio"
)

var errNoImageFlag = errors.New("--image is required")

func runShot(cmd *cobra.Command, f *flags, build builder) error {
	aspect, err := render.ParseAspectRatio(f.aspect)
	if err != nil {
		return err
	}
	if f.dryRun {
		_, err := fmt.Fprintln(cmd.OutOrStdout(), director.Instruction(director.ModeShot, f.scene))
		return err
	}
	ref, err := readReference(f.image)
	if err != nil {
		return err
	}
	st, err := setup(cmd, f, build)
	if err != nil {
		return err
	}

	stderr := cmd.ErrOrStderr()
	res, err := st.Shot(cmd.Context(), studio.ShotInput{
		Keys:      studio.Keys{Gemini: f.geminiKey, Proxy: f.proxyKey},
		Reference: ref,
		Scene:     f.scene,
		Aspect:    aspect,
		OnStage:   func(s studio.Stage) { fmt.Fprintln(stderr, s) },
	})
	if err != nil {
		return err
	}

	path := filepath.Join(f.outDir, session.ShotFilename)
	if err := os.WriteFile(path, res.PNG, 0o644); err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	fmt.Fprintln(out, res.Prompt)
	fmt.Fprintln(out, path)
	return nil
}

func runGrid(cmd *cobra.Command, f *flags, build builder) error {
	aspect, err := render.ParseAspectRatio(f.aspect)
	if err != nil {
		return err
	}
	if f.dryRun {
		_, err := fmt.Fprintln(cmd.OutOrStdout(), director.Instruction(director.ModeGrid, f.scene))
		return err
	}
	ref, err := readReference(f.image)
	if err != nil {
		return err
	}
	st, err := setup(cmd, f, build)
	if err != nil {
		return err
	}

	stderr := cmd.ErrOrStderr()
	var mu sync.Mutex
	shown := 0
	res, err := st.Grid(cmd.Context(), studio.GridInput{
		Keys:      studio.Keys{Gemini: f.geminiKey, Proxy: f.proxyKey},
		Reference: ref,
		Scene:     f.scene,
		Aspect:    aspect,
		Renderer:  f.renderer,
		OnStage:   func(s studio.Stage) { fmt.Fprintln(stderr, s) },
		OnProgress: func(_ render.Outcome, completed, total int) {
			mu.Lock()
			defer mu.Unlock()
			if completed > shown {
				shown = completed
				fmt.Fprintf(stderr, "rendering %d/%d\n", completed, total)
			}
		},
	})
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	for i, p := range res.Prompts {
		fmt.Fprintf(out, "%d. %s\n", i+1, p)
	}
	if res.Present == 0 {
		return fmt.Errorf("none of the %d shots rendered", len(res.Outcomes))
	}

	written, err := writeGrid(out, f.outDir, res.Images)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "%d/%d shots written via %s\n", written, len(res.Outcomes), res.Renderer)
	return nil
}

// writeGrid stores every present slot as JPEG under its storyboard name.
func writeGrid(out io.Writer, dir string, images [][]byte) (int, error) {
	written := 0
	for i, img := range images {
		if img == nil {
			continue
		}
		jpeg, err := imaging.ToJPEG(img)
		if err != nil {
			return written, fmt.Errorf("shot %d: %w", i+1, err)
		}
		path := filepath.Join(dir, session.GridFilename(i))
		if err := os.WriteFile(path, jpeg, 0o644); err != nil {
			return written, err
		}
		fmt.Fprintln(out, path)
		written++
	}
	return written, nil
}

func readReference(path string) (imaging.Reference, error) {
	if path == "" {
		return imaging.Reference{}, errNoImageFlag
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return imaging.Reference{}, err
	}
	return imaging.NewReference(data, "")
}
