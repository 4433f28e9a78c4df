package session

import (
	"archive/zip"
	"bytes"
	"fmt"
	"time"

	"lynchvision/internal/imaging"
)

const (
	ShotFilename    = "lynchvision_shot.png"
	ArchiveFilename = "lynchvision_storyboard.zip"
	promptsFilename = "prompts.txt"
)

// GridFilename names slot index (zero based) the way downloads show it.
func GridFilename(index int) string {
	return fmt.Sprintf("lynchvision_shot_%d.jpg", index+1)
}

// JPEG returns slot i transcoded for download.
func (g *GridRun) JPEG(i int) ([]byte, bool, error) {
	data, ok := g.Image(i)
	if !ok {
		return nil, false, nil
	}
	out, err := imaging.ToJPEG(data)
	if err != nil {
		return nil, true, err
	}
	return out, true, nil
}

// Archive zips the present slots as JPEG along with the prompt list and
// reports how many images it wrote.
func (g *GridRun) Archive() ([]byte, int, error) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)

	snap := g.Snapshot()
	written := 0
	for _, i := range snap.Present {
		jpeg, ok, err := g.JPEG(i)
		if !ok || err != nil {
			continue
		}
		f, err := zw.CreateHeader(&zip.FileHeader{
			Name:     GridFilename(i),
			Method:   zip.Store,
			Modified: time.Now(),
		})
		if err != nil {
			return nil, 0, fmt.Errorf("zip entry: %w", err)
		}
		if _, err := f.Write(jpeg); err != nil {
			return nil, 0, fmt.Errorf("zip write: %w", err)
		}
		written++
	}

	if len(snap.Prompts) > 0 {
		f, err := zw.Create(promptsFilename)
		if err != nil {
			return nil, 0, fmt.Errorf("zip entry: %w", err)
		}
		for i, p := range snap.Prompts {
			fmt.Fprintf(f, "%d. %s\n\n", i+1, p)
		}
	}

	if err := zw.Close(); err != nil {
		return nil, 0, fmt.Errorf("zip close: %w", err)
	}
	return buf.Bytes(), written, nil
}
