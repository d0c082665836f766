package history

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/ent0n29/sprout/internal/audio"
)

// sampleFiles owns the on-disk samples directory shared by both index
// backends. Directory creation is idempotent and happens at construction;
// failing there is a startup error, never a per-request one.
type sampleFiles struct {
	dir string
}

func newSampleFiles(cacheDir string) (*sampleFiles, error) {
	dir := filepath.Join(cacheDir, "samples")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create samples dir: %w", err)
	}
	return &sampleFiles{dir: dir}, nil
}

// write stores the buffer as <id>.wav, going through a temp file so a crash
// mid-write never leaves a half-readable entry behind.
func (f *sampleFiles) write(id string, buf audio.Buffer) (string, error) {
	final := filepath.Join(f.dir, id+".wav")
	tmp := filepath.Join(f.dir, fmt.Sprintf(".%s-%s.tmp", id, uuid.NewString()))

	if err := audio.WriteWAVFile(tmp, buf); err != nil {
		_ = os.Remove(tmp)
		return "", fmt.Errorf("write sample %s: %w", id, err)
	}
	if err := os.Rename(tmp, final); err != nil {
		_ = os.Remove(tmp)
		return "", fmt.Errorf("finalize sample %s: %w", id, err)
	}
	return final, nil
}

func (f *sampleFiles) read(path string) (audio.Buffer, error) {
	buf, err := audio.ReadWAVFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return audio.Buffer{}, ErrNotFound
		}
		return audio.Buffer{}, fmt.Errorf("read sample %s: %w", path, err)
	}
	return buf, nil
}
