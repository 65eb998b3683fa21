package cron

import (
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"camrec/recording"

	"github.com/nareix/joy4/av"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2024, 7, 20, 12, 0, 0, 0, time.Local)

func makeFile(t *testing.T, dir, name string, size int, age time.Duration) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, make([]byte, size), 0644))
	mtime := testNow.Add(-age)
	require.NoError(t, os.Chtimes(path, mtime, mtime))
	return path
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func TestReaperDeletesOldClosedFilesOnly(t *testing.T) {
	dir := t.TempDir()
	reg := recording.NewRegistry()

	closed := makeFile(t, dir, "cam1_2024-07-12_10-00-00.ts", 1024, 8*24*time.Hour)
	open := makeFile(t, dir, "cam2_2024-07-12_10-00-00.ts", 2048, 8*24*time.Hour)
	young := makeFile(t, dir, "cam1_2024-07-19_10-00-00.ts", 10, 24*time.Hour)
	notes := makeFile(t, dir, "notes.txt", 10, 30*24*time.Hour)
	reg.MarkOpen(recording.SegmentDescriptor{CameraID: "cam2", Path: open})

	var deleted []string
	reaper := &Reaper{
		Dir:       dir,
		Retention: 7 * 24 * time.Hour,
		Registry:  reg,
		OnDelete:  func(f FileInfo) { deleted = append(deleted, f.Path) },
	}
	report, err := reaper.Run(testNow)
	require.NoError(t, err)

	assert.False(t, exists(closed), "8 day old closed segment must be deleted")
	assert.True(t, exists(open), "open segment must survive regardless of age")
	assert.True(t, exists(young))
	assert.True(t, exists(notes), "non-video files are never touched")

	assert.Equal(t, 3, report.TotalFiles)
	assert.Equal(t, 1, report.Skipped)
	assert.Equal(t, 1, report.SkippedOpen)
	assert.Equal(t, 1, report.Deleted)
	assert.Equal(t, int64(1024), report.FreedBytes)
	assert.Equal(t, []string{closed}, deleted)
	require.Len(t, report.Candidates, 1)
	assert.Equal(t, 8, report.Candidates[0].AgeDays)

	// once the writer closes it, the next pass removes it
	reg.MarkClosed(open)
	report, err = reaper.Run(testNow)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Deleted)
	assert.False(t, exists(open))
}

func TestReaperDryRun(t *testing.T) {
	dir := t.TempDir()
	a := makeFile(t, dir, "cam1_a.mp4", 3*1024*1024, 10*24*time.Hour)
	b := makeFile(t, dir, "cam1_b.TS", 1024*1024, 9*24*time.Hour)

	reaper := &Reaper{Dir: dir, Retention: 7 * 24 * time.Hour, DryRun: true}
	report, err := reaper.Run(testNow)
	require.NoError(t, err)

	assert.True(t, report.DryRun)
	assert.True(t, exists(a))
	assert.True(t, exists(b))
	assert.Equal(t, 0, report.Deleted)
	require.Len(t, report.Candidates, 2)
	assert.Equal(t, a, report.Candidates[0].Path, "oldest first")
	assert.Equal(t, int64(4*1024*1024), report.FreedBytes)
	assert.Equal(t, 4.0, report.FreedMB())
}

func TestReaperMissingDirectory(t *testing.T) {
	reaper := &Reaper{Dir: filepath.Join(t.TempDir(), "missing"), Retention: time.Hour}
	report, err := reaper.Run(testNow)
	require.NoError(t, err)
	assert.Equal(t, 0, report.TotalFiles)
}

func TestReaperRespectsLiveSegmentWriter(t *testing.T) {
	dir := t.TempDir()
	reg := recording.NewRegistry()
	w := recording.NewSegmentWriter(recording.SegmentWriterConfig{
		CameraID: "cam1",
		Dir:      dir,
		Duration: time.Hour,
		Registry: reg,
		NewMuxer: func(w io.Writer) av.Muxer { return &nopMuxer{w: w} },
		Now:      func() time.Time { return testNow.Add(-30 * 24 * time.Hour) },
	})
	require.NoError(t, w.Write(av.Packet{IsKeyFrame: true, Data: []byte("frame")}))
	seg, ok := w.Current()
	require.True(t, ok)
	old := testNow.Add(-30 * 24 * time.Hour)
	require.NoError(t, os.Chtimes(seg.Path, old, old))

	reaper := &Reaper{Dir: dir, Retention: 7 * 24 * time.Hour, Registry: reg}
	report, err := reaper.Run(testNow)
	require.NoError(t, err)
	assert.Equal(t, 0, report.Deleted)
	assert.True(t, exists(seg.Path))

	require.NoError(t, w.Close())
	require.NoError(t, os.Chtimes(seg.Path, old, old))
	report, err = reaper.Run(testNow)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Deleted)
}

func TestRetentionCronRunOnce(t *testing.T) {
	dir := t.TempDir()
	makeFile(t, dir, "cam1_old.ts", 10, 400*24*time.Hour)

	var got []Report
	rc := NewRetentionCron(&Reaper{Dir: dir, Retention: 24 * time.Hour}, "@every 1h", func(r Report) { got = append(got, r) })
	_, _, ok := rc.LastReport()
	assert.False(t, ok)

	rc.RunOnce()
	report, at, ok := rc.LastReport()
	require.True(t, ok)
	assert.False(t, at.IsZero())
	assert.Equal(t, 1, report.Deleted)
	require.Len(t, got, 1)
}

func TestRetentionCronRejectsBadSchedule(t *testing.T) {
	rc := NewRetentionCron(&Reaper{Dir: t.TempDir(), Retention: time.Hour}, "every hour please", nil)
	assert.Error(t, rc.Start())
	assert.False(t, rc.IsRunning())
	rc.Stop()
}

func TestRetentionCronRestartSchedulesOnce(t *testing.T) {
	rc := NewRetentionCron(&Reaper{Dir: t.TempDir(), Retention: time.Hour}, "@every 1h", nil)
	require.NoError(t, rc.Start())
	rc.Stop()
	require.NoError(t, rc.Start())
	defer rc.Stop()

	assert.True(t, rc.IsRunning())
	assert.Len(t, rc.cron.Entries(), 1)
}

type nopMuxer struct{ w io.Writer }

func (m *nopMuxer) WriteHeader([]av.CodecData) error { return nil }
func (m *nopMuxer) WritePacket(pkt av.Packet) error {
	_, err := m.w.Write(pkt.Data)
	return err
}
func (m *nopMuxer) WriteTrailer() error { return nil }
