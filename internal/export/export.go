// Package export writes the computed speaker offsets to a CSV table.
//
// Channels are surfaced 1-indexed to match the numbering on the
// physical speakers, even though the registry is 0-indexed internally.
package export

import (
	"encoding/csv"
	"fmt"
	"os"
	"sort"
	"strconv"
	"time"
)

// filenameStamp matches the session file naming of earlier versions of
// the tool, e.g. speaker_offsets_2026_Aug_27_1405.csv.
const filenameStamp = "2006_Jan_02_1504"

// Filename returns the timestamped default export file name.
func Filename(now time.Time) string {
	return "speaker_offsets_" + now.Format(filenameStamp) + ".csv"
}

// WriteOffsets writes a two-column channel/offset table to path.
// Uncalibrated channels get an empty offset cell. Channels are written
// in ascending order, 1-indexed.
func WriteOffsets(path string, offsets map[int]*float64) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create export file: %w", err)
	}

	channels := make([]int, 0, len(offsets))
	for ch := range offsets {
		channels = append(channels, ch)
	}
	sort.Ints(channels)

	w := csv.NewWriter(f)
	if err := w.Write([]string{"channel", "offset"}); err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to write export header: %w", err)
	}
	for _, ch := range channels {
		offset := ""
		if v := offsets[ch]; v != nil {
			offset = strconv.FormatFloat(*v, 'f', 1, 64)
		}
		record := []string{strconv.Itoa(ch + 1), offset}
		if err := w.Write(record); err != nil {
			_ = f.Close()
			return fmt.Errorf("failed to write offset for channel %d: %w", ch+1, err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to flush export file: %w", err)
	}
	return f.Close()
}
