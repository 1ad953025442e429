package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	balancer "github.com/hearlab/speaker-balancer"
	"github.com/hearlab/speaker-balancer/internal/session"
)

const helpText = `Commands (channels are 1-indexed):
  devices              list playback devices
  play N               present the stimulus through speaker N
  sweep                present through every speaker in order
  stop                 cancel a running sweep
  submit N LEVEL       record the meter reading for speaker N
  offsets              show the current offset table
  missing              list speakers without an offset
  calibrate            play the calibration stimulus
  calsubmit LEVEL      record the calibration meter reading
  set duration SECS    change the stimulus duration
  set level DBFS       change the presentation level
  save [FILE]          export offsets to CSV
  help                 show this text
  quit                 exit`

// prompt runs the interactive command loop until EOF or quit.
func prompt(s *session.Session, configPath string) error {
	fmt.Println("speaker-balancer ready; type \"help\" for commands.")

	var sweepCancel context.CancelFunc
	defer func() {
		if sweepCancel != nil {
			sweepCancel()
		}
	}()

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			return scanner.Err()
		}
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}
		cmd, args := fields[0], fields[1:]

		var err error
		switch cmd {
		case "help":
			fmt.Println(helpText)
		case "devices":
			err = cmdDevices(s)
		case "play":
			err = cmdPlay(s, args)
		case "sweep":
			sweepCancel, err = cmdSweep(s, sweepCancel)
		case "stop":
			if sweepCancel != nil {
				sweepCancel()
				sweepCancel = nil
			} else {
				fmt.Println("no sweep running")
			}
		case "submit":
			err = cmdSubmit(s, args)
		case "offsets":
			cmdOffsets(s)
		case "missing":
			cmdMissing(s)
		case "calibrate":
			err = s.PlayCalibration(context.Background())
		case "calsubmit":
			err = cmdCalSubmit(s, args, configPath)
		case "set":
			err = cmdSet(s, args, configPath)
		case "save":
			err = cmdSave(s, args, scanner)
		case "quit", "exit":
			return nil
		default:
			fmt.Printf("unknown command %q; type \"help\"\n", cmd)
		}
		if err != nil {
			fmt.Println("error:", userMessage(err))
		}
	}
}

// userMessage rewrites internal errors into operator-facing advice
// where there is a known recovery.
func userMessage(err error) string {
	if errors.Is(err, balancer.ErrNoReference) {
		return "no reference level yet: submit a reading for speaker 1 first"
	}
	if errors.Is(err, session.ErrSweepRunning) {
		return "a sweep is already running; \"stop\" it first"
	}
	return err.Error()
}

// parseChannel converts a 1-indexed prompt argument into the
// registry's 0-indexed channel.
func parseChannel(s *session.Session, arg string) (int, error) {
	n, err := strconv.Atoi(arg)
	if err != nil {
		return 0, fmt.Errorf("bad speaker number %q", arg)
	}
	numSpeakers := s.Settings().NumSpeakers
	if n < 1 || n > numSpeakers {
		return 0, fmt.Errorf("speaker %d out of range 1..%d", n, numSpeakers)
	}
	return n - 1, nil
}

func cmdDevices(s *session.Session) error {
	devices, err := s.Devices(context.Background())
	if err != nil {
		return err
	}
	for _, d := range devices {
		marker := " "
		if d.IsDefault {
			marker = "*"
		}
		fmt.Printf("%s %2d  %s\n", marker, d.Index, d.Name)
	}
	return nil
}

func cmdPlay(s *session.Session, args []string) error {
	if len(args) != 1 {
		return errors.New("usage: play N")
	}
	channel, err := parseChannel(s, args[0])
	if err != nil {
		return err
	}
	return s.PlayChannel(context.Background(), channel)
}

func cmdSweep(s *session.Session, prev context.CancelFunc) (context.CancelFunc, error) {
	if prev != nil {
		prev()
	}
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		err := s.RunSweep(ctx)
		switch {
		case err == nil:
			fmt.Println("\nsweep finished")
		case errors.Is(err, context.Canceled):
			fmt.Println("\nsweep stopped")
		case errors.Is(err, session.ErrSweepRunning):
			fmt.Println("\n" + userMessage(err))
		default:
			fmt.Println("\nsweep failed:", err)
		}
	}()
	return cancel, nil
}

func cmdSubmit(s *session.Session, args []string) error {
	if len(args) != 2 {
		return errors.New("usage: submit N LEVEL")
	}
	channel, err := parseChannel(s, args[0])
	if err != nil {
		return err
	}
	level, err := strconv.ParseFloat(args[1], 64)
	if err != nil {
		return fmt.Errorf("bad meter reading %q", args[1])
	}
	offset, err := s.Submit(channel, level)
	if err != nil {
		return err
	}
	fmt.Printf("speaker %d: offset %.1f dB\n", channel+1, offset)
	if stale := s.Stale(); len(stale) > 0 {
		fmt.Printf("note: reference changed; re-run speakers %s\n", formatChannels(stale))
	}
	return nil
}

func cmdOffsets(s *session.Session) {
	offsets := s.Offsets()
	channels := make([]int, 0, len(offsets))
	for ch := range offsets {
		channels = append(channels, ch)
	}
	sort.Ints(channels)

	stale := map[int]bool{}
	for _, ch := range s.Stale() {
		stale[ch] = true
	}

	fmt.Println("speaker  offset")
	for _, ch := range channels {
		value := "-"
		if v := offsets[ch]; v != nil {
			value = fmt.Sprintf("%.1f dB", *v)
		}
		note := ""
		if stale[ch] {
			note = "  (stale reference)"
		}
		fmt.Printf("%7d  %s%s\n", ch+1, value, note)
	}
}

func cmdMissing(s *session.Session) {
	missing := s.Missing()
	if len(missing) == 0 {
		fmt.Println("all speakers have offsets")
		return
	}
	fmt.Printf("missing offsets for speakers %s\n", formatChannels(missing))
}

func cmdCalSubmit(s *session.Session, args []string, configPath string) error {
	if len(args) != 1 {
		return errors.New("usage: calsubmit LEVEL")
	}
	level, err := strconv.ParseFloat(args[0], 64)
	if err != nil {
		return fmt.Errorf("bad meter reading %q", args[0])
	}
	s.RecordCalReading(level)
	cal := s.Calibration()
	fmt.Printf("chain offset %.1f dB; %.1f dB SPL needs %.1f dB FS\n",
		cal.Offset(),
		s.Settings().DesiredLevelDB,
		s.PresentationLevel(s.Settings().DesiredLevelDB))
	return s.Settings().Save(configPath)
}

func cmdSet(s *session.Session, args []string, configPath string) error {
	if len(args) != 2 {
		return errors.New("usage: set duration|level VALUE")
	}
	value, err := strconv.ParseFloat(args[1], 64)
	if err != nil {
		return fmt.Errorf("bad value %q", args[1])
	}

	cfg := s.Settings()
	switch args[0] {
	case "duration":
		err = s.SetPresentation(value, cfg.LevelDBFS)
	case "level":
		err = s.SetPresentation(cfg.DurationSec, value)
	default:
		return fmt.Errorf("unknown setting %q", args[0])
	}
	if err != nil {
		return err
	}
	return s.Settings().Save(configPath)
}

func cmdSave(s *session.Session, args []string, scanner *bufio.Scanner) error {
	if missing := s.Missing(); len(missing) > 0 {
		fmt.Printf("speakers %s have no offset; save anyway? [y/N] ", formatChannels(missing))
		if !scanner.Scan() || !strings.EqualFold(strings.TrimSpace(scanner.Text()), "y") {
			fmt.Println("save cancelled")
			return nil
		}
	}

	path := s.ExportPath(time.Now())
	if len(args) == 1 {
		path = args[0]
	}
	if err := s.Save(path); err != nil {
		return err
	}
	fmt.Println("offsets written to", path)
	return nil
}

// formatChannels renders 0-indexed channels as a 1-indexed list.
func formatChannels(channels []int) string {
	parts := make([]string, len(channels))
	for i, ch := range channels {
		parts[i] = strconv.Itoa(ch + 1)
	}
	return strings.Join(parts, ", ")
}
