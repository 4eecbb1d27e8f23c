package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/guptarohit/asciigraph"
	"github.com/nsf/termbox-go"

	"wavefront/internal/engine"
	"wavefront/sim"
)

const (
	colDef    = termbox.ColorDefault
	colWhite  = termbox.ColorWhite
	colRed    = termbox.ColorRed
	colGreen  = termbox.ColorGreen
	colYellow = termbox.ColorYellow
	colCyan   = termbox.ColorCyan

	plotHeight = 10
)

type TUIState struct {
	runner      *engine.Runner
	selectedMic int
	exit        bool
	message     string
}

func runTUI(ctx context.Context, runner *engine.Runner) error {
	if err := termbox.Init(); err != nil {
		return fmt.Errorf("failed to initialize TUI: %w", err)
	}
	defer termbox.Close()

	termbox.SetInputMode(termbox.InputEsc)

	state := &TUIState{runner: runner}

	eventQueue := make(chan termbox.Event)

	go func() {
		for {
			eventQueue <- termbox.PollEvent()
		}
	}()

	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	draw(state)

	for !state.exit {
		select {
		case <-ctx.Done():
			return nil
		case ev := <-eventQueue:
			switch ev.Type {
			case termbox.EventKey:
				handleKey(ev, state)
			case termbox.EventResize:
				draw(state)
			}
		case <-ticker.C:
			draw(state)
		}
	}

	return nil
}

func handleKey(ev termbox.Event, s *TUIState) {
	if ev.Key == termbox.KeyEsc || ev.Ch == 'q' {
		s.exit = true
		return
	}

	sm := s.runner.Sim()

	switch {
	case ev.Key == termbox.KeySpace:
		if s.runner.Toggle() {
			s.message = "running"
		} else {
			s.message = "paused"
		}
	case ev.Ch == 'r':
		sm.Reset()
		s.message = "reset"
	case ev.Ch == 'c':
		sm.ClearMicrophoneRecords()
		s.message = "records cleared"
	case ev.Ch == 'p':
		on := !sm.Plotting()
		sm.SetPlotting(on)
		s.message = fmt.Sprintf("recording %s", onOff(on))
	case ev.Key == termbox.KeyArrowUp:
		s.selectedMic--
	case ev.Key == termbox.KeyArrowDown:
		s.selectedMic++
	}

	if n := len(sm.Microphones()); n > 0 {
		s.selectedMic = (s.selectedMic%n + n) % n
	} else {
		s.selectedMic = 0
	}
}

func onOff(b bool) string {
	if b {
		return "on"
	}

	return "off"
}

func draw(state *TUIState) {
	_ = termbox.Clear(colDef, colDef)

	w, _ := termbox.Size()
	sm := state.runner.Sim()
	st := sm.Status()

	// Header
	printTB(0, 0, colCyan, colDef, "wavefront - 2D TLM acoustic simulation")
	printTB(0, 1, colDef, colDef, "Space run/pause, r reset, c clear, p record, Up/Down select mic, q quit")
	printTB(0, 2, colDef, colDef, strings.Repeat("-", min(w, 72)))

	run := "paused"
	runCol := colYellow

	if state.runner.Running() {
		run, runCol = "running", colGreen
	}

	printTB(0, 4, runCol, colDef, fmt.Sprintf("%-8s", run))
	printTB(10, 4, colWhite, colDef, fmt.Sprintf("tick %d   t = %.6f s   dt = %.3g s", st.Tick, st.Time, st.DeltaT))
	printTB(0, 5, colWhite, colDef, fmt.Sprintf("grid %dx%d + %d   sources %d   walls %d   recording %s   energy %.4g",
		st.Width, st.Height, st.Boundary, st.Sources, st.Walls, onOff(st.Plotting), sm.Energy()))

	if state.message != "" {
		printTB(0, 6, colYellow, colDef, state.message)
	}

	// Metering
	meterY := 8
	printTB(0, meterY, colYellow, colDef, "Microphones:")

	levels := state.runner.Levels()
	if len(levels) == 0 {
		printTB(2, meterY+1, colDef, colDef, "(none)")
	}

	for i, l := range levels {
		label := fmt.Sprintf("#%-4d", l.ID)
		if i == state.selectedMic {
			label = ">" + label[:len(label)-1]
		}

		drawMeter(meterY+1+i, label, l.DB, colGreen)
	}

	plotY := meterY + 2 + len(levels)

	if state.selectedMic < len(levels) {
		drawTrace(state, levels[state.selectedMic].ID, plotY, w)
	}

	termbox.Flush()
}

// drawTrace plots the newest samples of a microphone.
func drawTrace(state *TUIState, id sim.ID, y, w int) {
	width := max(w-12, 10)

	rec, ok := state.runner.Sim().MicrophoneLast(id, width)
	if !ok || len(rec) < 2 {
		return
	}

	plot := asciigraph.Plot(trace(rec),
		asciigraph.Height(plotHeight),
		asciigraph.Width(width),
		asciigraph.Caption(fmt.Sprintf("microphone %d, last %d samples", id, len(rec))))

	for i, line := range strings.Split(plot, "\n") {
		printTB(0, y+i, colCyan, colDef, line)
	}
}

func trace(rec []sim.Sample) []float64 {
	out := make([]float64, len(rec))
	for i, s := range rec {
		out[i] = float64(s.Pressure)
	}

	return out
}

func drawMeter(yPos int, label string, db float64, color termbox.Attribute) {
	const (
		barWidth = 50
		xPos     = 2
		minDB    = -80.0
		maxDB    = 30.0
	)

	db = min(max(db, minDB), maxDB)

	ratio := (db - minDB) / (maxDB - minDB)
	filled := int(ratio * float64(barWidth))

	printTB(xPos, yPos, colDef, colDef, fmt.Sprintf("%s [%-6.1f dB] ", label, db))

	// Draw bar
	startX := xPos + 18

	for i := range barWidth {
		barChar := '░'
		col := color

		if i < filled {
			barChar = '█'

			if i > barWidth*4/5 {
				col = colRed
			}
		}

		termbox.SetCell(startX+i, yPos, barChar, col, colDef)
	}
}

func printTB(x, y int, fg, bg termbox.Attribute, msg string) {
	for _, c := range msg {
		termbox.SetCell(x, y, c, fg, bg)
		x++
	}
}

// levelSummary formats the levels for headless progress output.
func levelSummary(levels []engine.Level) string {
	parts := make([]string, len(levels))
	for i, l := range levels {
		parts[i] = fmt.Sprintf("mic %d %.1f dB", l.ID, l.DB)
	}

	return strings.Join(parts, ", ")
}
