package main

import (
	"os"

	tea "github.com/charmbracelet/bubbletea"

	"crbs/internal/pipeline"
	"crbs/internal/ui"
)

// runWithUI runs work while a progress model renders its events. work must
// send every event through the sink it is given.
func runWithUI(title string, subjects []string, stages []pipeline.Stage, work func(pipeline.ProgressSink) error) error {
	events := make(chan pipeline.Event, 256)
	outcome := make(chan error, 1)

	go func() {
		err := work(pipeline.ChannelSink{Ch: events})
		close(events)
		outcome <- err
	}()

	model := ui.NewProgressModel(title, subjects, stages, events)
	program := tea.NewProgram(model, tea.WithOutput(os.Stderr))
	_, uiErr := program.Run()
	// The model may quit early (ctrl+c); keep draining so work never blocks.
	go func() {
		for range events {
		}
	}()
	err := <-outcome
	if uiErr != nil && err == nil {
		return uiErr
	}
	return err
}
