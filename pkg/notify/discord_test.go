package notify

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"personafeed/pkg/scheduler"
)

type mockSession struct {
	ChannelMessageSendFunc func(channelID string, content string, options ...discordgo.RequestOption) (*discordgo.Message, error)
	sent                   []string
	channels               []string
}

func (m *mockSession) ChannelMessageSend(channelID string, content string, options ...discordgo.RequestOption) (*discordgo.Message, error) {
	m.channels = append(m.channels, channelID)
	m.sent = append(m.sent, content)
	if m.ChannelMessageSendFunc != nil {
		return m.ChannelMessageSendFunc(channelID, content, options...)
	}
	return &discordgo.Message{}, nil
}

func sampleReport() *scheduler.Report {
	start := time.Date(2024, 10, 31, 9, 0, 0, 0, time.UTC)
	return &scheduler.Report{
		StartedAt:  start,
		FinishedAt: start.Add(5*time.Minute + 12*time.Second),
		Eligible:   4,
		Considered: 3,
		Posted:     1,
		Skipped:    1,
		Failed:     1,
		Entries: []scheduler.Entry{
			{PersonaName: "ada", Result: scheduler.ResultPosted, Mode: "threaded_reply", Detail: "post-1"},
			{PersonaName: "bob", Result: scheduler.ResultSkipped, Detail: "budget"},
			{PersonaName: "cy", Result: scheduler.ResultFailed, Detail: "stage generate_text: timeout"},
		},
	}
}

func TestFormatReport(t *testing.T) {
	got := FormatReport(sampleReport())
	want := strings.Join([]string{
		"**Batch run** 2024-10-31 09:00 UTC (5m12s)",
		"Eligible 4 · Posted 1 · Skipped 1 · Failed 1",
		"- ada: posted threaded_reply",
		"- bob: skipped (budget)",
		"- cy: failed (stage generate_text: timeout)",
	}, "\n")
	assert.Equal(t, want, got)
}

func TestFormatReport_Truncates(t *testing.T) {
	r := sampleReport()
	for i := 0; i < 200; i++ {
		r.Entries = append(r.Entries, scheduler.Entry{PersonaName: strings.Repeat("x", 30), Result: scheduler.ResultFailed, Detail: "boom"})
	}
	got := FormatReport(r)
	assert.LessOrEqual(t, len(got), maxMessageLength)
	assert.True(t, strings.HasSuffix(got, "…"))
}

func TestNotifyBatch(t *testing.T) {
	session := &mockSession{}
	d := NewDiscord(session, "chan-1")

	require.NoError(t, d.NotifyBatch(context.Background(), sampleReport()))
	assert.Equal(t, []string{"chan-1"}, session.channels)
	assert.Contains(t, session.sent[0], "Posted 1")

	session.ChannelMessageSendFunc = func(channelID string, content string, options ...discordgo.RequestOption) (*discordgo.Message, error) {
		return nil, errors.New("HTTP 403 Forbidden")
	}
	assert.Error(t, d.NotifyBatch(context.Background(), sampleReport()))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, d.NotifyBatch(ctx, sampleReport()), context.Canceled)
	assert.Len(t, session.sent, 2)
}
