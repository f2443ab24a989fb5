package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"event-coordinator/core/config"
	"event-coordinator/modules/coordination/entity"
	eventEntity "event-coordinator/modules/event/entity"
	integrationDto "event-coordinator/modules/integration/dto"

	"github.com/google/uuid"
)

type fakeMessenger struct {
	prompts       []integrationDto.ParticipantPrompt
	promptErr     error
	threadNotes   []string
	announcements []integrationDto.Announcement
	announceErr   error
	organizerDMs  []string
}

func (f *fakeMessenger) SendParticipantPrompt(ctx context.Context, prompt integrationDto.ParticipantPrompt) error {
	if f.promptErr != nil {
		return f.promptErr
	}
	f.prompts = append(f.prompts, prompt)
	return nil
}

func (f *fakeMessenger) PostThreadUpdate(ctx context.Context, channelID, threadTS, text string) (string, error) {
	f.threadNotes = append(f.threadNotes, text)
	return "1700000000.000100", nil
}

func (f *fakeMessenger) Announce(ctx context.Context, a integrationDto.Announcement) (string, error) {
	if f.announceErr != nil {
		return "", f.announceErr
	}
	f.announcements = append(f.announcements, a)
	return "1700000000.000200", nil
}

func (f *fakeMessenger) NotifyOrganizer(ctx context.Context, userRef, text string) error {
	f.organizerDMs = append(f.organizerDMs, text)
	return nil
}

func participantSnapshot(now time.Time, statuses ...eventEntity.ParticipantStatus) *Snapshot {
	title := "Team dinner: kickoff"
	event := &eventEntity.Event{
		ID:      uuid.New(),
		Kind:    eventEntity.EventKindDining,
		Purpose: "kickoff",
		Title:   &title,
		Status:  eventEntity.EventStatusCollectingParticipants,
	}
	participants := make([]eventEntity.Participant, 0, len(statuses))
	for i, status := range statuses {
		participants = append(participants, eventEntity.Participant{
			ID:      uuid.New(),
			EventID: event.ID,
			UserRef: "U" + string(rune('A'+i)),
			Status:  status,
		})
	}
	return &Snapshot{
		Event:        event,
		Participants: participants,
		Session: &entity.CoordinationSession{
			ID:           uuid.New(),
			EventID:      event.ID,
			CurrentPhase: entity.PhaseCollectingParticipants,
		},
		Workflow: &entity.WorkflowData{SchemaVersion: 1},
		Now:      now,
	}
}

func participantConfig() config.CoordinationConfig {
	return config.CoordinationConfig{
		Quorum:              2,
		ParticipantDeadline: 24 * time.Hour,
		ReminderInterval:    4 * time.Hour,
		MaxReminders:        2,
		SearchHorizonDays:   14,
	}
}

func TestParticipantWorkerPromptsAndSuspends(t *testing.T) {
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	messenger := &fakeMessenger{}
	worker := NewParticipantWorker(participantConfig(), messenger)

	snap := participantSnapshot(now,
		eventEntity.ParticipantStatusPending,
		eventEntity.ParticipantStatusPending,
		eventEntity.ParticipantStatusPending,
	)

	result, err := worker.Execute(context.Background(), snap)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Outcome != OutcomeSuspend {
		t.Fatalf("outcome = %s, want suspend", result.Outcome)
	}
	if len(messenger.prompts) != 3 {
		t.Errorf("prompts sent = %d, want 3", len(messenger.prompts))
	}
	if result.Deadline == nil || !result.Deadline.Equal(now.Add(24*time.Hour)) {
		t.Errorf("deadline = %v, want %v", result.Deadline, now.Add(24*time.Hour))
	}
	if !result.ParticipantsDirty {
		t.Error("contact markers must be persisted")
	}
	for _, p := range snap.Participants {
		if p.LastContactedAt == nil {
			t.Errorf("participant %s was not marked contacted", p.UserRef)
		}
	}
}

func TestParticipantWorkerDoesNotRepromptContacted(t *testing.T) {
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	messenger := &fakeMessenger{}
	worker := NewParticipantWorker(participantConfig(), messenger)

	snap := participantSnapshot(now, eventEntity.ParticipantStatusPending)
	contacted := now.Add(-time.Hour)
	snap.Participants[0].LastContactedAt = &contacted
	deadline := now.Add(23 * time.Hour)
	snap.Session.DeadlineAt = &deadline

	result, err := worker.Execute(context.Background(), snap)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Outcome != OutcomeSuspend {
		t.Fatalf("outcome = %s, want suspend", result.Outcome)
	}
	if len(messenger.prompts) != 0 {
		t.Errorf("prompts sent = %d, want 0 (contacted an hour ago, reminder not due)", len(messenger.prompts))
	}
}

func TestParticipantWorkerSendsReminder(t *testing.T) {
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	messenger := &fakeMessenger{}
	worker := NewParticipantWorker(participantConfig(), messenger)

	snap := participantSnapshot(now, eventEntity.ParticipantStatusPending)
	contacted := now.Add(-5 * time.Hour)
	snap.Participants[0].LastContactedAt = &contacted
	deadline := now.Add(19 * time.Hour)
	snap.Session.DeadlineAt = &deadline

	result, err := worker.Execute(context.Background(), snap)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Outcome != OutcomeSuspend {
		t.Fatalf("outcome = %s, want suspend", result.Outcome)
	}
	if len(messenger.prompts) != 1 {
		t.Fatalf("prompts sent = %d, want 1 reminder", len(messenger.prompts))
	}
	if messenger.prompts[0].ReplyHint == "" {
		t.Error("reminder prompt should carry a reply hint")
	}
	if snap.Participants[0].RemindersSent != 1 {
		t.Errorf("reminders sent = %d, want 1", snap.Participants[0].RemindersSent)
	}
}

func TestParticipantWorkerStopsRemindingAtCap(t *testing.T) {
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	messenger := &fakeMessenger{}
	worker := NewParticipantWorker(participantConfig(), messenger)

	snap := participantSnapshot(now, eventEntity.ParticipantStatusPending)
	contacted := now.Add(-20 * time.Hour)
	reminded := now.Add(-5 * time.Hour)
	snap.Participants[0].LastContactedAt = &contacted
	snap.Participants[0].LastRemindedAt = &reminded
	snap.Participants[0].RemindersSent = 2
	deadline := now.Add(4 * time.Hour)
	snap.Session.DeadlineAt = &deadline

	if _, err := worker.Execute(context.Background(), snap); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(messenger.prompts) != 0 {
		t.Errorf("prompts sent = %d, want 0 (reminder cap reached)", len(messenger.prompts))
	}
}

func TestParticipantWorkerAdvancesWhenAllReplied(t *testing.T) {
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	messenger := &fakeMessenger{}
	worker := NewParticipantWorker(participantConfig(), messenger)

	snap := participantSnapshot(now,
		eventEntity.ParticipantStatusConfirmed,
		eventEntity.ParticipantStatusConfirmed,
		eventEntity.ParticipantStatusDeclined,
	)
	deadline := now.Add(12 * time.Hour)
	snap.Session.DeadlineAt = &deadline

	result, err := worker.Execute(context.Background(), snap)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Outcome != OutcomeAdvance {
		t.Fatalf("outcome = %s, want advance", result.Outcome)
	}
	if snap.Session.DeadlineAt != nil {
		t.Error("deadline should be cleared on advance")
	}
}

func TestParticipantWorkerDeadlineMarksNoResponse(t *testing.T) {
	now := time.Date(2026, 3, 3, 10, 0, 0, 0, time.UTC)
	messenger := &fakeMessenger{}
	worker := NewParticipantWorker(participantConfig(), messenger)

	snap := participantSnapshot(now,
		eventEntity.ParticipantStatusConfirmed,
		eventEntity.ParticipantStatusConfirmed,
		eventEntity.ParticipantStatusPending,
	)
	contacted := now.Add(-26 * time.Hour)
	for i := range snap.Participants {
		snap.Participants[i].LastContactedAt = &contacted
	}
	deadline := now.Add(-time.Hour)
	snap.Session.DeadlineAt = &deadline

	result, err := worker.Execute(context.Background(), snap)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Outcome != OutcomeAdvance {
		t.Fatalf("outcome = %s, want advance", result.Outcome)
	}
	if snap.Participants[2].Status != eventEntity.ParticipantStatusNoResponse {
		t.Errorf("pending participant status = %s, want no_response", snap.Participants[2].Status)
	}
}

func TestParticipantWorkerEscalatesBelowQuorum(t *testing.T) {
	now := time.Date(2026, 3, 3, 10, 0, 0, 0, time.UTC)
	messenger := &fakeMessenger{}
	worker := NewParticipantWorker(participantConfig(), messenger)

	snap := participantSnapshot(now,
		eventEntity.ParticipantStatusConfirmed,
		eventEntity.ParticipantStatusDeclined,
		eventEntity.ParticipantStatusDeclined,
	)
	deadline := now.Add(-time.Hour)
	snap.Session.DeadlineAt = &deadline

	result, err := worker.Execute(context.Background(), snap)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Outcome != OutcomeFallback {
		t.Fatalf("outcome = %s, want fallback", result.Outcome)
	}
	if result.Reason == "" {
		t.Error("fallback reason should be recorded")
	}
	if snap.Workflow.Manual == nil || snap.Workflow.Manual.Phase != entity.PhaseCollectingParticipants {
		t.Fatalf("manual resolution = %+v, want collecting phase", snap.Workflow.Manual)
	}
}

func TestParticipantWorkerWaivedQuorumAdvances(t *testing.T) {
	now := time.Date(2026, 3, 3, 10, 0, 0, 0, time.UTC)
	messenger := &fakeMessenger{}
	worker := NewParticipantWorker(participantConfig(), messenger)

	snap := participantSnapshot(now,
		eventEntity.ParticipantStatusConfirmed,
		eventEntity.ParticipantStatusDeclined,
		eventEntity.ParticipantStatusDeclined,
	)
	snap.Workflow.QuorumWaived = true
	deadline := now.Add(-time.Hour)
	snap.Session.DeadlineAt = &deadline

	result, err := worker.Execute(context.Background(), snap)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Outcome != OutcomeAdvance {
		t.Fatalf("outcome = %s, want advance with the organizer's waiver", result.Outcome)
	}
}

func TestParticipantWorkerRetriesOnPromptFailure(t *testing.T) {
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	messenger := &fakeMessenger{promptErr: errors.New("ratelimited")}
	worker := NewParticipantWorker(participantConfig(), messenger)

	snap := participantSnapshot(now, eventEntity.ParticipantStatusPending)

	result, err := worker.Execute(context.Background(), snap)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Outcome != OutcomeRetry {
		t.Errorf("outcome = %s, want retry", result.Outcome)
	}
}
