package questionnaire

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/ramsesoriginal/sat-tool/internal/domain"
	"github.com/ramsesoriginal/sat-tool/internal/repository"
	"github.com/ramsesoriginal/sat-tool/internal/ws"
)

type questionnaireRepoStub struct {
	groups     []domain.QuestionGroup
	updateFunc func(ctx context.Context, questionID int64, text string) (*domain.Question, error)
	createFunc func(ctx context.Context, groupID int64, text string) (*domain.Question, error)
	deleteFunc func(ctx context.Context, questionID int64) error
}

func (s *questionnaireRepoStub) ListQuestionGroups(ctx context.Context) ([]domain.QuestionGroup, error) {
	return s.groups, nil
}

func (s *questionnaireRepoStub) UpdateQuestionText(ctx context.Context, questionID int64, text string) (*domain.Question, error) {
	if s.updateFunc != nil {
		return s.updateFunc(ctx, questionID, text)
	}
	return nil, repository.ErrNotFound
}

func (s *questionnaireRepoStub) CreateQuestion(ctx context.Context, groupID int64, text string) (*domain.Question, error) {
	if s.createFunc != nil {
		return s.createFunc(ctx, groupID, text)
	}
	return nil, repository.ErrNotFound
}

func (s *questionnaireRepoStub) DeleteQuestion(ctx context.Context, questionID int64) error {
	if s.deleteFunc != nil {
		return s.deleteFunc(ctx, questionID)
	}
	return repository.ErrNotFound
}

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestGetAssemblesNestedStructure(t *testing.T) {
	repo := &questionnaireRepoStub{
		groups: []domain.QuestionGroup{
			{
				ID:          1,
				Class:       "motivation",
				DisplayText: "Motivation",
				Questions: []domain.Question{
					{ID: 10, GroupID: 1, Text: "Why are you here?"},
					{ID: 11, GroupID: 1, Text: "What drives you?"},
				},
			},
			{ID: 2, Class: "skills", DisplayText: "Skills", Questions: []domain.Question{}},
		},
	}
	svc := New(repo, nil, newLogger())

	got, err := svc.Get(context.Background())
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(got.QuestionGroups) != 2 {
		t.Fatalf("expected 2 groups, got %d", len(got.QuestionGroups))
	}
	first := got.QuestionGroups[0]
	if first.Class != "motivation" || first.DisplayText != "Motivation" {
		t.Fatalf("unexpected first group: %+v", first)
	}
	if len(first.Questions) != 2 || first.Questions[0].ID != 10 {
		t.Fatalf("unexpected questions: %+v", first.Questions)
	}
	if got.QuestionGroups[1].Questions == nil || len(got.QuestionGroups[1].Questions) != 0 {
		t.Fatalf("empty group should serialize with an empty question list")
	}
}

func TestUpdateReturnsUpdatedQuestion(t *testing.T) {
	repo := &questionnaireRepoStub{
		updateFunc: func(_ context.Context, questionID int64, text string) (*domain.Question, error) {
			if questionID != 10 {
				t.Fatalf("unexpected question id: %d", questionID)
			}
			return &domain.Question{ID: questionID, GroupID: 1, Text: text}, nil
		},
	}
	svc := New(repo, nil, newLogger())

	updated, err := svc.Update(context.Background(), 10, "New text")
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.ID != 10 || updated.Text != "New text" {
		t.Fatalf("unexpected result: %+v", updated)
	}
}

func TestUpdateMissingQuestion(t *testing.T) {
	svc := New(&questionnaireRepoStub{}, nil, newLogger())
	if _, err := svc.Update(context.Background(), 999, "text"); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestCreateAssignsGeneratedID(t *testing.T) {
	repo := &questionnaireRepoStub{
		createFunc: func(_ context.Context, groupID int64, text string) (*domain.Question, error) {
			return &domain.Question{ID: 42, GroupID: groupID, Text: text}, nil
		},
	}
	svc := New(repo, nil, newLogger())

	created, err := svc.Create(context.Background(), 1, "Fresh question")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if created.ID != 42 || created.Text != "Fresh question" {
		t.Fatalf("unexpected result: %+v", created)
	}
}

func TestDeleteMissingQuestion(t *testing.T) {
	svc := New(&questionnaireRepoStub{}, nil, newLogger())
	if err := svc.Delete(context.Background(), 7); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestDeleteRemovesQuestion(t *testing.T) {
	var deleted int64
	repo := &questionnaireRepoStub{
		deleteFunc: func(_ context.Context, questionID int64) error {
			deleted = questionID
			return nil
		},
	}
	svc := New(repo, nil, newLogger())

	if err := svc.Delete(context.Background(), 7); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if deleted != 7 {
		t.Fatalf("expected delete of question 7, got %d", deleted)
	}
}

type channelSubscriber struct {
	payloads chan []byte
}

func newChannelSubscriber() *channelSubscriber {
	return &channelSubscriber{payloads: make(chan []byte, 8)}
}

func (c *channelSubscriber) Send(payload []byte) error {
	c.payloads <- payload
	return nil
}

func (c *channelSubscriber) Close() {}

func (c *channelSubscriber) next(t *testing.T) ChangeEvent {
	t.Helper()
	select {
	case payload := <-c.payloads:
		var event ChangeEvent
		if err := json.Unmarshal(payload, &event); err != nil {
			t.Fatalf("decode change event: %v", err)
		}
		return event
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for a change event")
		return ChangeEvent{}
	}
}

func TestMutationsBroadcastChangeEvents(t *testing.T) {
	repo := &questionnaireRepoStub{
		createFunc: func(_ context.Context, groupID int64, text string) (*domain.Question, error) {
			return &domain.Question{ID: 42, GroupID: groupID, Text: text}, nil
		},
		updateFunc: func(_ context.Context, questionID int64, text string) (*domain.Question, error) {
			return &domain.Question{ID: questionID, GroupID: 1, Text: text}, nil
		},
		deleteFunc: func(context.Context, int64) error { return nil },
	}
	hub := ws.NewHub()
	sub := newChannelSubscriber()
	hub.Register(ChangeTopic, sub)
	svc := New(repo, hub, newLogger())

	if _, err := svc.Create(context.Background(), 1, "Fresh question"); err != nil {
		t.Fatalf("create: %v", err)
	}
	event := sub.next(t)
	if event.Kind != "created" {
		t.Fatalf("unexpected kind: %q", event.Kind)
	}
	if event.EventID == "" {
		t.Fatalf("expected an event id")
	}
	if event.Question == nil || event.Question.ID != 42 || event.Question.Text != "Fresh question" {
		t.Fatalf("unexpected question payload: %+v", event.Question)
	}
	if event.GroupID != 1 {
		t.Fatalf("unexpected group id: %d", event.GroupID)
	}

	if _, err := svc.Update(context.Background(), 42, "Reworded"); err != nil {
		t.Fatalf("update: %v", err)
	}
	event = sub.next(t)
	if event.Kind != "updated" {
		t.Fatalf("unexpected kind: %q", event.Kind)
	}
	if event.Question == nil || event.Question.ID != 42 || event.Question.Text != "Reworded" {
		t.Fatalf("unexpected question payload: %+v", event.Question)
	}

	if err := svc.Delete(context.Background(), 42); err != nil {
		t.Fatalf("delete: %v", err)
	}
	event = sub.next(t)
	if event.Kind != "deleted" {
		t.Fatalf("unexpected kind: %q", event.Kind)
	}
	if event.Question == nil || event.Question.ID != 42 {
		t.Fatalf("unexpected question payload: %+v", event.Question)
	}

	select {
	case payload := <-sub.payloads:
		t.Fatalf("unexpected extra event: %s", payload)
	default:
	}
}

func TestFailedMutationsDoNotBroadcast(t *testing.T) {
	hub := ws.NewHub()
	sub := newChannelSubscriber()
	hub.Register(ChangeTopic, sub)
	svc := New(&questionnaireRepoStub{}, hub, newLogger())

	if _, err := svc.Update(context.Background(), 999, "nope"); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := svc.Delete(context.Background(), 999); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	select {
	case payload := <-sub.payloads:
		t.Fatalf("unexpected event after failed mutations: %s", payload)
	case <-time.After(50 * time.Millisecond):
	}
}
