package questionnaire

import (
	"context"
	"encoding/json"
	"fmt"

	"log/slog"

	"github.com/google/uuid"

	"github.com/ramsesoriginal/sat-tool/internal/repository"
	"github.com/ramsesoriginal/sat-tool/internal/ws"
)

// ChangeTopic is the hub topic question change events are broadcast on.
const ChangeTopic = "questionnaire"

// Service reads and mutates the questionnaire structure and streams change
// events to subscribed editors.
type Service struct {
	repo   repository.QuestionnaireRepository
	hub    *ws.Hub
	logger *slog.Logger
}

// New constructs a questionnaire service.
func New(repo repository.QuestionnaireRepository, hub *ws.Hub, logger *slog.Logger) Service {
	return Service{repo: repo, hub: hub, logger: logger}
}

// Question is the wire representation of a single question.
type Question struct {
	ID   int64  `json:"question_id"`
	Text string `json:"question_text"`
}

// QuestionGroup is the wire representation of a question group.
type QuestionGroup struct {
	Class       string     `json:"group_class"`
	DisplayText string     `json:"display_text"`
	Questions   []Question `json:"questions"`
}

// Questionnaire is the nested structure served to frontends.
type Questionnaire struct {
	QuestionGroups []QuestionGroup `json:"question_groups"`
}

// ChangeEvent describes a questionnaire mutation on the change stream.
type ChangeEvent struct {
	EventID  string    `json:"event_id"`
	Kind     string    `json:"kind"`
	Question *Question `json:"question,omitempty"`
	GroupID  int64     `json:"group_id,omitempty"`
}

// Get assembles the full questionnaire.
func (s Service) Get(ctx context.Context) (*Questionnaire, error) {
	groups, err := s.repo.ListQuestionGroups(ctx)
	if err != nil {
		return nil, fmt.Errorf("list question groups: %w", err)
	}
	result := &Questionnaire{QuestionGroups: make([]QuestionGroup, 0, len(groups))}
	for _, group := range groups {
		wireGroup := QuestionGroup{
			Class:       group.Class,
			DisplayText: group.DisplayText,
			Questions:   make([]Question, 0, len(group.Questions)),
		}
		for _, q := range group.Questions {
			wireGroup.Questions = append(wireGroup.Questions, Question{ID: q.ID, Text: q.Text})
		}
		result.QuestionGroups = append(result.QuestionGroups, wireGroup)
	}
	return result, nil
}

// Update rewrites a question's text. Returns repository.ErrNotFound when the
// question does not exist.
func (s Service) Update(ctx context.Context, questionID int64, text string) (*Question, error) {
	updated, err := s.repo.UpdateQuestionText(ctx, questionID, text)
	if err != nil {
		return nil, err
	}
	question := &Question{ID: updated.ID, Text: updated.Text}
	s.broadcast(ChangeEvent{Kind: "updated", Question: question, GroupID: updated.GroupID})
	s.logger.Info("question updated", "question_id", updated.ID)
	return question, nil
}

// Create inserts a new question into a group. A missing group surfaces as
// repository.ErrNotFound.
func (s Service) Create(ctx context.Context, groupID int64, text string) (*Question, error) {
	created, err := s.repo.CreateQuestion(ctx, groupID, text)
	if err != nil {
		return nil, err
	}
	question := &Question{ID: created.ID, Text: created.Text}
	s.broadcast(ChangeEvent{Kind: "created", Question: question, GroupID: created.GroupID})
	s.logger.Info("question created", "question_id", created.ID, "group_id", created.GroupID)
	return question, nil
}

// Delete removes a question by id.
func (s Service) Delete(ctx context.Context, questionID int64) error {
	if err := s.repo.DeleteQuestion(ctx, questionID); err != nil {
		return err
	}
	s.broadcast(ChangeEvent{Kind: "deleted", Question: &Question{ID: questionID}})
	s.logger.Info("question deleted", "question_id", questionID)
	return nil
}

// Hub exposes the change stream hub for the websocket handler.
func (s Service) Hub() *ws.Hub {
	return s.hub
}

func (s Service) broadcast(event ChangeEvent) {
	if s.hub == nil {
		return
	}
	event.EventID = uuid.NewString()
	payload, err := json.Marshal(event)
	if err != nil {
		s.logger.Warn("failed to marshal change event", "error", err)
		return
	}
	s.hub.Broadcast(ChangeTopic, payload)
}
