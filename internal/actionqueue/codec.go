package actionqueue

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/estrateji/satchel/internal/domain"
)

// actionWrapper wraps an Action for JSON serialization
type actionWrapper struct {
	Type       domain.ActionKind          `json:"type"`
	Message    *domain.MessageAction      `json:"message,omitempty"`
	Submission *domain.ExerciseSubmission `json:"submission,omitempty"`
	Book       *domain.BookDraft          `json:"book,omitempty"`
	Lecture    *domain.LectureDraft       `json:"lecture,omitempty"`
	Exercise   *domain.ExerciseDraft      `json:"exercise,omitempty"`
	Quiz       *domain.QuizDraft          `json:"quiz,omitempty"`
	Record     *domain.SyncRecord         `json:"record,omitempty"`
}

// record is the persisted form of a QueuedAction
type record struct {
	ID            string        `json:"id"`
	Action        actionWrapper `json:"action"`
	CreatedAt     time.Time     `json:"created_at"`
	RetryCount    int           `json:"retry_count"`
	NextAttemptAt time.Time     `json:"next_attempt_at"`
	LastError     string        `json:"last_error,omitempty"`
}

func wrapAction(a domain.Action) (actionWrapper, error) {
	switch v := a.(type) {
	case domain.MessageAction:
		return actionWrapper{Type: v.Kind(), Message: &v}, nil
	case domain.ExerciseSubmission:
		return actionWrapper{Type: v.Kind(), Submission: &v}, nil
	case domain.BookDraft:
		return actionWrapper{Type: v.Kind(), Book: &v}, nil
	case domain.LectureDraft:
		return actionWrapper{Type: v.Kind(), Lecture: &v}, nil
	case domain.ExerciseDraft:
		return actionWrapper{Type: v.Kind(), Exercise: &v}, nil
	case domain.QuizDraft:
		return actionWrapper{Type: v.Kind(), Quiz: &v}, nil
	case domain.SyncRecord:
		if v.Type == "" {
			return actionWrapper{}, fmt.Errorf("sync record needs a type")
		}
		return actionWrapper{Type: v.Kind(), Record: &v}, nil
	default:
		return actionWrapper{}, fmt.Errorf("unsupported action %T", a)
	}
}

func unwrapAction(w actionWrapper) (domain.Action, error) {
	switch {
	case w.Type == domain.KindMessage && w.Message != nil:
		return *w.Message, nil
	case w.Type == domain.KindExerciseSubmission && w.Submission != nil:
		return *w.Submission, nil
	case w.Type == domain.KindBook && w.Book != nil:
		return *w.Book, nil
	case w.Type == domain.KindLecture && w.Lecture != nil:
		return *w.Lecture, nil
	case w.Type == domain.KindExercise && w.Exercise != nil:
		return *w.Exercise, nil
	case w.Type == domain.KindQuiz && w.Quiz != nil:
		return *w.Quiz, nil
	case w.Type == domain.KindSyncRecord && w.Record != nil:
		return *w.Record, nil
	default:
		return nil, fmt.Errorf("unknown action type %q", w.Type)
	}
}

func encodeItem(item domain.QueuedAction) (json.RawMessage, error) {
	w, err := wrapAction(item.Action)
	if err != nil {
		return nil, err
	}
	return json.Marshal(record{
		ID:            item.ID,
		Action:        w,
		CreatedAt:     item.CreatedAt,
		RetryCount:    item.RetryCount,
		NextAttemptAt: item.NextAttemptAt,
		LastError:     item.LastError,
	})
}

func decodeItem(raw json.RawMessage) (domain.QueuedAction, error) {
	var r record
	if err := json.Unmarshal(raw, &r); err != nil {
		return domain.QueuedAction{}, err
	}
	a, err := unwrapAction(r.Action)
	if err != nil {
		return domain.QueuedAction{}, fmt.Errorf("item %s: %w", r.ID, err)
	}
	return domain.QueuedAction{
		ID:            r.ID,
		Action:        a,
		CreatedAt:     r.CreatedAt,
		RetryCount:    r.RetryCount,
		NextAttemptAt: r.NextAttemptAt,
		LastError:     r.LastError,
	}, nil
}

// payloadOf is the request body delivered for an action
func payloadOf(a domain.Action) any {
	if r, ok := a.(domain.SyncRecord); ok {
		return r.Data
	}
	return a
}

// ParseAction decodes a payload of the given kind into its typed Action
func ParseAction(kind domain.ActionKind, payload []byte) (domain.Action, error) {
	var a domain.Action
	var err error
	switch kind {
	case domain.KindMessage:
		a, err = decodeAs[domain.MessageAction](payload)
	case domain.KindExerciseSubmission:
		a, err = decodeAs[domain.ExerciseSubmission](payload)
	case domain.KindBook:
		a, err = decodeAs[domain.BookDraft](payload)
	case domain.KindLecture:
		a, err = decodeAs[domain.LectureDraft](payload)
	case domain.KindExercise:
		a, err = decodeAs[domain.ExerciseDraft](payload)
	case domain.KindQuiz:
		a, err = decodeAs[domain.QuizDraft](payload)
	case domain.KindSyncRecord:
		a, err = decodeAs[domain.SyncRecord](payload)
	default:
		return nil, fmt.Errorf("unknown action type %q", kind)
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", kind, err)
	}
	// reject what the queue could not persist
	if _, err := wrapAction(a); err != nil {
		return nil, err
	}
	return a, nil
}

func decodeAs[T domain.Action](payload []byte) (domain.Action, error) {
	var v T
	if err := json.Unmarshal(payload, &v); err != nil {
		return nil, err
	}
	return v, nil
}
