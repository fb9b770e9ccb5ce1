package domain

import (
	"encoding/json"
	"time"
)

// ActionKind tags each variant of a queued mutation
type ActionKind string

const (
	KindMessage            ActionKind = "message"
	KindExerciseSubmission ActionKind = "exercise_submission"
	KindBook               ActionKind = "book"
	KindLecture            ActionKind = "lecture"
	KindExercise           ActionKind = "exercise"
	KindQuiz               ActionKind = "quiz"
	KindSyncRecord         ActionKind = "sync"
)

// Action is a write made while offline, bound to the endpoint that accepts it.
// Each variant carries its own typed payload.
type Action interface {
	Kind() ActionKind
	Endpoint() string
}

// MessageAction is a message composed offline
type MessageAction struct {
	ThreadID    string    `json:"thread_id,omitempty"`
	RecipientID string    `json:"recipient_id,omitempty"`
	Subject     string    `json:"subject,omitempty"`
	Body        string    `json:"body"`
	SentAt      time.Time `json:"sent_at"`
}

func (MessageAction) Kind() ActionKind { return KindMessage }
func (MessageAction) Endpoint() string { return "/offline/sync_messages" }

// Answer is one answered question of a submission
type Answer struct {
	QuestionID string `json:"question_id"`
	Value      string `json:"value"`
}

// ExerciseSubmission is a learner's answer set for an exercise
type ExerciseSubmission struct {
	ExerciseID  string    `json:"exercise_id"`
	AnswerText  string    `json:"answer_text,omitempty"`
	Answers     []Answer  `json:"answers,omitempty"`
	SubmittedAt time.Time `json:"submitted_at"`
}

func (ExerciseSubmission) Kind() ActionKind { return KindExerciseSubmission }
func (ExerciseSubmission) Endpoint() string { return "/offline/sync_exercises" }

// BookDraft is a book authored offline
type BookDraft struct {
	CourseID    string `json:"course_id"`
	Title       string `json:"title"`
	Author      string `json:"author,omitempty"`
	Description string `json:"description,omitempty"`
	FileURL     string `json:"file_url,omitempty"`
}

func (BookDraft) Kind() ActionKind { return KindBook }
func (BookDraft) Endpoint() string { return "/books" }

// LectureDraft is a lecture authored offline
type LectureDraft struct {
	CourseID    string `json:"course_id"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	ContentURL  string `json:"content_url,omitempty"`
}

func (LectureDraft) Kind() ActionKind { return KindLecture }
func (LectureDraft) Endpoint() string { return "/lectures" }

// QuestionDraft is a question inside an authored exercise or quiz
type QuestionDraft struct {
	Text    string   `json:"text"`
	Choices []string `json:"choices,omitempty"`
	Answer  string   `json:"answer,omitempty"`
}

// ExerciseDraft is an exercise authored offline, questions included
type ExerciseDraft struct {
	CourseID    string          `json:"course_id"`
	Title       string          `json:"title"`
	Description string          `json:"description,omitempty"`
	Questions   []QuestionDraft `json:"questions"`
}

func (ExerciseDraft) Kind() ActionKind { return KindExercise }
func (ExerciseDraft) Endpoint() string { return "/exercises/full" }

// QuizDraft is a quiz authored offline
type QuizDraft struct {
	CourseID    string          `json:"course_id"`
	Title       string          `json:"title"`
	Description string          `json:"description,omitempty"`
	Deadline    *time.Time      `json:"deadline,omitempty"`
	Questions   []QuestionDraft `json:"questions"`
}

func (QuizDraft) Kind() ActionKind { return KindQuiz }
func (QuizDraft) Endpoint() string { return "/quizzes" }

// SyncRecord is a generic record delivered to /api/sync/<type>
type SyncRecord struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

func (SyncRecord) Kind() ActionKind   { return KindSyncRecord }
func (r SyncRecord) Endpoint() string { return "/api/sync/" + r.Type }

// QueuedAction is an Action waiting for delivery
type QueuedAction struct {
	ID            string
	Action        Action
	CreatedAt     time.Time
	RetryCount    int
	NextAttemptAt time.Time // zero means due now
	LastError     string
}
