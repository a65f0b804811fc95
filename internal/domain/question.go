package domain

// Question is a single questionnaire item.
type Question struct {
	ID      int64
	GroupID int64
	Text    string
}

// QuestionGroup categorizes questions under a CSS class and a display label.
type QuestionGroup struct {
	ID          int64
	Class       string
	DisplayText string
	Questions   []Question
}
