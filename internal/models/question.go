package models

// Question is a multiple-choice question as served to clients. The correct
// answer is intentionally not part of this struct; see AnswerKeyEntry.
type Question struct {
	ID         string `json:"id"`
	Prompt     string `json:"question_text"`
	OptionA    string `json:"option_a"`
	OptionB    string `json:"option_b"`
	OptionC    string `json:"option_c"`
	OptionD    string `json:"option_d"`
	OptionE    string `json:"option_e,omitempty"`
	ImageURL   string `json:"image_url,omitempty"`
	Subject    string `json:"subject_name"`
	Topic      string `json:"topic_name,omitempty"`
	Grade      int    `json:"grade"`
	Difficulty int    `json:"difficulty"`
}

// SourcedQuestion is a question as it arrives from a content source, correct
// answer included. It never crosses the trust boundary toward clients intact.
type SourcedQuestion struct {
	Question
	CorrectAnswer string `json:"correct_answer"`
	Explanation   string `json:"explanation,omitempty"`
}

// Sanitize strips the answer fields off a sourced question.
func (q SourcedQuestion) Sanitize() Question {
	return q.Question
}

// AnswerKeyEntry pairs a question with its correct option. The key is handed
// to clients once, out-of-band of the question list, for local-only answer
// validation. That is a trust boundary, not a security control.
type AnswerKeyEntry struct {
	QuestionID    string `json:"question_id"`
	CorrectAnswer string `json:"correct_answer"`
	Explanation   string `json:"explanation,omitempty"`
}
