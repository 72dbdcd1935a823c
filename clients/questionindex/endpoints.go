package questionindex

// Typesense-compatible search API surface.
const (
	APIKeyHeader = "X-TYPESENSE-API-KEY"

	questionsCollection = "questions"
	searchEndpoint      = "/collections/" + questionsCollection + "/documents/search"

	// Fields requested from the index. correct_answer stays server-side:
	// this client runs inside the provisioner, behind the trust boundary.
	includeFields = "id,question_text,option_a,option_b,option_c,option_d,option_e," +
		"correct_answer,explanation,image_url,subject_name,topic_name,grade,difficulty"
)
